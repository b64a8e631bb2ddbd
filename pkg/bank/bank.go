// Package bank is the devnet token ledger the escrow settles against.
//
// It mimics the token contracts the escrow talks to on a real chain:
// per-asset balances, per-holder viewing keys that gate balance queries, and
// receiver registration so that a transfer to a registered contract is
// followed by a receive notification.
package bank

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/uhyunpark/escrowd/pkg/escrowerr"
	"github.com/uhyunpark/escrowd/pkg/settlement"
	"github.com/uhyunpark/escrowd/pkg/storage"
)

var (
	mon = monkit.Package()

	// Error is the class of bank failures, e.g. insufficient funds.
	Error = errs.Class("bank")
)

type Bank struct {
	logger *zap.SugaredLogger
}

func New(logger *zap.SugaredLogger) *Bank {
	return &Bank{logger: logger}
}

func getAmount(r storage.Reader, key []byte) (*uint256.Int, error) {
	var dec string
	ok, err := storage.GetJSON(r, key, &dec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(dec)
	if err != nil {
		return nil, storage.Error.New("decode balance %q: %v", dec, err)
	}
	return v, nil
}

func setAmount(w storage.Writer, key []byte, v *uint256.Int) error {
	return storage.SetJSON(w, key, v.Dec())
}

// BalanceOf reads a token balance without authentication. Host use only.
func (b *Bank) BalanceOf(r storage.Reader, asset, owner common.Address) (*uint256.Int, error) {
	return getAmount(r, storage.BalanceKey(asset, owner))
}

// Balance answers a viewing-key authenticated balance query.
func (b *Bank) Balance(r storage.Reader, asset, owner common.Address, key string) (*uint256.Int, error) {
	stored, ok, err := r.Get(storage.ViewingKeyKey(asset, owner))
	if err != nil {
		return nil, err
	}
	if !ok || key == "" || string(stored) != key {
		return nil, escrowerr.Unauthorized.New("wrong viewing key for %s on %s", owner.Hex(), asset.Hex())
	}
	return b.BalanceOf(r, asset, owner)
}

// NativeBalance reads a native-denom balance.
func (b *Bank) NativeBalance(r storage.Reader, denom string, owner common.Address) (*uint256.Int, error) {
	return getAmount(r, storage.NativeBalanceKey(denom, owner))
}

// SetViewingKey installs owner's viewing key on asset.
func (b *Bank) SetViewingKey(w storage.Writer, asset, owner common.Address, key string) error {
	return w.Set(storage.ViewingKeyKey(asset, owner), []byte(key))
}

// Mint credits owner. Used for genesis allocations.
func (b *Bank) Mint(rw storage.ReadWriter, asset, owner common.Address, amount *uint256.Int) error {
	return credit(rw, storage.BalanceKey(asset, owner), amount)
}

// MintNative credits a native-denom balance. Used for genesis allocations.
func (b *Bank) MintNative(rw storage.ReadWriter, denom string, owner common.Address, amount *uint256.Int) error {
	return credit(rw, storage.NativeBalanceKey(denom, owner), amount)
}

// Transfer moves amount of asset between holders.
func (b *Bank) Transfer(rw storage.ReadWriter, asset, from, to common.Address, amount *uint256.Int) error {
	if err := debit(rw, storage.BalanceKey(asset, from), amount); err != nil {
		return Error.New("transfer %s of %s from %s: %v", amount.Dec(), asset.Hex(), from.Hex(), err)
	}
	return credit(rw, storage.BalanceKey(asset, to), amount)
}

// SendNative moves a native-denom amount between holders.
func (b *Bank) SendNative(rw storage.ReadWriter, denom string, from, to common.Address, amount *uint256.Int) error {
	if err := debit(rw, storage.NativeBalanceKey(denom, from), amount); err != nil {
		return Error.New("send %s%s from %s: %v", amount.Dec(), denom, from.Hex(), err)
	}
	return credit(rw, storage.NativeBalanceKey(denom, to), amount)
}

// RegisterReceiver marks contract as wanting receive notifications for asset.
func (b *Bank) RegisterReceiver(w storage.Writer, asset, contract common.Address, codeHash string) error {
	return w.Set(storage.ReceiverKey(asset, contract), []byte(codeHash))
}

// IsReceiver reports whether transfers of asset to contract must be followed
// by a receive notification.
func (b *Bank) IsReceiver(r storage.Reader, asset, contract common.Address) (bool, error) {
	_, ok, err := r.Get(storage.ReceiverKey(asset, contract))
	return ok, err
}

// Execute carries out a settlement batch on behalf of its sender, in order.
func (b *Bank) Execute(ctx context.Context, rw storage.ReadWriter, batch *settlement.Batch) (err error) {
	defer mon.Task()(&ctx)(&err)
	for i, req := range batch.Requests {
		switch req.Kind {
		case settlement.KindTransfer:
			err = b.Transfer(rw, req.Asset, batch.Sender, req.Recipient, &req.Amount)
		case settlement.KindNativeSend:
			err = b.SendNative(rw, req.Denom, batch.Sender, req.Recipient, &req.Amount)
		case settlement.KindRegisterReceive:
			err = b.RegisterReceiver(rw, req.Asset, batch.Sender, req.CodeHash)
		case settlement.KindSetViewingKey:
			err = b.SetViewingKey(rw, req.Asset, batch.Sender, req.ViewingKey)
		default:
			err = Error.New("unknown request kind %q", req.Kind)
		}
		if err != nil {
			return settlement.Error.New("request %d (%s): %v", i, req, err)
		}
		b.logger.Debugw("settled", "height", batch.Height, "request", req.String())
	}
	return nil
}

func credit(rw storage.ReadWriter, key []byte, amount *uint256.Int) error {
	bal, err := getAmount(rw, key)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(bal, amount)
	if overflow {
		return escrowerr.ArithmeticOverflow.New("balance %q", key)
	}
	return setAmount(rw, key, sum)
}

func debit(rw storage.ReadWriter, key []byte, amount *uint256.Int) error {
	bal, err := getAmount(rw, key)
	if err != nil {
		return err
	}
	rest, underflow := new(uint256.Int).SubOverflow(bal, amount)
	if underflow {
		return Error.New("insufficient funds: have %s, need %s", bal.Dec(), amount.Dec())
	}
	return setAmount(rw, key, rest)
}
