// Package escrowd is the escrow chain's application: it admits signed
// invocations into the mempool and executes each block's transactions
// against Pebble, one batch per transaction.
package escrowd

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/escrowd/pkg/abci"
	"github.com/uhyunpark/escrowd/pkg/bank"
	"github.com/uhyunpark/escrowd/pkg/escrow"
	"github.com/uhyunpark/escrowd/pkg/escrowerr"
	"github.com/uhyunpark/escrowd/pkg/ledger"
	"github.com/uhyunpark/escrowd/pkg/mempool"
	"github.com/uhyunpark/escrowd/pkg/registry"
	"github.com/uhyunpark/escrowd/pkg/settlement"
	"github.com/uhyunpark/escrowd/pkg/storage"
	"github.com/uhyunpark/escrowd/pkg/transaction"
)

var mon = monkit.Package()

var (
	txCommitted = mon.Counter("tx_committed")
	txRejected  = mon.Counter("tx_rejected")
)

// Options configures an App.
type Options struct {
	Verifier *transaction.Verifier
	Mempool  *mempool.Mempool
	// Outbox stages every committed settlement batch for a settlement.Relay.
	Outbox bool
	WAL    storage.WAL
}

type App struct {
	store    *storage.PebbleStore
	bank     *bank.Bank
	engine   *escrow.Engine
	verifier *transaction.Verifier
	mempool  *mempool.Mempool
	settle   settlement.Chain
	outbox   bool
	wal      storage.WAL
	logger   *zap.SugaredLogger

	mu sync.Mutex
	// pending holds hashes admitted but not yet executed.
	pending map[common.Hash]struct{}
}

func NewApp(store *storage.PebbleStore, opts Options, logger *zap.SugaredLogger) *App {
	b := bank.New(logger.Named("bank"))
	if opts.Mempool == nil {
		opts.Mempool = mempool.NewMempool(0, 0)
	}
	if opts.WAL == nil {
		opts.WAL = storage.NewNopWAL()
	}
	a := &App{
		store:    store,
		bank:     b,
		engine:   escrow.NewEngine(b, logger.Named("escrow")),
		verifier: opts.Verifier,
		mempool:  opts.Mempool,
		settle:   settlement.Chain{b},
		outbox:   opts.Outbox,
		wal:      opts.WAL,
		logger:   logger,
		pending:  make(map[common.Hash]struct{}),
	}
	opts.Mempool.OnEvict = a.evict
	return a
}

// evict forgets a transaction the mempool dropped so it can be resubmitted.
func (a *App) evict(raw []byte) {
	hash := transaction.Hash(raw)
	a.mu.Lock()
	delete(a.pending, hash)
	a.mu.Unlock()
	a.logger.Warnw("tx_evicted", "tx", hash.Hex(), "bytes", len(raw))
}

// Store exposes committed state to read-only callers.
func (a *App) Store() storage.Reader { return a.store }

// PushTx checks the envelope and signature of raw and admits it to the
// mempool. Nonces are checked at execution.
func (a *App) PushTx(raw []byte) (common.Hash, error) {
	hash := transaction.Hash(raw)
	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		return hash, escrowerr.InvalidMessage.New("%v", err)
	}
	if _, err := a.verifier.Verify(tx); err != nil {
		return hash, escrowerr.Unauthorized.New("%v", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, dup := a.pending[hash]; dup {
		return hash, escrowerr.InvalidMessage.New("transaction %s already pending", hash.Hex())
	}
	if err := a.mempool.PushRaw(raw); err != nil {
		if errors.Is(err, mempool.ErrTooLarge) {
			return hash, escrowerr.InvalidMessage.New("%v: %d bytes", err, len(raw))
		}
		return hash, err
	}
	a.pending[hash] = struct{}{}
	return hash, nil
}

func (a *App) PrepareProposal(req abci.RequestPrepareProposal) abci.ResponsePrepareProposal {
	return abci.ResponsePrepareProposal{Txs: a.mempool.SelectForProposal(req.MaxTxBytes)}
}

// FinalizeBlock executes txs in order. Each transaction commits or discards
// independently; the app hash chains the previous hash, the block header
// fields and the write batch of every commit.
func (a *App) FinalizeBlock(req abci.RequestFinalizeBlock) abci.ResponseFinalizeBlock {
	ctx := context.Background()
	defer mon.Task()(&ctx)(nil)

	h := sha3.NewLegacyKeccak256()
	h.Write(req.PrevAppHash.Bytes())
	var hdr [16]byte
	binary.BigEndian.PutUint64(hdr[:8], req.Height)
	binary.BigEndian.PutUint64(hdr[8:], uint64(req.Timestamp))
	h.Write(hdr[:])

	env := escrow.Env{Height: req.Height, Time: req.Timestamp}
	results := make([]abci.TxResult, 0, len(req.Txs))
	rejected := 0
	for i, raw := range req.Txs {
		res, repr := a.deliverTx(ctx, env, i, raw)
		if repr != nil {
			h.Write(repr)
		}
		if res.Code != "ok" {
			rejected++
		}
		results = append(results, res)
	}

	var appHash common.Hash
	h.Sum(appHash[:0])

	if len(req.Txs) > 0 {
		a.logger.Infow("finalize_block",
			"height", req.Height,
			"txs", len(req.Txs),
			"rejected", rejected,
			"apphash", fmt.Sprintf("0x%x", appHash[:]),
		)
	}
	return abci.ResponseFinalizeBlock{TxResults: results, AppHash: appHash}
}

// deliverTx runs one transaction. repr is the committed write batch, nil if
// nothing was committed.
func (a *App) deliverTx(ctx context.Context, env escrow.Env, index int, raw []byte) (res abci.TxResult, repr []byte) {
	res.Hash = transaction.Hash(raw)
	a.mu.Lock()
	delete(a.pending, res.Hash)
	a.mu.Unlock()

	defer func() {
		if res.Code == "ok" {
			txCommitted.Inc(1)
		} else {
			txRejected.Inc(1)
		}
		a.wal.Append(fmt.Sprintf("height=%d tx=%s type=%s code=%s", env.Height, res.Hash.Hex(), res.Type, res.Code))
	}()

	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		res.Code, res.Log = "invalid_message", err.Error()
		return res, nil
	}
	res.Type = string(tx.Type)
	sender, err := a.verifier.Verify(tx)
	if err != nil {
		res.Code, res.Log = "unauthorized", err.Error()
		return res, nil
	}
	res.Sender = sender
	res.Touched = []common.Address{sender}
	nonce, err := tx.NonceUint64()
	if err != nil {
		res.Code, res.Log = "invalid_message", err.Error()
		return res, nil
	}

	last, err := storage.GetUint64(a.store, storage.NonceKey(sender))
	if err != nil {
		res.Code, res.Log = "internal", err.Error()
		return res, nil
	}
	if nonce <= last {
		res.Code, res.Log = "bad_nonce", fmt.Sprintf("nonce %d not above %d", nonce, last)
		return res, nil
	}

	txn := a.store.Begin()
	defer txn.Discard()

	reqs, self, err := a.execute(ctx, txn, env, sender, tx)
	batch := &settlement.Batch{
		Height:   env.Height,
		TxHash:   res.Hash,
		Sender:   self,
		Requests: reqs,
	}
	if err == nil && len(reqs) > 0 {
		err = a.settle.Execute(ctx, txn, batch)
	}
	if err == nil {
		err = storage.SetUint64(txn, storage.NonceKey(sender), nonce)
	}
	if err == nil {
		repr = append([]byte(nil), txn.Repr()...)
		// Staged after repr: the app hash does not depend on the outbox.
		if a.outbox {
			err = settlement.Stage(txn, index, batch)
		}
	}
	if err == nil {
		err = txn.Commit()
	}
	if err != nil {
		txn.Discard()
		res.Code, res.Log = resultCode(err), err.Error()
		a.logger.Debugw("tx_rejected", "tx", res.Hash.Hex(), "type", tx.Type, "sender", sender.Hex(), "code", res.Code, "error", err)
		// A rejected transaction still consumes its nonce.
		return res, a.consumeNonce(sender, nonce)
	}

	for _, r := range reqs {
		if r.Kind == settlement.KindTransfer || r.Kind == settlement.KindNativeSend {
			res.Touched = appendUnique(res.Touched, r.Recipient)
		}
	}
	res.Code = "ok"
	return res, repr
}

func (a *App) consumeNonce(sender common.Address, nonce uint64) []byte {
	txn := a.store.Begin()
	defer txn.Discard()
	if err := storage.SetUint64(txn, storage.NonceKey(sender), nonce); err != nil {
		a.logger.Errorw("nonce_bump_failed", "sender", sender.Hex(), "error", err)
		return nil
	}
	repr := append([]byte(nil), txn.Repr()...)
	if err := txn.Commit(); err != nil {
		a.logger.Errorw("nonce_bump_failed", "sender", sender.Hex(), "error", err)
		return nil
	}
	return repr
}

// execute dispatches tx and returns the outbound requests along with the
// identity they are sent as.
func (a *App) execute(ctx context.Context, txn *storage.Txn, env escrow.Env, sender common.Address, tx *transaction.SignedTransaction) ([]settlement.Request, common.Address, error) {
	var self common.Address
	cfg, err := a.engine.Config(txn)
	switch {
	case err == nil:
		self = cfg.Self
	case escrowerr.NotInitialized.Has(err):
		if tx.Type != transaction.TxTypeSend && tx.Type != transaction.TxTypeSetViewingKey {
			return nil, self, err
		}
	default:
		return nil, self, err
	}

	switch tx.Type {
	case transaction.TxTypeSend:
		var p transaction.SendPayload
		if err := decodePayload(tx, &p); err != nil {
			return nil, self, err
		}
		amount, err := escrow.ParseAmount("amount", p.Amount)
		if err != nil {
			return nil, self, err
		}
		if err := a.bank.Transfer(txn, p.Asset, sender, p.Recipient, amount); err != nil {
			return nil, self, err
		}
		if cfg == nil || p.Recipient != cfg.Self {
			return nil, self, nil
		}
		notify, err := a.bank.IsReceiver(txn, p.Asset, p.Recipient)
		if err != nil || !notify {
			return nil, self, err
		}
		msg := escrow.Receive{Sender: sender, From: sender, Asset: p.Asset, Msg: p.Msg}
		msg.Amount.Set(amount)
		reqs, err := a.engine.Receive(ctx, txn, env, msg)
		return reqs, self, err

	case transaction.TxTypeSetViewingKey:
		var p transaction.SetViewingKeyPayload
		if err := decodePayload(tx, &p); err != nil {
			return nil, self, err
		}
		return nil, self, a.bank.SetViewingKey(txn, p.Asset, sender, p.Key)

	case transaction.TxTypeCancelOrder:
		var p escrow.CancelOrder
		if err := decodePayload(tx, &p); err != nil {
			return nil, self, err
		}
		reqs, err := a.engine.Cancel(ctx, txn, sender, p)
		return reqs, self, err

	case transaction.TxTypeRegisterTokens:
		var p escrow.RegisterTokens
		if err := decodePayload(tx, &p); err != nil {
			return nil, self, err
		}
		reqs, err := a.engine.RegisterTokens(ctx, txn, sender, p)
		return reqs, self, err

	case transaction.TxTypeRescueTokens:
		var p escrow.RescueTokens
		if err := decodePayload(tx, &p); err != nil {
			return nil, self, err
		}
		reqs, err := a.engine.Rescue(ctx, txn, sender, p)
		return reqs, self, err

	case transaction.TxTypeUpdateConfig:
		var p escrow.UpdateConfig
		if err := decodePayload(tx, &p); err != nil {
			return nil, self, err
		}
		return nil, self, a.engine.UpdateConfig(ctx, txn, sender, p)
	}
	return nil, self, escrowerr.InvalidMessage.New("unsupported transaction type %q", tx.Type)
}

func decodePayload(tx *transaction.SignedTransaction, v any) error {
	if err := json.Unmarshal(tx.Payload, v); err != nil {
		return escrowerr.InvalidMessage.New("%s payload: %v", tx.Type, err)
	}
	return nil
}

func resultCode(err error) string {
	switch {
	case escrowerr.IsClientError(err):
		return escrowerr.Code(err)
	case bank.Error.Has(err):
		return "bank_rejected"
	case settlement.Error.Has(err):
		return "settlement_failed"
	}
	return "internal"
}

func appendUnique(list []common.Address, addr common.Address) []common.Address {
	for _, a := range list {
		if a == addr {
			return list
		}
	}
	return append(list, addr)
}

// Config returns the committed escrow configuration.
func (a *App) Config() (*escrow.Config, error) {
	return a.engine.Config(a.store)
}

// Tokens lists the registered assets.
func (a *App) Tokens() ([]*registry.Token, error) {
	return registry.All(a.store)
}

// Orders pages through owner's order log, authenticated by key.
func (a *App) Orders(owner common.Address, key string, page, pageSize uint32) ([]*ledger.Order, uint64, error) {
	return a.engine.Orders(a.store, owner, key, page, pageSize)
}

// Balance answers a viewing-key authenticated balance query.
func (a *App) Balance(asset, owner common.Address, key string) (*uint256.Int, error) {
	return a.bank.Balance(a.store, asset, owner, key)
}

// Nonce returns the last nonce executed for account.
func (a *App) Nonce(account common.Address) (uint64, error) {
	return storage.GetUint64(a.store, storage.NonceKey(account))
}

// PendingTxs returns the number of transactions waiting in the mempool.
func (a *App) PendingTxs() int { return a.mempool.Len() }

var _ abci.Application = (*App)(nil)
