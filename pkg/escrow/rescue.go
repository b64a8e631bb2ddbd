package escrow

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/escrowd/pkg/auth"
	"github.com/uhyunpark/escrowd/pkg/escrowerr"
	"github.com/uhyunpark/escrowd/pkg/registry"
	"github.com/uhyunpark/escrowd/pkg/settlement"
	"github.com/uhyunpark/escrowd/pkg/storage"
)

// Rescue sends the escrow's holdings beyond what open orders still hold to
// the admin. Native denoms are never escrowed, so all of it is surplus.
func (e *Engine) Rescue(ctx context.Context, rw storage.ReadWriter, caller common.Address, msg RescueTokens) (_ []settlement.Request, err error) {
	defer mon.Task()(&ctx)(&err)

	cfg, err := loadConfig(rw)
	if err != nil {
		return nil, err
	}
	if err := auth.Authorize([]common.Address{cfg.Admin}, caller); err != nil {
		return nil, err
	}
	if (msg.Denom == "") == (msg.Token == nil) {
		return nil, escrowerr.InvalidMessage.New("rescue needs exactly one of denom or token")
	}

	if msg.Denom != "" {
		actual, err := e.querier.NativeBalance(rw, msg.Denom, cfg.Self)
		if err != nil {
			return nil, err
		}
		e.logger.Infow("rescued", "denom", msg.Denom, "amount", actual.Dec())
		if actual.IsZero() {
			return nil, nil
		}
		return []settlement.Request{settlement.NativeSend(msg.Denom, cfg.Admin, actual)}, nil
	}

	asset := msg.Token.Address
	actual, err := e.querier.Balance(rw, asset, cfg.Self, msg.Key)
	if err != nil {
		return nil, err
	}
	held := new(uint256.Int)
	codeHash := msg.Token.CodeHash
	token, err := registry.Lookup(rw, asset)
	if err != nil {
		return nil, err
	}
	if token != nil {
		held.Set(&token.Outstanding)
		codeHash = token.CodeHash
	}
	surplus, underflow := new(uint256.Int).SubOverflow(actual, held)
	if underflow {
		return nil, escrowerr.ArithmeticUnderflow.New("balance %s of %s below outstanding escrow %s", actual.Dec(), asset.Hex(), held.Dec())
	}

	e.logger.Infow("rescued", "asset", asset.Hex(), "amount", surplus.Dec(), "outstanding", held.Dec())
	if surplus.IsZero() {
		return nil, nil
	}
	return []settlement.Request{settlement.Transfer(asset, codeHash, cfg.Admin, surplus)}, nil
}
