package escrow

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/escrowd/pkg/escrowerr"
	"github.com/uhyunpark/escrowd/pkg/registry"
	"github.com/uhyunpark/escrowd/pkg/settlement"
	"github.com/uhyunpark/escrowd/pkg/storage"
)

// Cancel cancels the order at position in the caller's log and refunds the
// unfilled remainder.
func (e *Engine) Cancel(ctx context.Context, rw storage.ReadWriter, caller common.Address, msg CancelOrder) (_ []settlement.Request, err error) {
	defer mon.Task()(&ctx)(&err)

	cfg, err := loadConfig(rw)
	if err != nil {
		return nil, err
	}
	return e.cancel(rw, cfg, caller, msg.Position, nil)
}

// cancelBySendBack is the receive variant: the creator proves ownership by
// sending a zero amount of the escrowed asset.
func (e *Engine) cancelBySendBack(ctx context.Context, rw storage.ReadWriter, cfg *Config, msg Receive, m *CancelOrderMsg) (_ []settlement.Request, err error) {
	defer mon.Task()(&ctx)(&err)
	return e.cancel(rw, cfg, msg.From, m.Position, &msg)
}

func (e *Engine) cancel(rw storage.ReadWriter, cfg *Config, caller common.Address, position uint32, sentBack *Receive) ([]settlement.Request, error) {
	pair := e.pair(cfg)
	escrowed, err := pair.LoadByCreator(rw, caller, position)
	if err != nil {
		return nil, err
	}
	order := escrowed.Order()
	if order.Creator != caller {
		return nil, escrowerr.Unauthorized.New("%s is not the creator of order %d", caller.Hex(), position)
	}
	if err := order.CheckOpen(); err != nil {
		return nil, err
	}
	if sentBack != nil {
		if sentBack.Asset != order.FromAsset {
			return nil, escrowerr.WrongAsset.New("sent %s, order escrows %s", sentBack.Asset.Hex(), order.FromAsset.Hex())
		}
		if !sentBack.Amount.IsZero() {
			return nil, escrowerr.NonZeroAmountRequired.New("sent %s", sentBack.Amount.Dec())
		}
	}

	refund, err := escrowed.Cancel()
	if err != nil {
		return nil, err
	}
	if err := pair.Save(rw, escrowed); err != nil {
		return nil, err
	}
	token, err := registry.Release(rw, order.FromAsset, refund)
	if err != nil {
		return nil, err
	}

	e.logger.Infow("order_cancelled",
		"creator", caller.Hex(),
		"position", position,
		"refund", refund.Dec(),
		"asset", order.FromAsset.Hex(),
	)
	return []settlement.Request{
		settlement.Transfer(order.FromAsset, token.CodeHash, order.Creator, refund),
	}, nil
}
