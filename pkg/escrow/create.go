package escrow

import (
	"context"

	"github.com/uhyunpark/escrowd/pkg/escrowerr"
	"github.com/uhyunpark/escrowd/pkg/fee"
	"github.com/uhyunpark/escrowd/pkg/ledger"
	"github.com/uhyunpark/escrowd/pkg/registry"
	"github.com/uhyunpark/escrowd/pkg/storage"
)

// createOrder escrows the received amount. The asset is already held, so no
// outbound request is emitted.
func (e *Engine) createOrder(ctx context.Context, rw storage.ReadWriter, env Env, cfg *Config, msg Receive, m *CreateOrderMsg) (err error) {
	defer mon.Task()(&ctx)(&err)

	if _, err := registry.Get(rw, m.ToAsset); err != nil {
		return err
	}
	if _, err := registry.Get(rw, msg.Asset); err != nil {
		return err
	}
	if msg.Amount.IsZero() {
		return escrowerr.InvalidAmount.New("escrowed amount is zero")
	}
	requested, err := ParseAmount("requested_amount", m.RequestedAmount)
	if err != nil {
		return err
	}
	if requested.IsZero() {
		return escrowerr.InvalidAmount.New("requested amount is zero")
	}

	loyalty, err := e.querier.Balance(rw, cfg.Loyalty, msg.From, m.LoyaltyKey)
	if err != nil {
		return err
	}
	orderFee, err := fee.Compute(loyalty, requested)
	if err != nil {
		return err
	}

	if _, err := registry.AddToSum(rw, msg.Asset, &msg.Amount); err != nil {
		return err
	}

	order := &ledger.Order{
		FromAsset:       msg.Asset,
		ToAsset:         m.ToAsset,
		Creator:         msg.From,
		Amount:          msg.Amount,
		RequestedAmount: *requested,
		Fee:             *orderFee,
		CreatedAtHeight: env.Height,
		CreatedAtTime:   env.Time,
	}
	escrowed, err := e.pair(cfg).Append(rw, order)
	if err != nil {
		return err
	}

	e.logger.Infow("order_created",
		"creator", msg.From.Hex(),
		"position", escrowed.CreatorSide.Position,
		"mirror_position", escrowed.CreatorSide.MirrorPosition,
		"from_asset", msg.Asset.Hex(),
		"to_asset", m.ToAsset.Hex(),
		"amount", msg.Amount.Dec(),
		"requested", requested.Dec(),
		"fee", orderFee.Dec(),
	)
	return nil
}
