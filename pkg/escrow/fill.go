package escrow

import (
	"context"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/escrowd/pkg/auth"
	"github.com/uhyunpark/escrowd/pkg/escrowerr"
	"github.com/uhyunpark/escrowd/pkg/fee"
	"github.com/uhyunpark/escrowd/pkg/registry"
	"github.com/uhyunpark/escrowd/pkg/settlement"
	"github.com/uhyunpark/escrowd/pkg/storage"
)

// fillOrder settles part or all of a counterparty-log order. The filler sends
// the proceeds in the order's to_asset with the instruction attached.
//
// The proceeds must cover the order's price for the settled quantity; any
// excess goes back to the filler. Requests, in order: the price net of fees
// to the creator, the pro-rata creation fee to the fee recipient, the
// execution fee plus change to the filler, and the settled escrow to the
// filler. Zero transfers other than the last are omitted.
func (e *Engine) fillOrder(ctx context.Context, rw storage.ReadWriter, cfg *Config, msg Receive, m *FillOrderMsg) (_ []settlement.Request, err error) {
	defer mon.Task()(&ctx)(&err)

	filler := msg.From
	if err := auth.Authorize(cfg.Fillers, filler); err != nil {
		return nil, err
	}
	authorized, err := ParseAmount("amount", m.Amount)
	if err != nil {
		return nil, err
	}
	if authorized.IsZero() {
		return nil, escrowerr.InvalidAmount.New("fill amount is zero")
	}

	pair := e.pair(cfg)
	escrowed, err := pair.LoadByCounterparty(rw, m.Position)
	if err != nil {
		return nil, err
	}
	order := escrowed.Order()
	if err := order.CheckOpen(); err != nil {
		return nil, err
	}
	if msg.Asset != order.ToAsset {
		return nil, escrowerr.WrongAsset.New("sent %s, order wants %s", msg.Asset.Hex(), order.ToAsset.Hex())
	}

	prevFilled := order.FilledAmount
	settled, err := escrowed.Fill(authorized)
	if err != nil {
		return nil, err
	}
	feeDue, err := feeShare(&order.Fee, &prevFilled, &order.FilledAmount, &order.Amount)
	if err != nil {
		return nil, err
	}

	due, err := priceDue(&order.RequestedAmount, &prevFilled, &order.FilledAmount, &order.Amount)
	if err != nil {
		return nil, err
	}
	change, underflow := new(uint256.Int).SubOverflow(&msg.Amount, due)
	if underflow {
		return nil, escrowerr.InvalidAmount.New("proceeds %s below price %s for %s settled",
			msg.Amount.Dec(), due.Dec(), settled.Dec())
	}
	toCreator, underflow := new(uint256.Int).SubOverflow(due, feeDue)
	if underflow {
		return nil, escrowerr.ArithmeticUnderflow.New("price %s below fee %s", due.Dec(), feeDue.Dec())
	}
	toCreator, underflow = new(uint256.Int).SubOverflow(toCreator, &cfg.ExecutionFee)
	if underflow {
		return nil, escrowerr.ArithmeticUnderflow.New("price %s below fee %s plus execution fee %s",
			due.Dec(), feeDue.Dec(), cfg.ExecutionFee.Dec())
	}
	toFiller, overflow := new(uint256.Int).AddOverflow(&cfg.ExecutionFee, change)
	if overflow {
		return nil, escrowerr.ArithmeticOverflow.New("execution fee plus change")
	}

	if err := pair.Save(rw, escrowed); err != nil {
		return nil, err
	}
	if _, err := registry.Release(rw, order.FromAsset, settled); err != nil {
		return nil, err
	}

	toToken, err := registry.Get(rw, order.ToAsset)
	if err != nil {
		return nil, err
	}
	fromToken, err := registry.Get(rw, order.FromAsset)
	if err != nil {
		return nil, err
	}

	var reqs []settlement.Request
	if !toCreator.IsZero() {
		reqs = append(reqs, settlement.Transfer(order.ToAsset, toToken.CodeHash, order.Creator, toCreator))
	}
	if !feeDue.IsZero() {
		reqs = append(reqs, settlement.Transfer(order.ToAsset, toToken.CodeHash, cfg.FeeRecipient, feeDue))
	}
	if !toFiller.IsZero() {
		reqs = append(reqs, settlement.Transfer(order.ToAsset, toToken.CodeHash, filler, toFiller))
	}
	reqs = append(reqs, settlement.Transfer(order.FromAsset, fromToken.CodeHash, filler, settled))

	e.logger.Infow("order_filled",
		"filler", filler.Hex(),
		"creator", order.Creator.Hex(),
		"position", m.Position,
		"settled", settled.Dec(),
		"filled", order.FilledAmount.Dec(),
		"amount", order.Amount.Dec(),
		"paid", due.Dec(),
		"fee", feeDue.Dec(),
		"status", string(order.Status()),
	)
	return reqs, nil
}

// feeShare returns the part of total that accrues when the filled quantity
// moves from prev to cur, so that the shares of all fills sum to total.
func feeShare(total, prev, cur, amount *uint256.Int) (*uint256.Int, error) {
	upTo, err := fee.MulDiv(total, cur, amount)
	if err != nil {
		return nil, err
	}
	before, err := fee.MulDiv(total, prev, amount)
	if err != nil {
		return nil, err
	}
	share, underflow := new(uint256.Int).SubOverflow(upTo, before)
	if underflow {
		return nil, escrowerr.ArithmeticUnderflow.New("fee share")
	}
	return share, nil
}

// priceDue returns what a fill owes the creator when the filled quantity
// moves from prev to cur. Cumulative prices round up, so a complete fill
// pays exactly the requested amount however it was split.
func priceDue(requested, prev, cur, amount *uint256.Int) (*uint256.Int, error) {
	upTo, err := fee.MulDivUp(requested, cur, amount)
	if err != nil {
		return nil, err
	}
	before, err := fee.MulDivUp(requested, prev, amount)
	if err != nil {
		return nil, err
	}
	due, underflow := new(uint256.Int).SubOverflow(upTo, before)
	if underflow {
		return nil, escrowerr.ArithmeticUnderflow.New("price share")
	}
	return due, nil
}
