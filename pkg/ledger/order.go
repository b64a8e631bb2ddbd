// Package ledger stores orders in per-owner append logs.
//
// Every logical order lives twice: once in its creator's log and once in the
// log of a fixed counterparty identity. The two records cross-reference each
// other by position and are only ever written together through Pair.
package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/escrowd/pkg/escrowerr"
)

// Status is derived from an order's fill and cancel fields.
type Status string

const (
	StatusOpen            Status = "open"
	StatusPartiallyFilled Status = "partially_filled"
	StatusFilled          Status = "filled"
	StatusCancelled       Status = "cancelled"
)

// Order is one escrow record.
type Order struct {
	Position       uint32
	MirrorPosition uint32

	FromAsset common.Address
	ToAsset   common.Address
	Creator   common.Address

	Amount          uint256.Int
	FilledAmount    uint256.Int
	RequestedAmount uint256.Int
	Fee             uint256.Int

	CreatedAtHeight uint64
	CreatedAtTime   int64

	Cancelled bool
}

// Status reports where the order is in its lifecycle.
func (o *Order) Status() Status {
	switch {
	case o.Cancelled:
		return StatusCancelled
	case o.FilledAmount.Cmp(&o.Amount) >= 0:
		return StatusFilled
	case o.FilledAmount.IsZero():
		return StatusOpen
	default:
		return StatusPartiallyFilled
	}
}

// CheckOpen fails if the order is terminal.
func (o *Order) CheckOpen() error {
	if o.Cancelled {
		return escrowerr.AlreadyCancelled.New("position %d", o.Position)
	}
	if o.FilledAmount.Cmp(&o.Amount) >= 0 {
		return escrowerr.AlreadyFilled.New("position %d", o.Position)
	}
	return nil
}

// Remaining returns Amount - FilledAmount.
func (o *Order) Remaining() (*uint256.Int, error) {
	rem, underflow := new(uint256.Int).SubOverflow(&o.Amount, &o.FilledAmount)
	if underflow {
		return nil, escrowerr.ArithmeticUnderflow.New("filled %s exceeds amount %s", o.FilledAmount.Dec(), o.Amount.Dec())
	}
	return rem, nil
}

// Clone returns a deep copy.
func (o *Order) Clone() *Order {
	c := *o
	return &c
}

// sameTerms reports whether two records describe the same logical order.
// Positions are not compared; mirrors hold them crossed.
func sameTerms(a, b *Order) bool {
	return a.FromAsset == b.FromAsset &&
		a.ToAsset == b.ToAsset &&
		a.Creator == b.Creator &&
		a.Amount.Eq(&b.Amount) &&
		a.RequestedAmount.Eq(&b.RequestedAmount) &&
		a.Fee.Eq(&b.Fee) &&
		a.CreatedAtHeight == b.CreatedAtHeight &&
		a.CreatedAtTime == b.CreatedAtTime
}

// sameState reports whether two records carry the same mutable state.
func sameState(a, b *Order) bool {
	return a.FilledAmount.Eq(&b.FilledAmount) && a.Cancelled == b.Cancelled
}

// record is the persisted form. Quantities are decimal strings.
type record struct {
	Position        uint32         `json:"position"`
	MirrorPosition  uint32         `json:"mirror_position"`
	FromAsset       common.Address `json:"from_asset"`
	ToAsset         common.Address `json:"to_asset"`
	Creator         common.Address `json:"creator"`
	Amount          string         `json:"amount"`
	FilledAmount    string         `json:"filled_amount"`
	RequestedAmount string         `json:"requested_amount"`
	Fee             string         `json:"fee"`
	CreatedAtHeight uint64         `json:"created_at_height"`
	CreatedAtTime   int64          `json:"created_at_time"`
	Cancelled       bool           `json:"cancelled"`
}

func toRecord(o *Order) record {
	return record{
		Position:        o.Position,
		MirrorPosition:  o.MirrorPosition,
		FromAsset:       o.FromAsset,
		ToAsset:         o.ToAsset,
		Creator:         o.Creator,
		Amount:          o.Amount.Dec(),
		FilledAmount:    o.FilledAmount.Dec(),
		RequestedAmount: o.RequestedAmount.Dec(),
		Fee:             o.Fee.Dec(),
		CreatedAtHeight: o.CreatedAtHeight,
		CreatedAtTime:   o.CreatedAtTime,
		Cancelled:       o.Cancelled,
	}
}

func (r record) order() (*Order, error) {
	o := &Order{
		Position:        r.Position,
		MirrorPosition:  r.MirrorPosition,
		FromAsset:       r.FromAsset,
		ToAsset:         r.ToAsset,
		Creator:         r.Creator,
		CreatedAtHeight: r.CreatedAtHeight,
		CreatedAtTime:   r.CreatedAtTime,
		Cancelled:       r.Cancelled,
	}
	for _, f := range []struct {
		dst *uint256.Int
		src string
	}{
		{&o.Amount, r.Amount},
		{&o.FilledAmount, r.FilledAmount},
		{&o.RequestedAmount, r.RequestedAmount},
		{&o.Fee, r.Fee},
	} {
		if err := f.dst.SetFromDecimal(f.src); err != nil {
			return nil, Error.New("decode quantity %q: %v", f.src, err)
		}
	}
	return o, nil
}
