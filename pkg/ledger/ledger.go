package ledger

import (
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/zeebo/errs"

	"github.com/uhyunpark/escrowd/pkg/escrowerr"
	"github.com/uhyunpark/escrowd/pkg/storage"
)

// Error is the class of ledger invariant violations. These indicate a bug in
// the caller, not a bad invocation.
var Error = errs.Class("ledger")

// Len returns the number of orders in owner's log.
func Len(r storage.Reader, owner common.Address) (uint64, error) {
	return storage.GetUint64(r, storage.OrderCountKey(owner))
}

// Append stores order at the next free position of owner's log and returns it.
func Append(rw storage.ReadWriter, owner common.Address, order *Order) (uint32, error) {
	n, err := Len(rw, owner)
	if err != nil {
		return 0, err
	}
	if n > math.MaxUint32 {
		return 0, escrowerr.ImplementationLimitReached.New("order log of %s is full", owner.Hex())
	}
	pos := uint32(n)
	order.Position = pos

	if err := storage.SetJSON(rw, storage.OrderKey(owner, pos), toRecord(order)); err != nil {
		return 0, err
	}
	if err := storage.SetUint64(rw, storage.OrderCountKey(owner), n+1); err != nil {
		return 0, err
	}
	return pos, nil
}

// Get loads the order at position in owner's log.
func Get(r storage.Reader, owner common.Address, position uint32) (*Order, error) {
	n, err := Len(r, owner)
	if err != nil {
		return nil, err
	}
	if uint64(position) >= n {
		return nil, escrowerr.NotFound.New("order %d of %s", position, owner.Hex())
	}
	var rec record
	ok, err := storage.GetJSON(r, storage.OrderKey(owner, position), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, Error.New("order %d of %s missing below log length %d", position, owner.Hex(), n)
	}
	return rec.order()
}

// Replace overwrites an existing slot. Only FilledAmount and Cancelled may
// change, and only forward.
func Replace(rw storage.ReadWriter, owner common.Address, position uint32, order *Order) error {
	prev, err := Get(rw, owner, position)
	if err != nil {
		return err
	}
	switch {
	case order.Position != position || order.MirrorPosition != prev.MirrorPosition:
		return Error.New("order %d of %s: positions are immutable", position, owner.Hex())
	case !sameTerms(prev, order):
		return Error.New("order %d of %s: terms are immutable", position, owner.Hex())
	case order.FilledAmount.Lt(&prev.FilledAmount):
		return Error.New("order %d of %s: filled amount decreased", position, owner.Hex())
	case order.FilledAmount.Gt(&order.Amount):
		return Error.New("order %d of %s: filled amount exceeds amount", position, owner.Hex())
	case prev.Cancelled && !order.Cancelled:
		return Error.New("order %d of %s: cannot un-cancel", position, owner.Hex())
	}
	return storage.SetJSON(rw, storage.OrderKey(owner, position), toRecord(order))
}

// Page returns up to size orders of owner, newest first, skipping the
// page*size newest, together with the log length. A window past the start of
// the log yields an empty list.
func Page(r storage.Reader, owner common.Address, page, size uint32) ([]*Order, uint64, error) {
	total, err := Len(r, owner)
	if err != nil {
		return nil, 0, err
	}
	orders := []*Order{}
	skip := uint64(page) * uint64(size)
	if size == 0 || skip >= total {
		return orders, total, nil
	}

	end := total - skip
	start := uint64(0)
	if end > uint64(size) {
		start = end - uint64(size)
	}
	for pos := end; pos > start; pos-- {
		o, err := Get(r, owner, uint32(pos-1))
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, o)
	}
	return orders, total, nil
}
