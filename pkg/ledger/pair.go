package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/escrowd/pkg/escrowerr"
	"github.com/uhyunpark/escrowd/pkg/storage"
)

// Pair reads and writes both records of an escrowed order. Counterparty is
// the well-known identity whose log holds every order awaiting settlement.
type Pair struct {
	Counterparty common.Address
}

// Escrow is a loaded order pair. Mutate it through Cancel and Fill, then
// persist it with Pair.Save.
type Escrow struct {
	CreatorSide      *Order
	CounterpartySide *Order
}

// Order returns the creator-side record.
func (e *Escrow) Order() *Order { return e.CreatorSide }

// Cancel marks both records cancelled and returns the refundable remainder.
func (e *Escrow) Cancel() (*uint256.Int, error) {
	if err := e.CreatorSide.CheckOpen(); err != nil {
		return nil, err
	}
	refund, err := e.CreatorSide.Remaining()
	if err != nil {
		return nil, err
	}
	e.CreatorSide.Cancelled = true
	e.CounterpartySide.Cancelled = true
	return refund, nil
}

// Fill advances both records by min(authorized, remaining) and returns the
// quantity actually settled.
func (e *Escrow) Fill(authorized *uint256.Int) (*uint256.Int, error) {
	if err := e.CreatorSide.CheckOpen(); err != nil {
		return nil, err
	}
	remaining, err := e.CreatorSide.Remaining()
	if err != nil {
		return nil, err
	}
	settled := new(uint256.Int).Set(authorized)
	if settled.Gt(remaining) {
		settled.Set(remaining)
	}
	filled, overflow := new(uint256.Int).AddOverflow(&e.CreatorSide.FilledAmount, settled)
	if overflow {
		return nil, escrowerr.ArithmeticOverflow.New("filled amount")
	}
	e.CreatorSide.FilledAmount = *filled
	e.CounterpartySide.FilledAmount = *filled
	return settled, nil
}

// Append writes a new order under its creator and under the counterparty.
// The returned escrow carries the assigned positions.
func (p Pair) Append(rw storage.ReadWriter, order *Order) (*Escrow, error) {
	creatorLen, err := Len(rw, order.Creator)
	if err != nil {
		return nil, err
	}
	counterLen, err := Len(rw, p.Counterparty)
	if err != nil {
		return nil, err
	}
	if order.Creator == p.Counterparty {
		// both records land in the same log, one after the other
		counterLen = creatorLen + 1
	}
	if counterLen > uint64(^uint32(0)) {
		return nil, escrowerr.ImplementationLimitReached.New("order log of %s is full", p.Counterparty.Hex())
	}

	creatorSide := order.Clone()
	creatorSide.MirrorPosition = uint32(counterLen)
	creatorPos, err := Append(rw, order.Creator, creatorSide)
	if err != nil {
		return nil, err
	}

	counterSide := order.Clone()
	counterSide.MirrorPosition = creatorPos
	counterPos, err := Append(rw, p.Counterparty, counterSide)
	if err != nil {
		return nil, err
	}
	if uint64(counterPos) != counterLen {
		return nil, Error.New("counterparty position %d, expected %d", counterPos, counterLen)
	}
	return &Escrow{CreatorSide: creatorSide, CounterpartySide: counterSide}, nil
}

// LoadByCreator loads the pair from the creator's side.
func (p Pair) LoadByCreator(r storage.Reader, creator common.Address, position uint32) (*Escrow, error) {
	creatorSide, err := Get(r, creator, position)
	if err != nil {
		return nil, err
	}
	counterSide, err := Get(r, p.Counterparty, creatorSide.MirrorPosition)
	if err != nil {
		return nil, err
	}
	return p.check(creatorSide, counterSide)
}

// LoadByCounterparty loads the pair from the counterparty's side.
func (p Pair) LoadByCounterparty(r storage.Reader, position uint32) (*Escrow, error) {
	counterSide, err := Get(r, p.Counterparty, position)
	if err != nil {
		return nil, err
	}
	creatorSide, err := Get(r, counterSide.Creator, counterSide.MirrorPosition)
	if err != nil {
		return nil, err
	}
	return p.check(creatorSide, counterSide)
}

func (p Pair) check(creatorSide, counterSide *Order) (*Escrow, error) {
	if creatorSide.MirrorPosition != counterSide.Position || counterSide.MirrorPosition != creatorSide.Position {
		return nil, Error.New("mirror positions of %s/%d do not cross-reference", creatorSide.Creator.Hex(), creatorSide.Position)
	}
	if !sameTerms(creatorSide, counterSide) || !sameState(creatorSide, counterSide) {
		return nil, Error.New("mirror of %s/%d diverged", creatorSide.Creator.Hex(), creatorSide.Position)
	}
	return &Escrow{CreatorSide: creatorSide, CounterpartySide: counterSide}, nil
}

// Save persists both records of e.
func (p Pair) Save(rw storage.ReadWriter, e *Escrow) error {
	if !sameTerms(e.CreatorSide, e.CounterpartySide) || !sameState(e.CreatorSide, e.CounterpartySide) {
		return Error.New("refusing to save diverged mirror of %s/%d", e.CreatorSide.Creator.Hex(), e.CreatorSide.Position)
	}
	if err := Replace(rw, e.CreatorSide.Creator, e.CreatorSide.Position, e.CreatorSide); err != nil {
		return err
	}
	return Replace(rw, p.Counterparty, e.CounterpartySide.Position, e.CounterpartySide)
}
