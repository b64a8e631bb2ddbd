package escrow

import (
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/escrowd/pkg/escrowerr"
	"github.com/uhyunpark/escrowd/pkg/ledger"
)

func TestFillPartialThenFull(t *testing.T) {
	h := newHarness(t)
	// no loyalty balance: 30 bps on the requested amount
	order := h.createOrder(alice, mockAmount, mockAmount)
	require.Equal(t, uint64(3_000_000_000), order.Fee.Uint64())

	reqs, err := h.fill(admin, order.MirrorPosition, 400_000_000_000, 400_000_000_000)
	require.NoError(t, err)
	require.Len(t, reqs, 3)
	transferTo(t, reqs[0], tokenB, alice, 400_000_000_000-1_200_000_000)
	transferTo(t, reqs[1], tokenB, admin, 1_200_000_000)
	transferTo(t, reqs[2], tokenA, admin, 400_000_000_000)
	h.settle(reqs)

	e := h.requireMirrored(alice, order.Position)
	assert.Equal(t, ledger.StatusPartiallyFilled, e.Order().Status())

	// authorizing more than remains settles only the remainder
	reqs, err = h.fill(admin, order.MirrorPosition, 600_000_000_000, 900_000_000_000)
	require.NoError(t, err)
	require.Len(t, reqs, 3)
	transferTo(t, reqs[0], tokenB, alice, 600_000_000_000-1_800_000_000)
	transferTo(t, reqs[1], tokenB, admin, 1_800_000_000)
	transferTo(t, reqs[2], tokenA, admin, 600_000_000_000)
	h.settle(reqs)

	e = h.requireMirrored(alice, order.Position)
	assert.Equal(t, ledger.StatusFilled, e.Order().Status())
	assert.Equal(t, uint64(mockAmount), h.balance(tokenA, admin))
	assert.Zero(t, h.balance(tokenA, self))
	assert.Zero(t, h.balance(tokenB, self))

	_, err = h.fill(admin, order.MirrorPosition, 1, 1)
	assert.True(t, escrowerr.AlreadyFilled.Has(err))
	_, err = h.engine.Cancel(h.ctx, h.txn, alice, CancelOrder{Position: order.Position})
	assert.True(t, escrowerr.AlreadyFilled.Has(err))
}

func TestFillRejections(t *testing.T) {
	h := newHarness(t)
	order := h.createOrder(alice, 1_000, 1_000)

	_, err := h.fill(bob, order.MirrorPosition, 10, 10)
	assert.True(t, escrowerr.Unauthorized.Has(err))

	_, err = h.fill(admin, order.MirrorPosition+1, 10, 10)
	assert.True(t, escrowerr.NotFound.Has(err))

	_, err = h.fill(admin, order.MirrorPosition, 10, 0)
	assert.True(t, escrowerr.InvalidAmount.Has(err))

	h.mint(tokenA, admin, 10)
	_, err = h.send(admin, tokenA, 10, ReceiveMsg{FillOrder: &FillOrderMsg{Position: order.MirrorPosition, Amount: "10"}})
	assert.True(t, escrowerr.WrongAsset.Has(err))

	_, err = h.engine.Cancel(h.ctx, h.txn, alice, CancelOrder{Position: order.Position})
	require.NoError(t, err)
	_, err = h.fill(admin, order.MirrorPosition, 10, 10)
	assert.True(t, escrowerr.AlreadyCancelled.Has(err))
}

func TestFillRejectsUnderpayment(t *testing.T) {
	h := newHarness(t)
	h.mint(loyalty, alice, 100_000_000_000)
	order := h.createOrder(alice, mockAmount, mockAmount)

	for _, tc := range []struct {
		proceeds, amount uint64
	}{
		{1, mockAmount},
		{mockAmount - 1, mockAmount},
		{399_999_999_999, 400_000_000_000},
	} {
		_, err := h.fill(admin, order.MirrorPosition, tc.proceeds, tc.amount)
		assert.True(t, escrowerr.InvalidAmount.Has(err), "proceeds %d for %d: %v", tc.proceeds, tc.amount, err)
	}

	e := h.requireMirrored(alice, order.Position)
	assert.True(t, e.Order().FilledAmount.IsZero())
	assert.Equal(t, ledger.StatusOpen, e.Order().Status())
}

func TestFillReturnsChange(t *testing.T) {
	h := newHarness(t)
	// 30 bps of 2 000 requested: fee 6
	order := h.createOrder(alice, 1_000, 2_000)

	reqs, err := h.fill(admin, order.MirrorPosition, 1_500, 500)
	require.NoError(t, err)
	require.Len(t, reqs, 4)
	transferTo(t, reqs[0], tokenB, alice, 997)
	transferTo(t, reqs[1], tokenB, admin, 3)
	transferTo(t, reqs[2], tokenB, admin, 500)
	transferTo(t, reqs[3], tokenA, admin, 500)
	h.settle(reqs)
	assert.Zero(t, h.balance(tokenB, self))

	// uneven splits still add up to the requested amount
	reqs, err = h.fill(admin, order.MirrorPosition, 667, 333)
	require.NoError(t, err)
	h.settle(reqs)
	reqs, err = h.fill(admin, order.MirrorPosition, 334, 167)
	require.NoError(t, err)
	h.settle(reqs)

	assert.Equal(t, ledger.StatusFilled, h.requireMirrored(alice, order.Position).Order().Status())
	assert.Equal(t, uint64(2_000-6), h.balance(tokenB, alice))
	assert.Zero(t, h.balance(tokenB, self))
}

func TestFillPriceMustCoverExecutionFee(t *testing.T) {
	h := newHarness(t)
	order := h.createOrder(alice, 1_000, 5)

	execFee := "10"
	require.NoError(t, h.engine.UpdateConfig(h.ctx, h.txn, admin, UpdateConfig{ExecutionFee: &execFee}))

	_, err := h.fill(admin, order.MirrorPosition, 5, 1_000)
	assert.True(t, escrowerr.ArithmeticUnderflow.Has(err))
}

func TestPriceDueSumsToRequested(t *testing.T) {
	requested := uint256.NewInt(2_000)
	amount := uint256.NewInt(999)
	sum := new(uint256.Int)
	prev := new(uint256.Int)
	for _, step := range []uint64{1, 332, 333, 332, 1} {
		cur := new(uint256.Int).AddUint64(prev, step)
		due, err := priceDue(requested, prev, cur, amount)
		require.NoError(t, err)
		sum.Add(sum, due)
		prev = cur
	}
	assert.True(t, sum.Eq(requested), "prices sum to %s", sum.Dec())
}

func TestFillWithExecutionFee(t *testing.T) {
	h := newHarness(t)
	h.mint(loyalty, alice, 100_000_000_000)
	order := h.createOrder(alice, 1_000, 2_000)
	require.True(t, order.Fee.IsZero())

	execFee := "7"
	require.NoError(t, h.engine.UpdateConfig(h.ctx, h.txn, admin, UpdateConfig{
		Fillers:      []common.Address{bob},
		ExecutionFee: &execFee,
	}))

	reqs, err := h.fill(bob, order.MirrorPosition, 2_000, 1_000)
	require.NoError(t, err)
	require.Len(t, reqs, 3)
	transferTo(t, reqs[0], tokenB, alice, 1_993)
	transferTo(t, reqs[1], tokenB, bob, 7)
	transferTo(t, reqs[2], tokenA, bob, 1_000)
	h.settle(reqs)

	assert.Equal(t, uint64(1_993), h.balance(tokenB, alice))
	assert.Equal(t, uint64(7), h.balance(tokenB, bob))
	assert.Equal(t, uint64(1_000), h.balance(tokenA, bob))
}

func TestFeeSharesSumToFee(t *testing.T) {
	total := uint256.NewInt(997)
	amount := uint256.NewInt(1_000)
	sum := new(uint256.Int)
	prev := new(uint256.Int)
	for _, step := range []uint64{1, 333, 333, 332, 1} {
		cur := new(uint256.Int).AddUint64(prev, step)
		share, err := feeShare(total, prev, cur, amount)
		require.NoError(t, err)
		sum.Add(sum, share)
		prev = cur
	}
	assert.True(t, sum.Eq(total), "shares sum to %s", sum.Dec())
}

// Random cancel and fill calls never break filled <= amount, never mutate a
// terminal order, and keep both records in step.
func TestRandomOperationsKeepInvariants(t *testing.T) {
	h := newHarness(t)
	rng := rand.New(rand.NewSource(7))

	const orders = 8
	for i := 0; i < orders; i++ {
		h.createOrder(alice, uint64(1_000+rng.Intn(1_000)), 1_000)
	}

	for step := 0; step < 200; step++ {
		pos := uint32(rng.Intn(orders))
		before := h.requireMirrored(alice, pos).Order().Clone()

		var err error
		if rng.Intn(5) == 0 {
			_, err = h.engine.Cancel(h.ctx, h.txn, alice, CancelOrder{Position: pos})
		} else {
			_, err = h.fill(admin, before.MirrorPosition, 1_000, uint64(1+rng.Intn(400)))
		}

		after := h.requireMirrored(alice, pos).Order()
		if before.Status() == ledger.StatusCancelled {
			assert.True(t, escrowerr.AlreadyCancelled.Has(err))
		}
		if before.Status() == ledger.StatusFilled {
			assert.True(t, escrowerr.AlreadyFilled.Has(err))
		}
		if err != nil {
			assert.True(t, after.FilledAmount.Eq(&before.FilledAmount))
			assert.Equal(t, before.Cancelled, after.Cancelled)
		}
		assert.False(t, after.FilledAmount.Lt(&before.FilledAmount))
	}
}
