package ledger

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/escrowd/pkg/escrowerr"
	"github.com/uhyunpark/escrowd/pkg/storage"
)

var (
	alice  = common.HexToAddress("0xA11CE00000000000000000000000000000000000")
	bob    = common.HexToAddress("0xB0B0000000000000000000000000000000000000")
	self   = common.HexToAddress("0x5E1F000000000000000000000000000000000000")
	tokenA = common.HexToAddress("0x000000000000000000000000000000000000000A")
	tokenB = common.HexToAddress("0x000000000000000000000000000000000000000B")
)

func newTxn(t *testing.T) *storage.Txn {
	t.Helper()
	store, err := storage.NewMemStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	txn := store.Begin()
	t.Cleanup(txn.Discard)
	return txn
}

func newOrder(creator common.Address, amount uint64) *Order {
	o := &Order{
		FromAsset:       tokenA,
		ToAsset:         tokenB,
		Creator:         creator,
		CreatedAtHeight: 7,
		CreatedAtTime:   1_700_000_000,
	}
	o.Amount.SetUint64(amount)
	o.RequestedAmount.SetUint64(amount * 2)
	o.Fee.SetUint64(amount / 100)
	return o
}

func TestAppendAssignsSequentialPositions(t *testing.T) {
	txn := newTxn(t)

	for i := uint32(0); i < 3; i++ {
		pos, err := Append(txn, alice, newOrder(alice, 100))
		require.NoError(t, err)
		assert.Equal(t, i, pos)
	}

	n, err := Len(txn, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	o, err := Get(txn, alice, 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), o.Position)
	assert.Equal(t, "100", o.Amount.Dec())
	assert.Equal(t, "200", o.RequestedAmount.Dec())
}

func TestGetNotFound(t *testing.T) {
	txn := newTxn(t)

	_, err := Get(txn, alice, 0)
	assert.True(t, escrowerr.NotFound.Has(err))

	_, err = Append(txn, alice, newOrder(alice, 1))
	require.NoError(t, err)
	_, err = Get(txn, alice, 1)
	assert.True(t, escrowerr.NotFound.Has(err))
}

func TestAppendLimit(t *testing.T) {
	txn := newTxn(t)
	require.NoError(t, storage.SetUint64(txn, storage.OrderCountKey(alice), uint64(^uint32(0))+1))

	_, err := Append(txn, alice, newOrder(alice, 1))
	assert.True(t, escrowerr.ImplementationLimitReached.Has(err))
}

func TestPage(t *testing.T) {
	txn := newTxn(t)

	orders, total, err := Page(txn, alice, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.NotNil(t, orders)
	assert.Zero(t, total)

	for i := 0; i < 7; i++ {
		_, err := Append(txn, alice, newOrder(alice, uint64(i+1)))
		require.NoError(t, err)
	}

	tests := []struct {
		page, size uint32
		want       []uint32
	}{
		{0, 3, []uint32{6, 5, 4}},
		{1, 3, []uint32{3, 2, 1}},
		{2, 3, []uint32{0}},
		{3, 3, nil},
		{0, 10, []uint32{6, 5, 4, 3, 2, 1, 0}},
		{0, 0, nil},
	}
	for _, tt := range tests {
		orders, total, err := Page(txn, alice, tt.page, tt.size)
		require.NoError(t, err)
		assert.Equal(t, uint64(7), total)

		var got []uint32
		for _, o := range orders {
			got = append(got, o.Position)
		}
		assert.Equal(t, tt.want, got, "page %d size %d", tt.page, tt.size)
	}
}

func TestReplaceRejectsIllegalTransitions(t *testing.T) {
	txn := newTxn(t)
	_, err := Append(txn, alice, newOrder(alice, 100))
	require.NoError(t, err)

	o, err := Get(txn, alice, 0)
	require.NoError(t, err)
	o.FilledAmount.SetUint64(40)
	o.Cancelled = true
	require.NoError(t, Replace(txn, alice, 0, o))

	mutations := map[string]func(o *Order){
		"amount":      func(o *Order) { o.Amount.SetUint64(101) },
		"creator":     func(o *Order) { o.Creator = bob },
		"asset":       func(o *Order) { o.ToAsset = tokenA },
		"fee":         func(o *Order) { o.Fee.SetUint64(0) },
		"requested":   func(o *Order) { o.RequestedAmount.SetUint64(1) },
		"provenance":  func(o *Order) { o.CreatedAtHeight++ },
		"mirror":      func(o *Order) { o.MirrorPosition = 9 },
		"filled down": func(o *Order) { o.FilledAmount.SetUint64(39) },
		"overfill":    func(o *Order) { o.FilledAmount.SetUint64(101) },
		"un-cancel":   func(o *Order) { o.Cancelled = false },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cur, err := Get(txn, alice, 0)
			require.NoError(t, err)
			mutate(cur)
			err = Replace(txn, alice, 0, cur)
			assert.True(t, Error.Has(err), "got %v", err)
		})
	}

	assert.True(t, escrowerr.NotFound.Has(Replace(txn, alice, 1, o)))
}

func TestStatus(t *testing.T) {
	o := newOrder(alice, 10)
	assert.Equal(t, StatusOpen, o.Status())
	require.NoError(t, o.CheckOpen())

	o.FilledAmount.SetUint64(3)
	assert.Equal(t, StatusPartiallyFilled, o.Status())

	o.FilledAmount.SetUint64(10)
	assert.Equal(t, StatusFilled, o.Status())
	assert.True(t, escrowerr.AlreadyFilled.Has(o.CheckOpen()))

	o.Cancelled = true
	assert.Equal(t, StatusCancelled, o.Status())
	assert.True(t, escrowerr.AlreadyCancelled.Has(o.CheckOpen()))
}

func TestRemainingUnderflow(t *testing.T) {
	o := newOrder(alice, 10)
	o.FilledAmount.SetUint64(11)
	_, err := o.Remaining()
	assert.True(t, escrowerr.ArithmeticUnderflow.Has(err))
}

func TestRecordRoundTripKeepsWideQuantities(t *testing.T) {
	txn := newTxn(t)
	o := newOrder(alice, 1)
	o.Amount.SetAllOne()

	_, err := Append(txn, alice, o)
	require.NoError(t, err)

	got, err := Get(txn, alice, 0)
	require.NoError(t, err)
	assert.True(t, got.Amount.Eq(new(uint256.Int).SetAllOne()))
}
