package registry

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
	tokenA = common.HexToAddress("0x0000000000000000000000000000000000000001")
	tokenB = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

func newStore(t *testing.T) *storage.PebbleStore {
	t.Helper()
	store, err := storage.NewMemStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRegisterOnce(t *testing.T) {
	store := newStore(t)
	txn := store.Begin()

	created, err := Register(txn, tokenA, "hash-a")
	require.NoError(t, err)
	assert.True(t, created)

	_, err = AddToSum(txn, tokenA, uint256.NewInt(500))
	require.NoError(t, err)

	created, err = Register(txn, tokenA, "other-hash")
	require.NoError(t, err)
	assert.False(t, created)

	tok, err := Get(txn, tokenA)
	require.NoError(t, err)
	assert.Equal(t, "hash-a", tok.CodeHash)
	assert.Equal(t, uint64(500), tok.SumBalance.Uint64())
	require.NoError(t, txn.Commit())
}

func TestGetUnregistered(t *testing.T) {
	store := newStore(t)

	tok, err := Lookup(store, tokenB)
	require.NoError(t, err)
	assert.Nil(t, tok)

	_, err = Get(store, tokenB)
	assert.True(t, escrowerr.UnregisteredAsset.Has(err))

	txn := store.Begin()
	defer txn.Discard()
	_, err = AddToSum(txn, tokenB, uint256.NewInt(1))
	assert.True(t, escrowerr.UnregisteredAsset.Has(err))
}

func TestAddToSumOverflow(t *testing.T) {
	store := newStore(t)
	txn := store.Begin()
	defer txn.Discard()

	_, err := Register(txn, tokenA, "")
	require.NoError(t, err)
	_, err = AddToSum(txn, tokenA, new(uint256.Int).SetAllOne())
	require.NoError(t, err)
	_, err = AddToSum(txn, tokenA, uint256.NewInt(1))
	assert.True(t, escrowerr.ArithmeticOverflow.Has(err))
}

func TestReleaseKeepsSumBalance(t *testing.T) {
	store := newStore(t)
	txn := store.Begin()
	defer txn.Discard()

	_, err := Register(txn, tokenA, "hash-a")
	require.NoError(t, err)
	_, err = AddToSum(txn, tokenA, uint256.NewInt(100))
	require.NoError(t, err)

	tok, err := Release(txn, tokenA, uint256.NewInt(60))
	require.NoError(t, err)
	assert.Equal(t, uint64(100), tok.SumBalance.Uint64())
	assert.Equal(t, uint64(40), tok.Outstanding.Uint64())

	_, err = Release(txn, tokenA, uint256.NewInt(41))
	assert.True(t, escrowerr.ArithmeticUnderflow.Has(err))

	tok, err = Get(txn, tokenA)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), tok.Outstanding.Uint64())
}

func TestAll(t *testing.T) {
	store := newStore(t)
	txn := store.Begin()
	for _, a := range []common.Address{tokenB, tokenA} {
		_, err := Register(txn, a, a.Hex())
		require.NoError(t, err)
	}
	require.NoError(t, txn.Commit())

	tokens, err := All(store)
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, tokenA, tokens[0].Address)
	assert.Equal(t, tokenB, tokens[1].Address)
}
