package storage

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *PebbleStore {
	s, err := NewMemStore()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTxnCommitMakesWritesVisible(t *testing.T) {
	s := newTestStore(t)

	txn := s.Begin()
	require.NoError(t, txn.Set([]byte("a"), []byte("1")))

	// read-your-writes inside the transaction
	v, ok, err := txn.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", string(v))

	// invisible outside until commit
	_, ok, err = s.Get([]byte("a"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, txn.Commit())

	v, ok, err = s.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", string(v))
}

func TestTxnDiscardDropsWrites(t *testing.T) {
	s := newTestStore(t)

	txn := s.Begin()
	require.NoError(t, txn.Set([]byte("a"), []byte("1")))
	txn.Discard()
	txn.Discard() // idempotent

	_, ok, err := s.Get([]byte("a"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.Error(t, txn.Commit())
}

func TestTxnReadsThroughToCommittedState(t *testing.T) {
	s := newTestStore(t)

	txn := s.Begin()
	require.NoError(t, SetUint64(txn, []byte("n"), 7))
	require.NoError(t, txn.Commit())

	txn = s.Begin()
	defer txn.Discard()
	n, err := GetUint64(txn, []byte("n"))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), n)

	missing, err := GetUint64(txn, []byte("missing"))
	require.NoError(t, err)
	assert.Zero(t, missing)
}

func TestJSONHelpers(t *testing.T) {
	s := newTestStore(t)

	type rec struct {
		Name string `json:"name"`
	}

	txn := s.Begin()
	require.NoError(t, SetJSON(txn, []byte("r"), rec{Name: "x"}))
	require.NoError(t, txn.Commit())

	var out rec
	ok, err := GetJSON(s, []byte("r"), &out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "x", out.Name)

	ok, err = GetJSON(s, []byte("nope"), &out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScanOrderAndReverse(t *testing.T) {
	s := newTestStore(t)
	owner := common.HexToAddress("0xAA00000000000000000000000000000000000000")

	txn := s.Begin()
	for pos := uint32(0); pos < 12; pos++ {
		require.NoError(t, txn.Set(OrderKey(owner, pos), []byte{byte(pos)}))
	}
	require.NoError(t, txn.Commit())

	var forward []byte
	require.NoError(t, s.Scan(OrderPrefix(owner), false, func(_, v []byte) bool {
		forward = append(forward, v[0])
		return true
	}))
	assert.Equal(t, []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, forward)

	var newest []byte
	require.NoError(t, s.Scan(OrderPrefix(owner), true, func(_, v []byte) bool {
		newest = append(newest, v[0])
		return len(newest) < 3
	}))
	assert.Equal(t, []byte{11, 10, 9}, newest)
}

func TestPebbleStoreReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")

	s, err := NewPebbleStore(dir)
	require.NoError(t, err)
	txn := s.Begin()
	require.NoError(t, txn.Set(ConfigKey(), []byte("cfg")))
	require.NoError(t, txn.Commit())
	require.NoError(t, s.Close())

	s, err = NewPebbleStore(dir)
	require.NoError(t, err)
	defer s.Close()
	v, ok, err := s.Get(ConfigKey())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cfg", string(v))
}
