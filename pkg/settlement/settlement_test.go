package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/uhyunpark/escrowd/pkg/storage"
)

var (
	escrow = common.HexToAddress("0x5E1F000000000000000000000000000000000000")
	alice  = common.HexToAddress("0xA11CE00000000000000000000000000000000000")
	tokenA = common.HexToAddress("0x0000000000000000000000000000000000000001")
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func sampleBatch() *Batch {
	return &Batch{
		Height: 12,
		TxHash: common.HexToHash("0x01"),
		Sender: escrow,
		Requests: []Request{
			Transfer(tokenA, "hash", alice, uint256.NewInt(1_000)),
			SetViewingKey(tokenA, "hash", "secret"),
		},
	}
}

func TestChainStopsAtFirstError(t *testing.T) {
	var calls []string
	record := func(name string, err error) Executor {
		return ExecutorFunc(func(context.Context, storage.ReadWriter, *Batch) error {
			calls = append(calls, name)
			return err
		})
	}

	boom := errors.New("boom")
	err := Chain{record("a", nil), record("b", boom), record("c", nil)}.Execute(context.Background(), nil, sampleBatch())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a", "b"}, calls)
}

func newStore(t *testing.T) *storage.PebbleStore {
	t.Helper()
	store, err := storage.NewMemStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func stage(t *testing.T, store *storage.PebbleStore, index int, b *Batch) {
	t.Helper()
	txn := store.Begin()
	defer txn.Discard()
	require.NoError(t, Stage(txn, index, b))
	require.NoError(t, txn.Commit())
}

func TestRelayPublishesStagedBatches(t *testing.T) {
	store := newStore(t)
	stage(t, store, 0, &Batch{Height: 12, TxHash: common.HexToHash("0x02")})
	stage(t, store, 1, sampleBatch())
	later := sampleBatch()
	later.Height, later.TxHash = 13, common.HexToHash("0x03")
	stage(t, store, 0, later)

	w := &fakeWriter{}
	relay := NewRelay(store, w, zaptest.NewLogger(t).Sugar())
	n, err := relay.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// empty batches are never staged; the rest arrive in execution order
	require.Len(t, w.msgs, 2)
	assert.Equal(t, common.HexToHash("0x01").Bytes(), w.msgs[0].Key)
	assert.Equal(t, common.HexToHash("0x03").Bytes(), w.msgs[1].Key)

	var out OutboxMessage
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &out))
	assert.Equal(t, uint64(12), out.Height)
	require.Len(t, out.Requests, 2)
	assert.Equal(t, KindTransfer, out.Requests[0].Kind)
	assert.Equal(t, "1000", out.Requests[0].Amount)
	assert.Equal(t, alice, *out.Requests[0].Recipient)
	assert.Equal(t, KindSetViewingKey, out.Requests[1].Kind)
	assert.NotContains(t, string(w.msgs[0].Value), "secret")

	n, err = relay.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, w.msgs, 2)
}

func TestRelayKeepsBatchesUntilPublished(t *testing.T) {
	store := newStore(t)
	stage(t, store, 0, sampleBatch())

	w := &fakeWriter{err: errors.New("broker down")}
	relay := NewRelay(store, w, zaptest.NewLogger(t).Sugar())
	_, err := relay.Flush(context.Background())
	assert.True(t, Error.Has(err))

	w.err = nil
	n, err := relay.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, w.msgs, 1)
}

func TestStageIsDiscardedWithItsTransaction(t *testing.T) {
	store := newStore(t)
	txn := store.Begin()
	require.NoError(t, Stage(txn, 0, sampleBatch()))
	txn.Discard()

	w := &fakeWriter{}
	n, err := NewRelay(store, w, zaptest.NewLogger(t).Sugar()).Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.msgs)
}
