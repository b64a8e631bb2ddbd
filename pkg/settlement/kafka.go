package settlement

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/uhyunpark/escrowd/pkg/storage"
)

// relayPage bounds how many staged batches one Flush publishes.
const relayPage = 256

// MessageWriter is the part of *kafka.Writer the relay needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OutboxRequest is the wire form of a Request.
type OutboxRequest struct {
	Kind      Kind            `json:"kind"`
	Asset     *common.Address `json:"asset,omitempty"`
	Denom     string          `json:"denom,omitempty"`
	Recipient *common.Address `json:"recipient,omitempty"`
	Amount    string          `json:"amount,omitempty"`
}

// OutboxMessage is the value of each published message.
type OutboxMessage struct {
	Height   uint64          `json:"height"`
	TxHash   common.Hash     `json:"tx_hash"`
	Sender   common.Address  `json:"sender"`
	Requests []OutboxRequest `json:"requests"`
}

// EncodeBatch builds the outbox message value for b. Viewing keys are never
// published.
func EncodeBatch(b *Batch) ([]byte, error) {
	msg := OutboxMessage{Height: b.Height, TxHash: b.TxHash, Sender: b.Sender}
	for _, r := range b.Requests {
		out := OutboxRequest{Kind: r.Kind, Denom: r.Denom}
		if r.Asset != (common.Address{}) {
			asset := r.Asset
			out.Asset = &asset
		}
		if r.Kind == KindTransfer || r.Kind == KindNativeSend {
			recipient := r.Recipient
			out.Recipient = &recipient
			out.Amount = r.Amount.Dec()
		}
		msg.Requests = append(msg.Requests, out)
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return nil, Error.New("encode batch %s: %v", b.TxHash.Hex(), err)
	}
	return value, nil
}

// Stage writes b to the outbox inside the invocation's own write batch, so
// the entry exists exactly when the invocation commits. index is the
// transaction's position in its block.
func Stage(w storage.Writer, index int, b *Batch) error {
	if len(b.Requests) == 0 {
		return nil
	}
	value, err := EncodeBatch(b)
	if err != nil {
		return err
	}
	return w.Set(storage.OutboxKey(b.Height, index), value)
}

// OutboxStore is the committed state the relay drains.
type OutboxStore interface {
	Scan(prefix []byte, reverse bool, fn func(key, value []byte) bool) error
	Begin() *storage.Txn
}

// Relay publishes staged batches to Kafka in execution order, one message
// per batch keyed by transaction hash, and deletes them once the broker
// acknowledged. Delivery is at least once: a crash between the ack and the
// delete republishes the same key.
type Relay struct {
	store  OutboxStore
	writer MessageWriter
	logger *zap.SugaredLogger
}

func NewKafkaRelay(store OutboxStore, brokers []string, topic string, logger *zap.SugaredLogger) *Relay {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return NewRelay(store, w, logger)
}

func NewRelay(store OutboxStore, w MessageWriter, logger *zap.SugaredLogger) *Relay {
	return &Relay{store: store, writer: w, logger: logger}
}

// Flush publishes up to one page of staged batches and returns how many it
// removed from the outbox.
func (r *Relay) Flush(ctx context.Context) (_ int, err error) {
	defer mon.Task()(&ctx)(&err)

	var (
		keys   [][]byte
		msgs   []kafka.Message
		decErr error
	)
	err = r.store.Scan(storage.OutboxPrefix(), false, func(key, value []byte) bool {
		var out OutboxMessage
		if decErr = storage.DecodeJSON(value, &out); decErr != nil {
			return false
		}
		keys = append(keys, append([]byte(nil), key...))
		msgs = append(msgs, kafka.Message{Key: out.TxHash.Bytes(), Value: append([]byte(nil), value...)})
		return len(msgs) < relayPage
	})
	if err != nil {
		return 0, err
	}
	if decErr != nil {
		return 0, decErr
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	if err := r.writer.WriteMessages(ctx, msgs...); err != nil {
		r.logger.Warnw("outbox_publish_failed", "batches", len(msgs), "err", err)
		return 0, Error.New("publish outbox: %v", err)
	}

	txn := r.store.Begin()
	defer txn.Discard()
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return 0, err
		}
	}
	if err := txn.Commit(); err != nil {
		return 0, err
	}
	r.logger.Debugw("outbox_flushed", "batches", len(msgs))
	return len(msgs), nil
}

// Run flushes the outbox every interval until ctx is done. A failed flush is
// retried on the next tick.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for {
			n, err := r.Flush(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Warnw("outbox_relay_failed", "err", err)
				}
				break
			}
			if n < relayPage {
				break
			}
		}
	}
}

func (r *Relay) Close() error { return Error.Wrap(r.writer.Close()) }
