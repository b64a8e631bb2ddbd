package mempool

import (
	"encoding/json"
	"errors"
	"sync"
)

// Bucket orders transactions within a block.
type Bucket int

const (
	// BucketAdmin holds registration, rescue and config updates so that a
	// block's invocations see the configuration they were signed against.
	BucketAdmin Bucket = iota
	// BucketCancel runs before sends so a cancel beats a fill racing it.
	BucketCancel
	BucketSend
)

var (
	// ErrFull is returned by PushRaw when the pool is at capacity.
	ErrFull = errors.New("mempool full")
	// ErrTooLarge is returned by PushRaw for a transaction that could never
	// fit in a block.
	ErrTooLarge = errors.New("transaction exceeds block size")
)

// ClassifyRaw buckets raw envelope bytes by their "type" field.
// Anything unparseable lands in BucketSend and is rejected at execution.
func ClassifyRaw(b []byte) Bucket {
	if len(b) == 0 || b[0] != '{' {
		return BucketSend
	}
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return BucketSend
	}
	switch env.Type {
	case "register_tokens", "rescue_tokens", "update_config":
		return BucketAdmin
	case "cancel_order":
		return BucketCancel
	default:
		return BucketSend
	}
}

// Mempool keeps one FIFO queue per bucket.
type Mempool struct {
	mu         sync.Mutex
	maxTxs     int
	maxTxBytes int64
	queues     [3][][]byte
	pending    int

	// OnEvict, if set, is called with each transaction SelectForProposal
	// drops because it is larger than the proposal limit.
	OnEvict func(tx []byte)
}

// NewMempool creates a pool holding at most maxTxs transactions, each at
// most maxTxBytes long. Zero means unbounded.
func NewMempool(maxTxs int, maxTxBytes int64) *Mempool {
	return &Mempool{maxTxs: maxTxs, maxTxBytes: maxTxBytes}
}

// PushRaw classifies and enqueues a copy of b.
func (m *Mempool) PushRaw(b []byte) error {
	if m.maxTxBytes > 0 && int64(len(b)) > m.maxTxBytes {
		return ErrTooLarge
	}
	cp := append([]byte(nil), b...)
	bucket := ClassifyRaw(b)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxTxs > 0 && m.pending >= m.maxTxs {
		return ErrFull
	}
	m.queues[bucket] = append(m.queues[bucket], cp)
	m.pending++
	return nil
}

// SelectForProposal removes and returns up to maxBytes worth of txs, admin
// first, then cancels, then sends. Zero maxBytes means no limit. A tx longer
// than maxBytes on its own is evicted rather than left to block its queue.
func (m *Mempool) SelectForProposal(maxBytes int64) [][]byte {
	out, evicted := m.take(maxBytes)
	if m.OnEvict != nil {
		for _, tx := range evicted {
			m.OnEvict(tx)
		}
	}
	return out
}

func (m *Mempool) take(maxBytes int64) (out, evicted [][]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var used int64
	for i := range m.queues {
		q := m.queues[i]
		for len(q) > 0 {
			n := int64(len(q[0]))
			if maxBytes > 0 && n > maxBytes {
				evicted = append(evicted, q[0])
				q = q[1:]
				continue
			}
			if maxBytes > 0 && used+n > maxBytes {
				break
			}
			out = append(out, q[0])
			used += n
			q = q[1:]
		}
		m.queues[i] = q
		if maxBytes > 0 && len(q) > 0 {
			// later buckets must not jump ahead of a blocked earlier one
			break
		}
	}
	m.pending -= len(out) + len(evicted)
	return out, evicted
}

func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}
