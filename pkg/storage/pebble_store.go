package storage

import (
	"errors"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/zeebo/errs"
)

// Error is the class of all storage failures.
var Error = errs.Class("storage")

// Reader is satisfied by the committed store and by an open Txn.
type Reader interface {
	// Get returns a copy of the value at key; ok is false if the key is absent.
	Get(key []byte) (value []byte, ok bool, err error)
}

// Writer mutates state.
type Writer interface {
	Set(key, value []byte) error
	Delete(key []byte) error
}

// ReadWriter is what an invocation operates on.
type ReadWriter interface {
	Reader
	Writer
}

type PebbleStore struct {
	db *pebble.DB
}

// NewPebbleStore opens a Pebble database at the given path
func NewPebbleStore(path string) (*PebbleStore, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20),
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, Error.New("open pebble db at %s: %v", path, err)
	}
	return &PebbleStore{db: db}, nil
}

// NewMemStore opens a Pebble database backed by an in-memory filesystem.
// Used by tests and ephemeral devnets.
func NewMemStore() (*PebbleStore, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return Error.Wrap(s.db.Close()) }

// Get reads committed state.
func (s *PebbleStore) Get(key []byte) ([]byte, bool, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, Error.Wrap(err)
	}
	defer closer.Close()
	return append([]byte(nil), val...), true, nil
}

// Scan calls fn for every committed key with the given prefix, in key order.
// Iteration stops early if fn returns false.
func (s *PebbleStore) Scan(prefix []byte, reverse bool, fn func(key, value []byte) bool) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return Error.Wrap(err)
	}
	defer iter.Close()

	if reverse {
		for iter.Last(); iter.Valid(); iter.Prev() {
			if !fn(iter.Key(), iter.Value()) {
				break
			}
		}
	} else {
		for iter.First(); iter.Valid(); iter.Next() {
			if !fn(iter.Key(), iter.Value()) {
				break
			}
		}
	}
	return Error.Wrap(iter.Error())
}

// Begin opens a read-your-writes transaction over the store.
// Nothing written through the Txn is visible to other readers until Commit.
func (s *PebbleStore) Begin() *Txn {
	return &Txn{b: s.db.NewIndexedBatch()}
}

// Txn is one invocation's provisional state: an indexed Pebble batch.
// It must end with exactly one Commit or Discard.
type Txn struct {
	b    *pebble.Batch
	done bool
}

func (t *Txn) Get(key []byte) ([]byte, bool, error) {
	val, closer, err := t.b.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, Error.Wrap(err)
	}
	defer closer.Close()
	return append([]byte(nil), val...), true, nil
}

func (t *Txn) Set(key, value []byte) error {
	return Error.Wrap(t.b.Set(key, value, nil))
}

func (t *Txn) Delete(key []byte) error {
	return Error.Wrap(t.b.Delete(key, nil))
}

// Empty reports whether nothing has been written yet.
func (t *Txn) Empty() bool { return t.b.Empty() }

// Repr returns the batch's wire representation, used to fold committed
// writes into the app hash.
func (t *Txn) Repr() []byte { return t.b.Repr() }

// Commit durably applies every write.
func (t *Txn) Commit() error {
	if t.done {
		return Error.New("transaction already finished")
	}
	t.done = true
	defer t.b.Close()
	return Error.Wrap(t.b.Commit(pebble.Sync))
}

// Discard drops every write. Safe to call after Commit.
func (t *Txn) Discard() {
	if t.done {
		return
	}
	t.done = true
	_ = t.b.Close()
}

var (
	_ ReadWriter = (*Txn)(nil)
	_ Reader     = (*PebbleStore)(nil)
)
