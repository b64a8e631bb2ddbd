// Package chain is the single-sequencer block producer. It drains the
// application's mempool on a fixed cadence and records every block header.
package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"github.com/uhyunpark/escrowd/pkg/abci"
	"github.com/uhyunpark/escrowd/pkg/storage"
	"github.com/uhyunpark/escrowd/pkg/util"
)

var mon = monkit.Package()

// Config controls block cadence.
type Config struct {
	MinBlockTime time.Duration
	MaxTxBytes   int64
	// SkipEmpty suppresses blocks with no transactions.
	SkipEmpty bool
}

// Store is the header store; PebbleStore satisfies it.
type Store interface {
	storage.Reader
	Begin() *storage.Txn
}

type Producer struct {
	cfg    Config
	app    abci.Application
	store  Store
	clock  util.Clock
	wal    storage.WAL
	logger *zap.SugaredLogger

	// OnBlockCommit runs on the producer goroutine after each header is
	// persisted.
	OnBlockCommit func(Header, abci.ResponseFinalizeBlock)

	mu   sync.RWMutex
	head Header
}

// NewProducer resumes from the stored head, if any.
func NewProducer(cfg Config, app abci.Application, store Store, clock util.Clock, wal storage.WAL, logger *zap.SugaredLogger) (*Producer, error) {
	if wal == nil {
		wal = storage.NewNopWAL()
	}
	p := &Producer{cfg: cfg, app: app, store: store, clock: clock, wal: wal, logger: logger}
	head, err := Head(store)
	if err != nil {
		return nil, err
	}
	if head != nil {
		p.head = *head
		logger.Infow("resume", "height", head.Height, "apphash", fmt.Sprintf("0x%x", head.AppHash[:]))
	}
	return p, nil
}

// Head returns the latest produced header; Height is zero before the first
// block.
func (p *Producer) Head() Header {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.head
}

// Block returns the header at height, or nil if none was produced.
func (p *Producer) Block(height uint64) (*Header, error) {
	return GetBlock(p.store, height)
}

// Run produces a block every MinBlockTime until ctx is done.
func (p *Producer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.clock.After(p.cfg.MinBlockTime):
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := p.ProduceBlock(ctx); err != nil {
			return err
		}
	}
}

// RunN produces exactly n blocks, ignoring SkipEmpty. Used by tests.
func (p *Producer) RunN(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := p.produce(ctx, false); err != nil {
			return err
		}
	}
	return nil
}

// ProduceBlock proposes, executes and records one block. It returns nil
// without producing anything if the mempool is empty and SkipEmpty is set.
func (p *Producer) ProduceBlock(ctx context.Context) (*Header, error) {
	return p.produce(ctx, p.cfg.SkipEmpty)
}

func (p *Producer) produce(ctx context.Context, skipEmpty bool) (_ *Header, err error) {
	defer mon.Task()(&ctx)(&err)

	prev := p.Head()
	height := prev.Height + 1

	prop := p.app.PrepareProposal(abci.RequestPrepareProposal{Height: height, MaxTxBytes: p.cfg.MaxTxBytes})
	if len(prop.Txs) == 0 && skipEmpty {
		return nil, nil
	}

	now := p.clock.Now().Unix()
	if now < prev.Time {
		now = prev.Time
	}
	resp := p.app.FinalizeBlock(abci.RequestFinalizeBlock{
		Height:      height,
		Timestamp:   now,
		PrevAppHash: prev.AppHash,
		Txs:         prop.Txs,
	})

	hdr := Header{
		Height:  height,
		Time:    now,
		AppHash: resp.AppHash,
		Txs:     make([]common.Hash, 0, len(resp.TxResults)),
	}
	if prev.Height > 0 {
		hdr.Parent = prev.Hash()
	}
	for _, r := range resp.TxResults {
		hdr.Txs = append(hdr.Txs, r.Hash)
		if r.Code != "ok" {
			hdr.Rejected++
		}
	}

	txn := p.store.Begin()
	defer txn.Discard()
	if err := putHeader(txn, &hdr); err != nil {
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.head = hdr
	p.mu.Unlock()

	p.wal.Append(fmt.Sprintf("commit height=%d txs=%d apphash=0x%x", height, len(hdr.Txs), hdr.AppHash[:]))
	if len(hdr.Txs) > 0 {
		p.logger.Infow("commit",
			"height", height,
			"txs", len(hdr.Txs),
			"rejected", hdr.Rejected,
			"apphash", fmt.Sprintf("0x%x", hdr.AppHash[:]),
		)
	}
	if p.OnBlockCommit != nil {
		p.OnBlockCommit(hdr, resp)
	}
	return &hdr, nil
}
