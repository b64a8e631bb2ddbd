// Package escrow implements the order-escrow engine: order creation on
// inbound transfers, cancellation with refund, allow-listed fills, token
// registration and surplus rescue.
//
// Every entry point runs against one invocation's provisional state and
// returns the outbound requests the host must execute before committing it.
// An error means the host discards the whole invocation.
package escrow

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"github.com/uhyunpark/escrowd/pkg/escrowerr"
	"github.com/uhyunpark/escrowd/pkg/ledger"
	"github.com/uhyunpark/escrowd/pkg/settlement"
	"github.com/uhyunpark/escrowd/pkg/storage"
)

var mon = monkit.Package()

// TokenQuerier answers balance queries against token contracts.
type TokenQuerier interface {
	// Balance fails with escrowerr.Unauthorized if key is not owner's
	// viewing key on asset.
	Balance(r storage.Reader, asset, owner common.Address, key string) (*uint256.Int, error)
	NativeBalance(r storage.Reader, denom string, owner common.Address) (*uint256.Int, error)
}

// Env is the block context of an invocation.
type Env struct {
	Height uint64
	Time   int64
}

type Engine struct {
	querier TokenQuerier
	logger  *zap.SugaredLogger
}

func NewEngine(querier TokenQuerier, logger *zap.SugaredLogger) *Engine {
	return &Engine{querier: querier, logger: logger}
}

func (e *Engine) pair(cfg *Config) ledger.Pair {
	return ledger.Pair{Counterparty: cfg.Self}
}

// Init stores the initial configuration. It can only run once.
func (e *Engine) Init(ctx context.Context, rw storage.ReadWriter, cfg Config) (err error) {
	defer mon.Task()(&ctx)(&err)

	if _, err := loadConfig(rw); err == nil {
		return escrowerr.InvalidMessage.New("already initialized")
	} else if !escrowerr.NotInitialized.Has(err) {
		return err
	}
	if cfg.Self == (common.Address{}) || cfg.Admin == (common.Address{}) {
		return escrowerr.InvalidMessage.New("admin and self identities are required")
	}
	cfg.normalize()
	if err := saveConfig(rw, &cfg); err != nil {
		return err
	}
	e.logger.Infow("escrow_initialized",
		"admin", cfg.Admin.Hex(),
		"self", cfg.Self.Hex(),
		"loyalty", cfg.Loyalty.Hex(),
		"fillers", len(cfg.Fillers),
	)
	return nil
}

// Config returns the stored configuration.
func (e *Engine) Config(r storage.Reader) (*Config, error) {
	return loadConfig(r)
}

// Receive handles a transfer notification from a token.
func (e *Engine) Receive(ctx context.Context, rw storage.ReadWriter, env Env, msg Receive) (_ []settlement.Request, err error) {
	defer mon.Task()(&ctx)(&err)

	cfg, err := loadConfig(rw)
	if err != nil {
		return nil, err
	}
	instr, err := DecodeReceiveMsg(msg.Msg)
	if err != nil {
		return nil, err
	}

	switch {
	case instr.CreateOrder != nil:
		return nil, e.createOrder(ctx, rw, env, cfg, msg, instr.CreateOrder)
	case instr.FillOrder != nil:
		return e.fillOrder(ctx, rw, cfg, msg, instr.FillOrder)
	default:
		return e.cancelBySendBack(ctx, rw, cfg, msg, instr.CancelOrder)
	}
}
