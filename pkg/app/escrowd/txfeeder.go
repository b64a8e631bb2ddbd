package escrowd

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/uhyunpark/escrowd/pkg/crypto"
	"github.com/uhyunpark/escrowd/pkg/escrow"
	"github.com/uhyunpark/escrowd/pkg/ledger"
	"github.com/uhyunpark/escrowd/pkg/transaction"
)

// FeederConfig controls simulated devnet traffic.
type FeederConfig struct {
	Accounts  int           // Number of simulated order creators
	BatchSize int           // Transactions per tick
	Interval  time.Duration // How often to generate batches
	// Seed derives the simulated keys, so genesis can fund them.
	Seed       string
	Self       common.Address
	Loyalty    common.Address
	FromAsset  common.Address
	ToAsset    common.Address
	LoyaltyKey string
	// CancelPercent of generated transactions cancel an earlier order.
	CancelPercent int
}

// DefaultFeederConfig returns reasonable defaults for a devnet.
func DefaultFeederConfig() FeederConfig {
	return FeederConfig{
		Accounts:      20,
		BatchSize:     10,
		Interval:      200 * time.Millisecond,
		Seed:          "escrowd-devnet",
		LoyaltyKey:    "feeder-key",
		CancelPercent: 20,
	}
}

// TxGenerator creates signed create and cancel transactions for simulated
// accounts. It is not safe for concurrent use.
type TxGenerator struct {
	cfg     FeederConfig
	signers []*crypto.Signer
	nonces  map[common.Address]uint64
	created map[common.Address]uint32
	rng     *rand.Rand
	typed   *crypto.EIP712Signer
}

func NewTxGenerator(cfg FeederConfig, domain crypto.EIP712Domain) (*TxGenerator, error) {
	signers := make([]*crypto.Signer, cfg.Accounts)
	for i := range signers {
		key := ethcrypto.Keccak256([]byte(fmt.Sprintf("%s/%d", cfg.Seed, i)))
		s, err := crypto.FromPrivateKeyHex(common.Bytes2Hex(key))
		if err != nil {
			return nil, fmt.Errorf("derive account %d: %w", i, err)
		}
		signers[i] = s
	}
	return &TxGenerator{
		cfg:     cfg,
		signers: signers,
		nonces:  make(map[common.Address]uint64),
		created: make(map[common.Address]uint32),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		typed:   crypto.NewEIP712Signer(domain),
	}, nil
}

func (g *TxGenerator) Accounts() []common.Address {
	out := make([]common.Address, len(g.signers))
	for i, s := range g.signers {
		out[i] = s.Address()
	}
	return out
}

// Genesis funds every simulated account with amount of FromAsset and
// installs its loyalty viewing key.
func (g *TxGenerator) Genesis(amount string) ([]Allocation, []KeyGrant) {
	allocs := make([]Allocation, 0, len(g.signers))
	keys := make([]KeyGrant, 0, len(g.signers))
	for _, addr := range g.Accounts() {
		allocs = append(allocs, Allocation{Asset: g.cfg.FromAsset, Owner: addr, Amount: amount})
		keys = append(keys, KeyGrant{Asset: g.cfg.Loyalty, Owner: addr, Key: g.cfg.LoyaltyKey})
	}
	return allocs, keys
}

func (g *TxGenerator) sign(s *crypto.Signer, txType transaction.TxType, payload any) ([]byte, error) {
	addr := s.Address()
	g.nonces[addr]++
	tx, err := transaction.New(txType, addr, g.nonces[addr], payload)
	if err != nil {
		return nil, err
	}
	if err := tx.Sign(g.typed, s); err != nil {
		return nil, err
	}
	return tx.Serialize()
}

// Next returns one signed transaction from a random account.
func (g *TxGenerator) Next() ([]byte, error) {
	s := g.signers[g.rng.Intn(len(g.signers))]
	addr := s.Address()

	if n := g.created[addr]; n > 0 && g.rng.Intn(100) < g.cfg.CancelPercent {
		return g.sign(s, transaction.TxTypeCancelOrder, escrow.CancelOrder{Position: uint32(g.rng.Intn(int(n)))})
	}

	amount := g.rng.Intn(1000) + 1
	requested := amount * (g.rng.Intn(3) + 1)
	msg, err := json.Marshal(escrow.ReceiveMsg{CreateOrder: &escrow.CreateOrderMsg{
		ToAsset:         g.cfg.ToAsset,
		RequestedAmount: fmt.Sprint(requested),
		LoyaltyKey:      g.cfg.LoyaltyKey,
	}})
	if err != nil {
		return nil, err
	}
	raw, err := g.sign(s, transaction.TxTypeSend, transaction.SendPayload{
		Asset:     g.cfg.FromAsset,
		Recipient: g.cfg.Self,
		Amount:    fmt.Sprint(amount),
		Msg:       msg,
	})
	if err != nil {
		return nil, err
	}
	g.created[addr]++
	return raw, nil
}

// GenerateBatch returns up to n transactions, stopping at the first error.
func (g *TxGenerator) GenerateBatch(n int) ([][]byte, error) {
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		raw, err := g.Next()
		if err != nil {
			return out, err
		}
		out = append(out, raw)
	}
	return out, nil
}

// resume continues from the nonces and log lengths already committed, so a
// restarted node keeps feeding valid transactions.
func (g *TxGenerator) resume(app *App) error {
	for _, addr := range g.Accounts() {
		nonce, err := app.Nonce(addr)
		if err != nil {
			return err
		}
		n, err := ledger.Len(app.store, addr)
		if err != nil {
			return err
		}
		g.nonces[addr] = nonce
		g.created[addr] = uint32(n)
	}
	return nil
}

// StartTxFeeder pushes a batch into app's mempool every Interval until the
// returned cancel function is called or ctx is done.
func StartTxFeeder(ctx context.Context, app *App, gen *TxGenerator, logger *zap.SugaredLogger) context.CancelFunc {
	feedCtx, cancel := context.WithCancel(ctx)
	cfg := gen.cfg

	go func() {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		if err := gen.resume(app); err != nil {
			logger.Errorw("txfeeder_resume_failed", "error", err)
			return
		}

		startTime := time.Now()
		pushed, refused := 0, 0
		logger.Infow("txfeeder_started", "accounts", cfg.Accounts, "batch", cfg.BatchSize, "interval", cfg.Interval)

		for {
			select {
			case <-feedCtx.Done():
				elapsed := time.Since(startTime)
				logger.Infow("txfeeder_stopped",
					"pushed", pushed,
					"refused", refused,
					"tx_per_sec", float64(pushed)/elapsed.Seconds(),
				)
				return

			case <-ticker.C:
				batch, err := gen.GenerateBatch(cfg.BatchSize)
				if err != nil {
					logger.Warnw("txfeeder_generate_failed", "error", err)
				}
				for _, raw := range batch {
					if _, err := app.PushTx(raw); err != nil {
						refused++
						continue
					}
					pushed++
				}
			}
		}
	}()

	return cancel
}
