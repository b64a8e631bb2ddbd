package params

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"

	"github.com/uhyunpark/escrowd/pkg/app/escrowd"
	"github.com/uhyunpark/escrowd/pkg/escrow"
)

type Node struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`
	// SignerKey is the hex private key cmd/sign-tx signs with.
	SignerKey string `env:"SIGNER_KEY"`
}

type Chain struct {
	// MinBlockTime throttles block production.
	//
	// Recommended values:
	//   - Devnet:   200ms (5 blocks/sec)
	//   - Testing:  10ms
	MinBlockTime time.Duration `env:"MIN_BLOCK_TIME" envDefault:"200ms"`
	MaxTxBytes   int64         `env:"MAX_TX_BYTES" envDefault:"1048576"`
	MaxPending   int           `env:"MAX_PENDING" envDefault:"10000"`
	SkipEmpty    bool          `env:"SKIP_EMPTY" envDefault:"true"`
	ChainID      int64         `env:"CHAIN_ID" envDefault:"1337"`
}

type Storage struct {
	// DataDir holds the Pebble database. Empty means in-memory.
	DataDir string `env:"DATA_DIR" envDefault:"data/escrowd"`
	// WALFile receives one audit line per invocation and block.
	WALFile string `env:"WAL_FILE"`
}

type API struct {
	Addr           string   `env:"ADDR" envDefault:":8080"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://localhost:3001"`
}

type Kafka struct {
	// Brokers empty disables the settlement outbox.
	Brokers       []string      `env:"BROKERS" envSeparator:","`
	Topic         string        `env:"TOPIC" envDefault:"escrow-settlements"`
	FlushInterval time.Duration `env:"FLUSH_INTERVAL" envDefault:"500ms"`
}

// Genesis describes the devnet's initial state. List entries are
// comma-separated; fields within an entry are colon-separated.
type Genesis struct {
	Admin        string   `env:"ADMIN"`
	Self         string   `env:"SELF" envDefault:"0x5e1f000000000000000000000000000000000000"`
	Loyalty      string   `env:"LOYALTY"`
	CodeHash     string   `env:"CODE_HASH"`
	ViewingKey   string   `env:"VIEWING_KEY" envDefault:"escrowd-viewing-key"`
	Fillers      []string `env:"FILLERS" envSeparator:","`
	FeeRecipient string   `env:"FEE_RECIPIENT"`
	ExecutionFee string   `env:"EXECUTION_FEE" envDefault:"0"`
	// Tokens: address:code_hash
	Tokens []string `env:"TOKENS" envSeparator:","`
	// Allocations: asset_or_denom:owner:amount
	Allocations []string `env:"ALLOCATIONS" envSeparator:","`
	// ViewingKeys: asset:owner:key
	ViewingKeys []string `env:"VIEWING_KEYS" envSeparator:","`
}

// Feeder generates devnet traffic from simulated accounts funded at genesis.
type Feeder struct {
	Enabled   bool          `env:"ENABLED"`
	Accounts  int           `env:"ACCOUNTS" envDefault:"20"`
	BatchSize int           `env:"BATCH_SIZE" envDefault:"10"`
	Interval  time.Duration `env:"INTERVAL" envDefault:"200ms"`
	Seed      string        `env:"SEED" envDefault:"escrowd-devnet"`
	FromAsset string        `env:"FROM_ASSET"`
	ToAsset   string        `env:"TO_ASSET"`
	Funding   string        `env:"FUNDING" envDefault:"1000000000000"`
	// CancelPercent of generated transactions cancel an earlier order.
	CancelPercent int `env:"CANCEL_PERCENT" envDefault:"20"`
}

// Build returns the feeder configuration for the escrow described by g.
func (f Feeder) Build(g escrowd.Genesis) (escrowd.FeederConfig, error) {
	cfg := escrowd.DefaultFeederConfig()
	from, err := parseAddress("feeder from_asset", f.FromAsset)
	if err != nil {
		return cfg, err
	}
	to, err := parseAddress("feeder to_asset", f.ToAsset)
	if err != nil {
		return cfg, err
	}
	cfg.Accounts = f.Accounts
	cfg.BatchSize = f.BatchSize
	cfg.Interval = f.Interval
	cfg.Seed = f.Seed
	cfg.CancelPercent = f.CancelPercent
	cfg.Self = g.Escrow.Self
	cfg.Loyalty = g.Escrow.Loyalty
	cfg.FromAsset = from
	cfg.ToAsset = to
	return cfg, nil
}

type Config struct {
	Node    Node    `envPrefix:"NODE_"`
	Chain   Chain   `envPrefix:"CHAIN_"`
	Storage Storage `envPrefix:"STORAGE_"`
	API     API     `envPrefix:"API_"`
	Kafka   Kafka   `envPrefix:"KAFKA_"`
	Genesis Genesis `envPrefix:"GENESIS_"`
	Feeder  Feeder  `envPrefix:"FEEDER_"`
}

// Load reads configuration from the .env file at envPath (if it exists) and
// the environment. Priority: ENV > .env file > defaults.
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, s)
	}
	return common.HexToAddress(s), nil
}

// Build converts the genesis section into the application's genesis.
func (g Genesis) Build() (escrowd.Genesis, error) {
	var out escrowd.Genesis

	admin, err := parseAddress("admin", g.Admin)
	if err != nil {
		return out, err
	}
	self, err := parseAddress("self", g.Self)
	if err != nil {
		return out, err
	}
	cfg := escrow.Config{
		Admin:      admin,
		Self:       self,
		CodeHash:   g.CodeHash,
		ViewingKey: g.ViewingKey,
	}
	if g.Loyalty != "" {
		if cfg.Loyalty, err = parseAddress("loyalty", g.Loyalty); err != nil {
			return out, err
		}
	}
	if g.FeeRecipient != "" {
		if cfg.FeeRecipient, err = parseAddress("fee_recipient", g.FeeRecipient); err != nil {
			return out, err
		}
	}
	for _, f := range g.Fillers {
		addr, err := parseAddress("fillers", f)
		if err != nil {
			return out, err
		}
		cfg.Fillers = append(cfg.Fillers, addr)
	}
	if err := cfg.ExecutionFee.SetFromDecimal(g.ExecutionFee); err != nil {
		return out, fmt.Errorf("execution_fee %q: %w", g.ExecutionFee, err)
	}
	out.Escrow = cfg

	for _, entry := range g.Tokens {
		parts := strings.SplitN(entry, ":", 2)
		addr, err := parseAddress("tokens", parts[0])
		if err != nil {
			return out, err
		}
		ref := escrow.TokenRef{Address: addr}
		if len(parts) == 2 {
			ref.CodeHash = parts[1]
		}
		out.Tokens = append(out.Tokens, ref)
	}

	for _, entry := range g.Allocations {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return out, fmt.Errorf("allocations: want asset:owner:amount, got %q", entry)
		}
		owner, err := parseAddress("allocations", parts[1])
		if err != nil {
			return out, err
		}
		if _, err := uint256.FromDecimal(parts[2]); err != nil {
			return out, fmt.Errorf("allocations: amount %q: %w", parts[2], err)
		}
		al := escrowd.Allocation{Owner: owner, Amount: parts[2]}
		if common.IsHexAddress(parts[0]) {
			al.Asset = common.HexToAddress(parts[0])
		} else {
			al.Denom = parts[0]
		}
		out.Allocations = append(out.Allocations, al)
	}

	for _, entry := range g.ViewingKeys {
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 {
			return out, fmt.Errorf("viewing_keys: want asset:owner:key, got %q", entry)
		}
		asset, err := parseAddress("viewing_keys", parts[0])
		if err != nil {
			return out, err
		}
		owner, err := parseAddress("viewing_keys", parts[1])
		if err != nil {
			return out, err
		}
		out.ViewingKeys = append(out.ViewingKeys, escrowd.KeyGrant{Asset: asset, Owner: owner, Key: parts[2]})
	}
	return out, nil
}
