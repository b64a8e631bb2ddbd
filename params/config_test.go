package params

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CHAIN_MIN_BLOCK_TIME", "50ms")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")

	cfg, err := Load("testdata/does-not-exist.env")
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, cfg.Chain.MinBlockTime)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "info", cfg.Node.LogLevel)
	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.True(t, cfg.Chain.SkipEmpty)
}

func TestGenesisBuild(t *testing.T) {
	g := Genesis{
		Admin:        "0xad00000000000000000000000000000000000000",
		Self:         "0x5e1f000000000000000000000000000000000000",
		Loyalty:      "0x0000000000000000000000000000000000000b77",
		ViewingKey:   "vk",
		ExecutionFee: "5",
		Tokens:       []string{"0x0000000000000000000000000000000000000001:hash-a"},
		Allocations: []string{
			"0x0000000000000000000000000000000000000001:0xa11ce00000000000000000000000000000000000:1000",
			"uscrt:0xa11ce00000000000000000000000000000000000:7",
		},
		ViewingKeys: []string{"0x0000000000000000000000000000000000000b77:0xa11ce00000000000000000000000000000000000:k:with:colons"},
	}
	out, err := g.Build()
	require.NoError(t, err)

	assert.Equal(t, common.HexToAddress("0xad00000000000000000000000000000000000000"), out.Escrow.Admin)
	assert.Equal(t, "5", out.Escrow.ExecutionFee.Dec())
	require.Len(t, out.Tokens, 1)
	assert.Equal(t, "hash-a", out.Tokens[0].CodeHash)
	require.Len(t, out.Allocations, 2)
	assert.Equal(t, "", out.Allocations[0].Denom)
	assert.Equal(t, "uscrt", out.Allocations[1].Denom)
	require.Len(t, out.ViewingKeys, 1)
	assert.Equal(t, "k:with:colons", out.ViewingKeys[0].Key)
}

func TestGenesisBuildRejectsBadInput(t *testing.T) {
	base := Genesis{
		Admin:        "0xad00000000000000000000000000000000000000",
		Self:         "0x5e1f000000000000000000000000000000000000",
		ExecutionFee: "0",
	}

	cases := map[string]func(g *Genesis){
		"admin":      func(g *Genesis) { g.Admin = "nope" },
		"fee":        func(g *Genesis) { g.ExecutionFee = "x" },
		"allocation": func(g *Genesis) { g.Allocations = []string{"a:b"} },
		"amount":     func(g *Genesis) { g.Allocations = []string{"uscrt:0xad00000000000000000000000000000000000000:abc"} },
		"key":        func(g *Genesis) { g.ViewingKeys = []string{"0x01:0x02"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			g := base
			mutate(&g)
			_, err := g.Build()
			require.Error(t, err)
		})
	}
}

func TestFeederBuild(t *testing.T) {
	g, err := Genesis{
		Admin:        "0xad00000000000000000000000000000000000000",
		Self:         "0x5e1f000000000000000000000000000000000000",
		Loyalty:      "0x0000000000000000000000000000000000000b77",
		ExecutionFee: "0",
	}.Build()
	require.NoError(t, err)

	f := Feeder{
		Accounts:      3,
		BatchSize:     4,
		Interval:      time.Second,
		Seed:          "seed",
		FromAsset:     "0x0000000000000000000000000000000000000001",
		ToAsset:       "0x0000000000000000000000000000000000000002",
		CancelPercent: 50,
	}
	cfg, err := f.Build(g)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Accounts)
	assert.Equal(t, 4, cfg.BatchSize)
	assert.Equal(t, time.Second, cfg.Interval)
	assert.Equal(t, g.Escrow.Self, cfg.Self)
	assert.Equal(t, g.Escrow.Loyalty, cfg.Loyalty)
	assert.Equal(t, common.HexToAddress("0x0000000000000000000000000000000000000002"), cfg.ToAsset)

	f.ToAsset = ""
	_, err = f.Build(g)
	require.Error(t, err)
}
