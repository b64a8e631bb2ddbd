package escrowd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/uhyunpark/escrowd/pkg/abci"
	"github.com/uhyunpark/escrowd/pkg/crypto"
	"github.com/uhyunpark/escrowd/pkg/escrow"
	"github.com/uhyunpark/escrowd/pkg/storage"
	"github.com/uhyunpark/escrowd/pkg/transaction"
)

func feederConfig() FeederConfig {
	cfg := DefaultFeederConfig()
	cfg.Accounts = 3
	cfg.Self = self
	cfg.Loyalty = loyalty
	cfg.FromAsset = tokenA
	cfg.ToAsset = tokenB
	return cfg
}

func TestTxGeneratorIsDeterministicPerSeed(t *testing.T) {
	a, err := NewTxGenerator(feederConfig(), crypto.DefaultDomain())
	require.NoError(t, err)
	b, err := NewTxGenerator(feederConfig(), crypto.DefaultDomain())
	require.NoError(t, err)
	assert.Equal(t, a.Accounts(), b.Accounts())

	other := feederConfig()
	other.Seed = "another"
	c, err := NewTxGenerator(other, crypto.DefaultDomain())
	require.NoError(t, err)
	assert.NotEqual(t, a.Accounts()[0], c.Accounts()[0])
}

func TestGeneratedTrafficExecutes(t *testing.T) {
	store, err := storage.NewMemStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	domain := crypto.DefaultDomain()
	gen, err := NewTxGenerator(feederConfig(), domain)
	require.NoError(t, err)

	admin, err := crypto.GenerateKey()
	require.NoError(t, err)
	allocs, keys := gen.Genesis("1000000000")
	app := NewApp(store, Options{Verifier: transaction.NewVerifier(domain)}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, app.InitGenesis(context.Background(), Genesis{
		Escrow:      escrow.Config{Admin: admin.Address(), Self: self, Loyalty: loyalty, ViewingKey: "vk"},
		Tokens:      []escrow.TokenRef{{Address: tokenA}, {Address: tokenB}},
		Allocations: allocs,
		ViewingKeys: keys,
	}))

	run := func(height uint64, n int) []abci.TxResult {
		batch, err := gen.GenerateBatch(n)
		require.NoError(t, err)
		for _, raw := range batch {
			_, err := app.PushTx(raw)
			require.NoError(t, err)
		}
		prop := app.PrepareProposal(abci.RequestPrepareProposal{Height: height})
		resp := app.FinalizeBlock(abci.RequestFinalizeBlock{Height: height, Timestamp: int64(height), Txs: prop.Txs})
		require.Len(t, resp.TxResults, n)
		return resp.TxResults
	}

	gen.cfg.CancelPercent = 0
	for _, res := range run(1, 20) {
		require.Equal(t, "ok", res.Code, res.Log)
		assert.Equal(t, string(transaction.TxTypeSend), res.Type)
	}

	// Cancels pick positions at random, so some hit an order twice.
	gen.cfg.CancelPercent = 100
	results := run(2, 10)
	assert.Equal(t, "ok", results[0].Code, results[0].Log)
	for _, res := range results {
		assert.Contains(t, []string{"ok", "already_cancelled"}, res.Code, res.Log)
	}
}

func TestStartTxFeederStops(t *testing.T) {
	store, err := storage.NewMemStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := feederConfig()
	cfg.Interval = time.Millisecond
	cfg.BatchSize = 2
	gen, err := NewTxGenerator(cfg, crypto.DefaultDomain())
	require.NoError(t, err)
	app := NewApp(store, Options{Verifier: transaction.NewVerifier(crypto.DefaultDomain())}, zaptest.NewLogger(t).Sugar())

	cancel := StartTxFeeder(context.Background(), app, gen, zaptest.NewLogger(t).Sugar())
	require.Eventually(t, func() bool { return app.PendingTxs() >= 2 }, 2*time.Second, time.Millisecond)
	cancel()
}
