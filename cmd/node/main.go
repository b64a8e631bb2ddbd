package main

import (
	"context"
	"flag"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/escrowd/params"
	"github.com/uhyunpark/escrowd/pkg/abci"
	"github.com/uhyunpark/escrowd/pkg/api"
	"github.com/uhyunpark/escrowd/pkg/app/escrowd"
	"github.com/uhyunpark/escrowd/pkg/chain"
	"github.com/uhyunpark/escrowd/pkg/crypto"
	"github.com/uhyunpark/escrowd/pkg/mempool"
	"github.com/uhyunpark/escrowd/pkg/settlement"
	"github.com/uhyunpark/escrowd/pkg/storage"
	"github.com/uhyunpark/escrowd/pkg/transaction"
	"github.com/uhyunpark/escrowd/pkg/util"
)

func main() {
	envPath := flag.String("env", "", "path to .env file (default: ./.env)")
	flag.Parse()

	// Load config from .env file and environment variables
	cfg, err := params.Load(*envPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var logger *zap.Logger
	if cfg.Node.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	} else {
		logger, err = util.NewLogger(cfg.Node.LogLevel)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	// ---- Storage ----
	var store *storage.PebbleStore
	if cfg.Storage.DataDir == "" {
		store, err = storage.NewMemStore()
		sugar.Warnw("storage_in_memory", "reason", "STORAGE_DATA_DIR is empty")
	} else {
		store, err = storage.NewPebbleStore(cfg.Storage.DataDir)
	}
	if err != nil {
		sugar.Fatalw("storage_open_failed", "err", err)
	}
	defer store.Close()

	var wal storage.WAL = storage.NewNopWAL()
	if cfg.Storage.WALFile != "" {
		fw, err := storage.NewFileWAL(cfg.Storage.WALFile)
		if err != nil {
			sugar.Fatalw("wal_open_failed", "err", err)
		}
		defer fw.Close()
		wal = fw
	}

	// ---- App ----
	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(cfg.Chain.ChainID)

	outbox := len(cfg.Kafka.Brokers) > 0
	app := escrowd.NewApp(store, escrowd.Options{
		Verifier: transaction.NewVerifier(domain),
		Mempool:  mempool.NewMempool(cfg.Chain.MaxPending, cfg.Chain.MaxTxBytes),
		Outbox:   outbox,
		WAL:      wal,
	}, sugar.Named("app"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Settlement outbox (optional) ----
	if outbox {
		relay := settlement.NewKafkaRelay(store, cfg.Kafka.Brokers, cfg.Kafka.Topic, sugar.Named("kafka"))
		defer relay.Close()
		go relay.Run(ctx, cfg.Kafka.FlushInterval)
		sugar.Infow("outbox_enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	var gen *escrowd.TxGenerator
	if cfg.Genesis.Admin != "" {
		genesis, err := cfg.Genesis.Build()
		if err != nil {
			sugar.Fatalw("genesis_invalid", "err", err)
		}

		// ---- Transaction Feeder (optional) ----
		// Enable with: FEEDER_ENABLED=true FEEDER_FROM_ASSET=0x.. FEEDER_TO_ASSET=0x..
		if cfg.Feeder.Enabled {
			feederCfg, err := cfg.Feeder.Build(genesis)
			if err != nil {
				sugar.Fatalw("feeder_invalid", "err", err)
			}
			if gen, err = escrowd.NewTxGenerator(feederCfg, domain); err != nil {
				sugar.Fatalw("feeder_init_failed", "err", err)
			}
			allocs, keys := gen.Genesis(cfg.Feeder.Funding)
			genesis.Allocations = append(genesis.Allocations, allocs...)
			genesis.ViewingKeys = append(genesis.ViewingKeys, keys...)
		}

		if err := app.InitGenesis(ctx, genesis); err != nil {
			sugar.Fatalw("genesis_failed", "err", err)
		}
	} else {
		sugar.Warnw("genesis_skipped", "reason", "GENESIS_ADMIN is empty")
	}
	if gen != nil {
		cancelFeeder := escrowd.StartTxFeeder(ctx, app, gen, sugar.Named("txfeeder"))
		defer cancelFeeder()
	} else {
		sugar.Info("txfeeder_disabled")
	}

	// ---- Block production ----
	producer, err := chain.NewProducer(chain.Config{
		MinBlockTime: cfg.Chain.MinBlockTime,
		MaxTxBytes:   cfg.Chain.MaxTxBytes,
		SkipEmpty:    cfg.Chain.SkipEmpty,
	}, app, store, util.RealClock{}, wal, sugar.Named("chain"))
	if err != nil {
		sugar.Fatalw("producer_init_failed", "err", err)
	}

	// ---- API Server ----
	apiServer := api.NewServer(app, producer, cfg.API.AllowedOrigins, sugar.Named("api"))
	go func() {
		if err := apiServer.Start(cfg.API.Addr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	// Broadcast updates on every block commit
	producer.OnBlockCommit = func(hdr chain.Header, resp abci.ResponseFinalizeBlock) {
		apiServer.OnBlockCommit(hdr, resp)
	}

	sugar.Infow("node_starting",
		"chain_id", cfg.Chain.ChainID,
		"min_block_time_ms", cfg.Chain.MinBlockTime.Milliseconds(),
		"height", producer.Head().Height,
		"api_addr", cfg.API.Addr,
	)

	if err := producer.Run(ctx); err != nil && ctx.Err() == nil {
		sugar.Errorw("producer_failed", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("api_shutdown_failed", "err", err)
	}
	sugar.Infow("node_stopped", "height", producer.Head().Height)
}
