package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pvzzle/walletfeed/internal/bus"
	"github.com/pvzzle/walletfeed/internal/classify"
	"github.com/pvzzle/walletfeed/internal/coins"
	"github.com/pvzzle/walletfeed/internal/delivery"
	"github.com/pvzzle/walletfeed/internal/httpapi"
	"github.com/pvzzle/walletfeed/internal/ingest"
	"github.com/pvzzle/walletfeed/internal/pipeline"
	"github.com/pvzzle/walletfeed/internal/reconstruct"
	"github.com/pvzzle/walletfeed/internal/session"
	"github.com/pvzzle/walletfeed/internal/storage"
	"github.com/pvzzle/walletfeed/internal/storage/memory"
	"github.com/pvzzle/walletfeed/internal/storage/pg"
	redisq "github.com/pvzzle/walletfeed/internal/storage/redis"
	"github.com/pvzzle/walletfeed/internal/subs"
	"github.com/pvzzle/walletfeed/internal/tg"

	"github.com/ethereum/go-ethereum/ethclient"
	tgbot "github.com/go-telegram/bot"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	alertBuffer     = 256
)

func Run(ctx context.Context) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	var repo storage.Repository
	switch cfg.StoreBackend {
	case BackendPostgres:
		pgPool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return fmt.Errorf("pgxpool new: %w", err)
		}
		defer pgPool.Close()
		repo = pg.New(pgPool)
	default:
		repo = memory.New()
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	var pending storage.PendingQueue = repo
	switch cfg.PendingBackend {
	case BackendRedis:
		q, err := redisq.New(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis pending: %w", err)
		}
		defer q.Close()
		pending = q
	case BackendMemory:
		if cfg.StoreBackend != BackendMemory {
			pending = memory.New()
		}
	}

	var meta coins.MetadataSource
	if cfg.EthRPCURL != "" {
		ethCl, err := ethclient.DialContext(ctx, cfg.EthRPCURL)
		if err != nil {
			return fmt.Errorf("dial eth rpc: %w", err)
		}
		defer ethCl.Close()
		meta = coins.NewERC20Reader(ethCl)
	}

	alerts := make(chan bus.Alert, alertBuffer)

	provisioner := coins.NewProvisioner(repo, meta, coins.ProvisionerConfig{
		Workers:     cfg.ProvisionWorkers,
		TasksBuffer: cfg.ProvisionBuffer,
	}, log)
	resolver := coins.NewResolver(repo, provisioner, coins.ResolverConfig{
		CacheSize: cfg.CoinCacheSize,
		CacheTTL:  cfg.CoinCacheTTL,
	}, log)
	subStore := subs.NewStore(repo, subs.Config{
		CacheSize: cfg.SubsCacheSize,
		CacheTTL:  cfg.SubsCacheTTL,
	})

	registry := session.NewRegistry(pending, log)
	router := delivery.NewRouter(registry, pending, alerts, log)

	buffer := ingest.NewBuffer(ingest.Config{
		Quiet:   cfg.DebounceQuiet,
		MaxWait: cfg.DebounceMaxWait,
		Backlog: cfg.BatchBuffer,
	}, log)
	processor := pipeline.NewProcessor(
		reconstruct.New(log),
		subStore,
		classify.New(resolver, log),
		router,
		alerts,
		log,
	)

	server := httpapi.New(ctx, httpapi.Config{
		SigningKey:        cfg.WebhookSigningKey,
		SessionSendBuffer: cfg.SessionSendBuffer,
	}, httpapi.Deps{
		Buffer:   buffer,
		Sessions: registry,
		Subs:     subStore,
		Coins:    resolver,
	}, log)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Listen(cfg.HTTPAddr); err != nil {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(sctx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}
		// no more Accept calls past this point
		buffer.Close()
		return nil
	})

	g.Go(func() error {
		return processor.Run(gctx, buffer.Batches())
	})

	g.Go(func() error {
		return ignoreCanceled(provisioner.Start(gctx))
	})

	if cfg.TelegramToken != "" {
		b, err := tgbot.New(cfg.TelegramToken,
			tgbot.WithWorkers(4),
			tgbot.WithNotAsyncHandlers(),
		)
		if err != nil {
			return fmt.Errorf("telegram bot init: %w", err)
		}
		bot := tg.NewService(b, cfg.TelegramAlertChatID, alerts, registry, pending, subStore, log)
		g.Go(func() error {
			return ignoreCanceled(bot.Start(gctx))
		})
	} else {
		g.Go(func() error {
			logAlerts(gctx, alerts, log)
			return nil
		})
	}

	log.Info("started",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("store", cfg.StoreBackend),
		zap.String("pending", cfg.PendingBackend),
		zap.Bool("token_metadata", meta != nil),
		zap.Bool("ops_bot", cfg.TelegramToken != ""),
	)

	return g.Wait()
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = lvl
	return zcfg.Build()
}

// logAlerts stands in for the ops bot when none is configured.
func logAlerts(ctx context.Context, alerts <-chan bus.Alert, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-alerts:
			log.Warn("alert",
				zap.String("severity", string(a.Severity)),
				zap.String("source", a.Component),
				zap.String("text", a.Text),
			)
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
