package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	bidding "auction-service/internal/biddingService"
	"auction-service/internal/catalog"
	"auction-service/internal/config"
	"auction-service/internal/identity"
	"auction-service/internal/lifecycle"
	"auction-service/internal/notify"
	"auction-service/internal/repository"
	"auction-service/internal/server"
	"auction-service/utils"

	rd "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// store is both the auction state store and the bid ledger
type store interface {
	repository.AuctionStore
	repository.BidLedger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := utils.SetLevel(cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		utils.Fatal("auction server stopped", map[string]any{"error": err.Error()})
	}
}

func run(ctx context.Context, cfg config.Config) error {
	repo, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	sink, err := openSink(ctx, cfg)
	if err != nil {
		return err
	}
	defer sink.Close()

	products, err := newCatalog(cfg)
	if err != nil {
		return err
	}

	var directory identity.Directory = identity.OpenDirectory{}
	if len(cfg.KnownBidders) > 0 {
		directory = identity.NewStaticDirectory(cfg.KnownBidders...)
	}

	publisher := notify.NewAsyncPublisher(sink, notify.Options{
		Workers:     cfg.NotifyWorkers,
		QueueSize:   cfg.NotifyQueueSize,
		MaxAttempts: cfg.NotifyMaxAttempts,
	})
	// bid and lifecycle events share one per-auction ordering
	events := notify.Sequence(publisher)
	manager := lifecycle.NewManager(repo, events, lifecycle.Options{
		MaxAttempts:  cfg.MaxBidAttempts,
		BaseDelay:    cfg.RetryBaseDelay,
		StoreTimeout: cfg.StoreTimeout,
	})
	writer := bidding.NewLedgerWriter(repo, cfg.NotifyQueueSize, cfg.StoreTimeout)

	biddingSvc := bidding.NewBiddingService(bidding.Deps{
		Store:     repo,
		Ledger:    repo,
		Publisher: events,
		Lifecycle: manager,
		Catalog:   products,
		Directory: directory,
		Writer:    writer,
	}, bidding.Options{
		MaxBidAttempts:     cfg.MaxBidAttempts,
		BaseDelay:          cfg.RetryBaseDelay,
		StoreTimeout:       cfg.StoreTimeout,
		RecordRejectedBids: cfg.RecordRejectedBids,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.SetupRouter(biddingSvc),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		utils.Info("Starting auction server", map[string]any{
			"addr":   srv.Addr,
			"store":  cfg.StoreDriver,
			"notify": cfg.NotifyDriver,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return publisher.Run(gctx) })
	g.Go(func() error { return writer.Run(gctx) })
	g.Go(func() error { return manager.Run(gctx, cfg.SweepInterval) })

	err = g.Wait()
	stats := publisher.Stats()
	utils.Info("auction server stopped", map[string]any{
		"events_delivered": stats.Delivered,
		"events_dropped":   stats.Dropped,
		"ledger_pending":   writer.Pending(),
		"events_held":      events.Held(),
	})
	return err
}

// openStore returns the configured store and a function releasing it
func openStore(cfg config.Config) (store, func(), error) {
	switch cfg.StoreDriver {
	case "sqlite":
		repo, err := repository.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return repo, func() {
			if err := repo.Close(); err != nil {
				utils.Error("failed to close sqlite store", map[string]any{"error": err.Error()})
			}
		}, nil
	default:
		return repository.NewMemoryRepo(), func() {}, nil
	}
}

// openSink returns the configured notification channel
func openSink(ctx context.Context, cfg config.Config) (notify.Sink, error) {
	switch cfg.NotifyDriver {
	case "kafka":
		return notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	case "redis":
		rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		return notify.NewRedisStreamSink(rdb, cfg.RedisStream, cfg.RedisStreamMaxLen), nil
	default:
		return notify.LogSink{}, nil
	}
}

// newCatalog returns the remote catalog when configured, otherwise the
// products seeded from SEED_PRODUCTS
func newCatalog(cfg config.Config) (catalog.Catalog, error) {
	if cfg.CatalogURL != "" {
		return catalog.NewHTTPCatalog(cfg.CatalogURL, cfg.CatalogTimeout), nil
	}
	products, err := cfg.Products(time.Now())
	if err != nil {
		return nil, err
	}
	return catalog.NewStaticCatalog(products...), nil
}
