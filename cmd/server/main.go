package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"vendify/internal/branch"
	"vendify/internal/cache"
	"vendify/internal/cart"
	"vendify/internal/checkout"
	"vendify/internal/config"
	"vendify/internal/gateway"
	"vendify/internal/httpapi"
	"vendify/internal/logging"
	"vendify/internal/notify"
	"vendify/internal/outbox"
	"vendify/internal/receipt"
	"vendify/internal/recommendation"
	"vendify/internal/report"
	"vendify/internal/store"
	firestorestore "vendify/internal/store/firestore"
	"vendify/internal/store/local"
	"vendify/internal/store/memory"
	mongostore "vendify/internal/store/mongo"
	pgstore "vendify/internal/store/postgres"
	"vendify/internal/users"
)

// localStore is a device-local store that also keeps small values such as
// the selected branch.
type localStore interface {
	store.DocumentStore
	store.ValueStore
}

type stores struct {
	primary store.DocumentStore
	local   localStore
	mode    gateway.Mode
	closers []func() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger := logging.New(logging.Options{
		Level:      cfg.LogLevel,
		Encoding:   cfg.LogEncoding,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	st, err := openStores(startCtx, cfg, logger)
	if err != nil {
		cancel()
		logger.Fatal("local storage unavailable", zap.Error(err))
	}
	closers := st.closers

	statsCache := cache.StatsCache(cache.NoopStatsCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisStatsCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(startCtx); err != nil {
			logger.Warn("redis unavailable, dashboard stats are not cached", zap.Error(err))
			_ = redisCache.Close()
		} else {
			statsCache = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("stats cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	}

	mirror := outbox.New(st.primary, logger)
	go mirror.Run(ctx, cfg.OutboxDrainInterval())

	branches := branch.New(st.primary, st.local, st.local, logger)
	branches.Initialize(startCtx)

	gw := gateway.New(st.primary, gateway.Options{
		Local:    st.local,
		Mode:     st.mode,
		Mirror:   mirror,
		Cache:    statsCache,
		CacheTTL: cfg.StatsCacheTTL(),
		Logger:   logger,
	})

	if cfg.ReceiptSigningSecret == "" {
		logger.Warn("RECEIPT_SIGNING_SECRET is not set; receipt tokens use a development key")
	}
	issuer := receipt.NewIssuer(cfg.ReceiptSigningSecret, "")
	notices := notify.NewRecorder(100, notify.NewLogSink(logger))
	svc := checkout.New(gw, checkout.Options{
		Issuer:        issuer,
		Sink:          notices,
		Logger:        logger,
		QuoteValidity: time.Duration(cfg.QuoteValidityDays) * 24 * time.Hour,
	})

	saleCart := cart.NewSaleCart(notices)
	wholesaleCart := cart.NewWholesaleCart(cart.WholesalePolicy{
		DiscountPercent: cfg.WholesaleDiscountPercent,
		MinOrderQty:     cfg.WholesaleMinOrderQty,
	}, notices)
	scope := branches.Snapshot()
	svc.LoadInventory(startCtx, saleCart, scope)
	svc.LoadInventory(startCtx, wholesaleCart, scope)
	cancel()

	api := httpapi.New(httpapi.Deps{
		Branches:       branches,
		Gateway:        gw,
		Checkout:       svc,
		SaleCart:       saleCart,
		WholesaleCart:  wholesaleCart,
		Reports:        report.NewBuilder(gw),
		Users:          users.NewService(gw, logger),
		Reorder:        recommendation.NewEngine(gw, cfg.ReorderLeadDays, cfg.ReorderCoverDays),
		Issuer:         issuer,
		Notices:        notices,
		Outbox:         mirror,
		Logger:         logger,
		AllowedOrigin:  cfg.AllowedOrigin,
		RequestTimeout: cfg.RequestTimeout(),
	})
	defer api.Close()

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout() + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("vendify listening", zap.String("addr", cfg.Address()), zap.String("mode", string(st.mode)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	if _, err := mirror.Drain(shutdownCtx); err != nil {
		logger.Warn("final mirror drain failed", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

// openStores opens the local store and, when configured, a remote one. A
// remote store that cannot be reached at startup leaves the process on local
// storage until restart.
func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (stores, error) {
	backend := cfg.RemoteBackend()
	if backend == config.BackendMemory {
		mem := memory.NewSeeded()
		logger.Info("store: in-memory demo data")
		return stores{primary: mem, local: mem, mode: gateway.ModeLocal}, nil
	}

	localDocs, err := local.Open(cfg.LocalStorePath)
	if err != nil {
		return stores{}, err
	}
	st := stores{primary: localDocs, local: localDocs, mode: gateway.ModeLocal, closers: []func() error{localDocs.Close}}

	var remote store.DocumentStore
	switch backend {
	case config.BackendFirestore:
		remote, err = firestorestore.New(ctx, firestorestore.Config{
			ProjectID:       cfg.FirebaseProjectID,
			CredentialsPath: cfg.FirebaseCredentialsPath,
		})
	case config.BackendMongo:
		remote, err = mongostore.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case config.BackendPostgres:
		remote, err = pgstore.New(ctx, cfg.DatabaseURL)
	default:
		logger.Info("store: local file", zap.String("path", cfg.LocalStorePath))
		return st, nil
	}
	if err != nil {
		logger.Warn("remote store unavailable, running on local storage",
			zap.String("backend", backend),
			zap.Error(err),
		)
		return st, nil
	}

	st.primary = remote
	st.mode = gateway.ModeRemote
	st.closers = append(st.closers, remote.Close)
	logger.Info("store: remote", zap.String("backend", backend))
	return st, nil
}
