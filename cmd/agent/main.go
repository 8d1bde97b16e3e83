package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/restaurant-notify/internal/channel"
	"github.com/jwalitptl/restaurant-notify/internal/config"
	"github.com/jwalitptl/restaurant-notify/internal/handler/health"
	notificationHandler "github.com/jwalitptl/restaurant-notify/internal/handler/notification"
	promhandler "github.com/jwalitptl/restaurant-notify/internal/handler/prometheus"
	"github.com/jwalitptl/restaurant-notify/internal/middleware"
	"github.com/jwalitptl/restaurant-notify/internal/model"
	"github.com/jwalitptl/restaurant-notify/internal/repository"
	"github.com/jwalitptl/restaurant-notify/internal/repository/memory"
	"github.com/jwalitptl/restaurant-notify/internal/repository/sqlstore"
	"github.com/jwalitptl/restaurant-notify/internal/restapi"
	"github.com/jwalitptl/restaurant-notify/internal/router"
	"github.com/jwalitptl/restaurant-notify/internal/service/delivery"
	"github.com/jwalitptl/restaurant-notify/internal/service/notification"
	"github.com/jwalitptl/restaurant-notify/internal/service/sound"
	"github.com/jwalitptl/restaurant-notify/internal/worker"
	"github.com/jwalitptl/restaurant-notify/pkg/logger"
	"github.com/jwalitptl/restaurant-notify/pkg/messaging"
	memorybroker "github.com/jwalitptl/restaurant-notify/pkg/messaging/memory"
	"github.com/jwalitptl/restaurant-notify/pkg/messaging/redis"
	"github.com/jwalitptl/restaurant-notify/pkg/metrics"
	"github.com/jwalitptl/restaurant-notify/pkg/security"
)

const metricsNamespace = "restaurant_notify"

func main() {
	configPath := flag.String("config", os.Getenv("NOTIFY_CONFIG"), "path to config.yml")
	hashKey := flag.String("hash-api-key", "", "print the server.api_key_hash value for a key and exit")
	flag.Parse()

	if *hashKey != "" {
		hash, err := security.NewBcryptHasher(bcrypt.DefaultCost).Hash(*hashKey)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize logger
	appLogger := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		JSON:       cfg.Log.JSON,
	})
	// gin middleware logs through the global zerolog logger
	log.Logger = *appLogger.Zerolog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(metricsNamespace, registry)

	// Storage for the surfaced ledger and ack outbox
	db, surfacedRepo, ackRepo, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		appLogger.Fatal(err, "failed to open storage", "driver", cfg.Storage.Driver)
	}
	if db != nil {
		defer db.Close()
	}

	// Event fan-out to consumers
	broker, err := openBroker(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Fatal(err, "failed to create message broker")
	}
	defer broker.Close()

	// REST collaborator
	api := restapi.NewClient(restapi.Config{
		BaseURL:        cfg.API.BaseURL,
		AuthToken:      cfg.API.AuthToken,
		AuthType:       cfg.API.AuthType,
		Timeout:        cfg.API.Timeout,
		MaxFailures:    cfg.API.MaxFailures,
		BreakerTimeout: cfg.API.BreakerTimeout,
	}, appLogger, appMetrics)

	// Push channel
	creds := channel.NewTokenCache(api.WebSocketToken, cfg.Channel.TokenExpirySkew)
	pushChannel := channel.New(channel.Config{
		APIBaseURL:           cfg.API.BaseURL,
		URL:                  cfg.Channel.URL,
		Enabled:              cfg.Channel.Enabled,
		ConnectTimeout:       cfg.Channel.ConnectTimeout,
		HeartbeatInterval:    cfg.Channel.HeartbeatInterval,
		ReconnectBase:        cfg.Channel.ReconnectBase,
		ReconnectMax:         cfg.Channel.ReconnectMax,
		MaxReconnectAttempts: cfg.Channel.MaxReconnectAttempts,
	}, creds, nil, nil, appLogger, appMetrics)

	// Surfaced ids are shared by the store (seeding on load) and delivery
	surfaced := delivery.NewSurfacedSet(cfg.Delivery.SurfacedTTL, cfg.Delivery.SurfacedCleanup, surfacedRepo, appLogger)
	if err := surfaced.Warm(ctx); err != nil {
		appLogger.Warn("Failed to warm surfaced ids", "error", err.Error())
	}

	store := notification.NewStore(
		notification.Config{InitialLimit: cfg.Store.InitialLimit},
		api,
		pushChannel,
		ackRepo,
		surfaced,
		broker,
		appLogger,
		appMetrics,
	)

	alerts, err := newSoundService(ctx, cfg, appLogger, appMetrics)
	if err != nil {
		appLogger.Fatal(err, "failed to set up alert sound")
	}
	go alerts.Preload(ctx)

	deliverySvc := delivery.NewService(
		store,
		surfaced,
		delivery.NewBrokerToaster(broker),
		alerts,
		appLogger,
		appMetrics,
	)

	pushChannel.Subscribe(channel.ListenerFuncs{
		Notification: func(rec model.NotificationRecord) {
			deliverySvc.Deliver(ctx, rec)
		},
		Error: func(err error) {
			appLogger.Debug("Push channel error", "error", err.Error())
		},
	})

	// First load before the channel opens; pushes that race it are merged
	if err := store.LoadInitial(ctx); err != nil {
		appLogger.Warn("Initial notification load failed, starting empty", "error", err.Error())
	}
	if err := pushChannel.Connect(ctx); err != nil && !errors.Is(err, channel.ErrDisabled) {
		appLogger.Warn("Push channel not connected, relying on polling", "error", err.Error())
	}

	// Background workers
	var wg sync.WaitGroup
	reconciler := worker.NewReconciler(store, api, deliverySvc, pushChannel, surfaced, worker.ReconcilerConfig{
		Interval:  cfg.Store.RefreshInterval,
		PollLimit: cfg.Store.InitialLimit,
	}, appLogger)
	ackProcessor := worker.NewAckOutboxProcessor(ackRepo, api, cfg.Outbox.ToWorkerConfig(), appLogger, appMetrics)
	for _, w := range []interface{ Start(context.Context) }{reconciler, ackProcessor} {
		wg.Add(1)
		go func(w interface{ Start(context.Context) }) {
			defer wg.Done()
			w.Start(ctx)
		}(w)
	}

	// Consumer API
	cors := middleware.DefaultCORSConfig()
	if len(cfg.Server.AllowedOrigins) > 0 {
		cors.AllowOrigins = cfg.Server.AllowedOrigins
	}
	r := router.NewRouter(
		middleware.NewAuthMiddleware(cfg.Server.APIKeyHash),
		health.NewHandler(db, store),
		notificationHandler.NewHandler(store, pushChannel, broker, appLogger),
		promhandler.New(metricsNamespace, registry),
		router.RouterConfig{
			RateLimitEnabled: cfg.RateLimit.Enabled,
			RateLimit:        rate.Limit(cfg.RateLimit.RequestsPerSecond),
			RateBurst:        cfg.RateLimit.Burst,
			CORSConfig:       cors,
			ReleaseMode:      cfg.Log.Level != "debug",
		},
	)
	r.Setup()

	// WriteTimeout stays 0 by default so event streams are not cut off
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		appLogger.Info("Consumer API listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal(err, "failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down...")

	pushChannel.Disconnect()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(err, "server forced to shutdown")
	}
	wg.Wait()

	appLogger.Info("Agent exited properly")
}

func openStorage(ctx context.Context, cfg config.StorageConfig) (*sqlx.DB, repository.SurfacedRepository, repository.AckRepository, error) {
	if cfg.Driver == "memory" {
		return nil, memory.NewSurfacedRepository(), memory.NewAckRepository(), nil
	}

	db, err := sqlstore.Open(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, nil, nil, err
	}
	return db, sqlstore.NewSurfacedRepository(db), sqlstore.NewAckRepository(db), nil
}

func openBroker(ctx context.Context, cfg *config.Config, appLogger *logger.Logger) (messaging.Broker, error) {
	if cfg.Redis.URL == "" {
		return memorybroker.NewBroker(), nil
	}
	return redis.NewRedisBroker(ctx, cfg.ToBrokerConfig(), appLogger)
}

func newSoundService(ctx context.Context, cfg *config.Config, appLogger *logger.Logger, m *metrics.Metrics) (*sound.Service, error) {
	player, err := sound.PlayerFor(cfg.Sound.Player, cfg.Sound.Command)
	if err != nil {
		return nil, err
	}

	var objects sound.ObjectGetter
	if sound.IsS3URL(cfg.Sound.Asset) {
		client, err := sound.NewS3Client(ctx, sound.AWSConfig{
			Region:      cfg.AWS.Region,
			EndpointURL: cfg.AWS.EndpointURL,
			AccessKeyID: cfg.AWS.AccessKeyID,
			SecretKey:   cfg.AWS.SecretKey,
		})
		if err != nil {
			return nil, err
		}
		objects = client
	}

	loader, err := sound.LoaderFor(cfg.Sound.Asset, objects)
	if err != nil {
		return nil, err
	}

	return sound.NewService(sound.Config{
		Enabled:     cfg.Sound.Enabled,
		ToneHz:      cfg.Sound.ToneHz,
		ToneLength:  cfg.Sound.ToneLen,
		PlayTimeout: cfg.Sound.PlayLimit,
	}, loader, player, appLogger, m), nil
}
