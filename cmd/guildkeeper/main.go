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

	"guildkeeper/internal/bot"
	"guildkeeper/internal/config"
	"guildkeeper/internal/credits"
	"guildkeeper/internal/guilds"
	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/storage"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	var configPath string
	flagSet := pflag.NewFlagSet("guildkeeper", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to the YAML config (default: $CONFIG_PATH or config.yaml)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := openStore(cfg)
	if err != nil {
		logger.Fatal("storage init failed", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	shared := bot.Shared{
		Store:  store,
		Guilds: guilds.NewService(store, logger),
		Ledger: credits.NewLedger(store, logger),
		Audit:  audit.NewLogger(store, logger),
	}
	supervisor := bot.NewSupervisor(cfg, shared, bot.NewConfigCredentials(cfg), logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var server *http.Server
	if cfg.Health.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			if !supervisor.Healthy() {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("connecting"))
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		server = &http.Server{Addr: cfg.Health.Addr, Handler: mux}
		go func() {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("health server error", zap.Error(err))
			}
		}()
	}

	logger.Info("bots starting", zap.Int("tenants", len(cfg.TenantList())))
	runErr := supervisor.Run(ctx)
	if runErr != nil {
		logger.Error("supervisor stopped", zap.Error(runErr))
	}
	logger.Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if server != nil {
		_ = server.Shutdown(shutdownCtx)
	}
	if runErr != nil {
		_ = logger.Sync()
		_ = store.Close()
		os.Exit(1)
	}
}

func openStore(cfg config.Config) (storage.Store, error) {
	retry := storage.RetryPolicy{Attempts: cfg.Retry.Attempts, Backoff: cfg.RetryBackoff()}
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		return storage.Open(storage.DialectPostgres, cfg.Database.DSN, retry)
	case config.DriverRedis:
		return storage.OpenRedis(storage.RedisOptions{
			URL:      cfg.Redis.URL,
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}, retry)
	default:
		return storage.Open(storage.DialectSQLite, cfg.Database.Path, retry)
	}
}
