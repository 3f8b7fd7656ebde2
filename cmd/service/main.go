// cmd/service/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"git-metrics/internal/api"
	"git-metrics/internal/config"
	"git-metrics/internal/database"
	apperrors "git-metrics/internal/errors"
	"git-metrics/internal/metrics"
	"git-metrics/internal/provider"
	"git-metrics/internal/provider/bitbucket"
	"git-metrics/internal/provider/github"
	"git-metrics/internal/syncer"
)

// v carries configuration from .env, the environment and bound flags.
var v = viper.New()

var rootCmd = &cobra.Command{
	Use:           "gitmetrics",
	Short:         "Sync commit history from GitHub and Bitbucket and compute repository metrics.",
	SilenceErrors: true,
	SilenceUsage:  true,
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("db-backend", "", "store backend (postgres, sqlite, mysql)")
	flags.String("db-url", "", "store connection string")
	_ = v.BindPFlag("LOG_LEVEL", flags.Lookup("log-level"))
	_ = v.BindPFlag("DB_BACKEND", flags.Lookup("db-backend"))
	_ = v.BindPFlag("DB_URL", flags.Lookup("db-url"))

	rootCmd.AddCommand(serveCmd(), migrateCmd(), repoCmd(), syncCmd(), metricsCmd(), exportCmd())
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// app wires the store, providers, sync engine and metrics engine together.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *database.Store
	syncer *syncer.Syncer
	engine *metrics.Engine
}

// newLogger builds the JSON logger. Level changes apply through the returned LevelVar.
func newLogger(w io.Writer) (*slog.Logger, *slog.LevelVar) {
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, logLevel
}

// bootstrap loads configuration and opens the store. Logs go to logOut so
// that table output on stdout stays clean for CLI commands.
func bootstrap(ctx context.Context, logOut io.Writer, migrateUp bool) (*app, error) {
	logger, logLevel := newLogger(logOut)

	cfg, err := config.Load(v)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, logLevel)
	logger.Debug("Configuration loaded successfully")

	return newApp(ctx, cfg, logger, migrateUp)
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, migrateUp bool) (*app, error) {
	store, err := database.Open(ctx, database.Dialect(cfg.DBBackend), cfg.DBURL)
	if err != nil {
		return nil, err
	}
	logger.Debug("Database connection established", "backend", cfg.DBBackend)

	if migrateUp {
		if err := store.Migrate(-1, logger); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to run database migrations: %w", err)
		}
	}

	retry := provider.RetryPolicy{
		MaxAttempts:      cfg.Provider.RetryMaxAttempts,
		InitialInterval:  cfg.Provider.RetryInitialInterval,
		MaxInterval:      cfg.Provider.RetryMaxInterval,
		RateLimitMaxWait: cfg.Provider.RateLimitMaxWait,
	}
	providers := provider.NewRegistry(
		github.NewClient(github.Options{
			Token:   cfg.GithubToken,
			BaseURL: cfg.GithubBaseURL,
			Timeout: cfg.Provider.RequestTimeout,
			Retry:   retry,
		}, logger),
		bitbucket.NewClient(bitbucket.Options{
			Token:   cfg.BitbucketToken,
			BaseURL: cfg.BitbucketBaseURL,
			Timeout: cfg.Provider.RequestTimeout,
			Retry:   retry,
		}, logger),
	)

	return &app{
		cfg:    cfg,
		logger: logger,
		store:  store,
		syncer: syncer.NewSyncer(store, providers, logger, syncer.Options{
			Interval:    cfg.Sync.Interval,
			Concurrency: cfg.Sync.Concurrency,
			PageSize:    cfg.Sync.PageSize,
			MaxCommits:  cfg.Sync.MaxCommits,
			Lookback:    cfg.Sync.Lookback,
		}),
		engine: metrics.NewEngine(store, logger, metrics.Options{
			Thresholds: metrics.ThresholdsFromConfig(cfg.Metrics),
		}),
	}, nil
}

func (a *app) router() http.Handler {
	return api.NewRouter(a.store, a.syncer, a.engine, a.logger)
}

// registerConfigured registers every REPOS_TO_SYNC URL that is not stored yet.
// A repository that fails validation is logged and skipped.
func (a *app) registerConfigured(ctx context.Context) {
	for _, url := range a.cfg.ReposToSync {
		if _, err := a.store.GetRepositoryByURL(ctx, url); err == nil {
			continue
		} else if !errors.Is(err, apperrors.ErrNotFound) {
			a.logger.Error("Failed to look up configured repository", "url", url, "error", err)
			continue
		}
		if _, err := a.syncer.Register(ctx, syncer.RegisterParams{URL: url}); err != nil {
			a.logger.Error("Failed to register configured repository", "url", url, "error", err)
		}
	}
}

func (a *app) close() {
	a.syncer.CancelAll()
	a.syncer.Wait()
	if err := a.store.Close(); err != nil {
		a.logger.Error("Failed to close store", "error", err)
	}
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
