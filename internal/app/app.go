package app

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"smart-harvester/internal/alerting"
	"smart-harvester/internal/config"
	"smart-harvester/internal/dashboard"
	"smart-harvester/internal/engine"
	"smart-harvester/internal/keystore"
	"smart-harvester/internal/ledger"
	"smart-harvester/internal/oracle"
	"smart-harvester/internal/scheduler"
	"smart-harvester/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	cfgPath string
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, cfgPath string, logger zerolog.Logger) *App {
	return &App{
		Config:  cfg,
		Logger:  logger.With().Str("component", "app").Logger(),
		cfgPath: cfgPath,
	}
}

func (a *App) newOracle() oracle.PriceFetcher {
	return oracle.NewClient(oracle.Options{
		BaseURL:         a.Config.Oracle.BaseURL,
		BaseAsset:       a.Config.Oracle.BaseAsset,
		QuoteAsset:      a.Config.Oracle.QuoteAsset,
		StalenessWindow: a.Config.Oracle.StalenessWindow,
		Timeout:         a.Config.Oracle.RequestTimeout,
		UserAgent:       a.Config.Oracle.UserAgent,
	}, a.Logger)
}

func (a *App) newLedger() ledger.Client {
	return ledger.NewRPCClient(ledger.Options{
		RPCURL:          a.Config.Chain.RPCURL,
		ChainID:         a.Config.Chain.ChainID,
		ContractAddress: a.Config.Chain.ContractAddress,
		GasLimit:        a.Config.Chain.GasLimit,
		Timeout:         a.Config.Chain.RequestTimeout,
	}, a.Logger)
}

func (a *App) newKeystore() *keystore.Store {
	return keystore.New(a.Config.Keystore.Path, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

// loadSymmetricKey reads the base64 keystore key from the configured
// environment variable. The raw value never goes through the logger.
func (a *App) loadSymmetricKey() ([]byte, error) {
	encoded := os.Getenv(a.Config.Keystore.KeyEnv)
	if encoded == "" {
		return nil, fmt.Errorf("environment variable %s is not set", a.Config.Keystore.KeyEnv)
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%s is not valid base64", a.Config.Keystore.KeyEnv)
	}
	if len(key) != 32 {
		return nil, keystore.ErrInvalidKeyLength
	}
	return key, nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) engineSettings() engine.Settings {
	pair := a.Config.Oracle.BaseAsset + "/" + a.Config.Oracle.QuoteAsset
	return engine.Settings{
		Pair:         pair,
		Threshold:    a.Config.ThresholdDecimal(),
		Mode:         engine.Mode(a.Config.Harvest.Comparison),
		MinBalance:   a.Config.MinBalanceDecimal(),
		RetryCeiling: a.Config.Harvest.RetryCeiling,
		BackoffBase:  a.Config.Harvest.BackoffBase,
		BackoffCap:   a.Config.Harvest.BackoffCap,
	}
}

func (a *App) newEngine(store *storage.Store, symmetricKey []byte) *engine.Engine {
	var attemptStore engine.AttemptStore
	if store != nil {
		attemptStore = store
	}

	return engine.New(a.engineSettings(), engine.Options{
		Oracle:       a.newOracle(),
		Ledger:       a.newLedger(),
		Keys:         a.newKeystore(),
		SymmetricKey: symmetricKey,
		Store:        attemptStore,
		Notifier:     a.newNotifier(),
	}, a.Logger)
}

// reloadSettings re-reads the configuration file and stages the harvest
// settings on the running engine. Connectivity changes require a restart.
func (a *App) reloadSettings(eng *engine.Engine) dashboard.Reloader {
	return func(ctx context.Context) error {
		cfg, err := config.Load(a.cfgPath)
		if err != nil {
			return err
		}
		a.Config.Harvest = cfg.Harvest
		eng.UpdateSettings(engine.Settings{
			Pair:         a.Config.Oracle.BaseAsset + "/" + a.Config.Oracle.QuoteAsset,
			Threshold:    cfg.ThresholdDecimal(),
			Mode:         engine.Mode(cfg.Harvest.Comparison),
			MinBalance:   cfg.MinBalanceDecimal(),
			RetryCeiling: cfg.Harvest.RetryCeiling,
			BackoffBase:  cfg.Harvest.BackoffBase,
			BackoffCap:   cfg.Harvest.BackoffCap,
		})
		a.Logger.Info().Msg("harvest settings reloaded from config")
		return nil
	}
}

// Run executes the long-running harvest daemon.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	symmetricKey, err := a.loadSymmetricKey()
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	eng := a.newEngine(store, symmetricKey)

	if err := eng.Reconcile(ctx); err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return sched.Run(ctx, func(ctx context.Context, now time.Time) error {
			err := eng.Tick(ctx, now)
			if errors.Is(err, engine.ErrStopped) {
				return scheduler.ErrHalt
			}
			// Tick errors are transient and already logged by the engine.
			return nil
		})
	})

	if a.Config.Dashboard.Enabled {
		var samples storage.SampleStore
		var attempts storage.AttemptAuditStore
		if store != nil {
			samples = store
			attempts = store
		}
		srv := dashboard.NewServer(dashboard.Options{
			ListenAddr: a.Config.Dashboard.ListenAddr,
			Engine:     eng,
			Attempts:   attempts,
			Samples:    samples,
			Reload:     a.reloadSettings(eng),
		}, a.Logger)
		group.Go(func() error {
			return srv.Run(ctx)
		})
	}

	a.Logger.Info().Str("pair", a.engineSettings().Pair).
		Str("threshold", a.Config.ThresholdDecimal().String()).
		Str("comparison", a.Config.Harvest.Comparison).
		Msg("starting harvest daemon")

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("daemon terminated with error")
		return err
	}

	a.Logger.Info().Msg("harvest daemon stopped")
	return nil
}

// ExportOptions hold parameters for exporting price history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit    int
	Attempts bool
}

// InitKeyOptions configure keystore bootstrap.
type InitKeyOptions struct {
	GenerateKey bool
	Fund        bool
}
