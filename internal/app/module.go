package app

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/idstore/internal/config"
	"github.com/elskow/idstore/internal/database"
	"github.com/elskow/idstore/internal/manager"
	"github.com/elskow/idstore/internal/store"
	"github.com/elskow/idstore/internal/store/gormstore"
	"github.com/elskow/idstore/internal/store/memory"
)

// Module combines all application modules
func Module() fx.Option {
	return fx.Options(
		// Logger
		fx.Provide(newLogger),

		// Configuration
		fx.Provide(config.LoadConfig),

		// Backend selected by configuration
		fx.Provide(newUserStore),

		// Manager Module
		manager.NewModule(),

		// Print the capability report, then shut down
		fx.Invoke(registerHooks),
	)
}

func newLogger() (*zap.Logger, error) {
	return NewLogger(os.Getenv("APP_ENV"))
}

func NewLogger(env string) (*zap.Logger, error) {
	if env == config.EnvProduction {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func newUserStore(lc fx.Lifecycle, cfg *config.AppConfig, log *zap.Logger) (store.UserStore[uuid.UUID], error) {
	switch cfg.Store.Backend {
	case "", "memory":
		return memory.New[uuid.UUID](uuid.New, uuid.NewString), nil

	case "postgres":
		dbm, err := database.NewManager(&cfg.Database, log)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return dbm.Ping(ctx)
			},
			OnStop: func(ctx context.Context) error {
				return dbm.Close()
			},
		})
		return gormstore.New[uuid.UUID](dbm.DB(), log, uuid.New, uuid.NewString), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func registerHooks(
	lifecycle fx.Lifecycle,
	shutdowner fx.Shutdowner,
	cfg *config.AppConfig,
	mgr *manager.Manager[uuid.UUID],
	st store.UserStore[uuid.UUID],
	log *zap.Logger,
) {
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				reportCapabilities(cfg, mgr, log)

				var opts []fx.ShutdownOption
				if err := smokeRoundTrip(context.Background(), mgr, st, log); err != nil {
					log.Error("smoke round-trip failed", zap.Error(err))
					opts = append(opts, fx.ExitCode(1))
				}
				if err := shutdowner.Shutdown(opts...); err != nil {
					log.Error("failed to shut down", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down store check")
			return nil
		},
	})
}

// smokeRoundTrip exercises the configured backend end to end with a
// throwaway account: register, authenticate, delete. Misconfigured
// backends surface here instead of in the first real request.
func smokeRoundTrip(ctx context.Context, mgr *manager.Manager[uuid.UUID], st store.UserStore[uuid.UUID], log *zap.Logger) error {
	name := "storecheck-" + uuid.NewString()
	password := uuid.NewString()

	user, err := mgr.Register(ctx, name, name+"@storecheck.invalid", password)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	defer func() {
		if err := st.DeleteUser(ctx, user); err != nil {
			log.Warn("could not remove smoke user", zap.Error(err))
		}
	}()

	if _, err := mgr.Authenticate(ctx, name, password); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	log.Info("smoke round-trip passed", zap.String("user", name))
	return nil
}

func reportCapabilities(cfg *config.AppConfig, mgr *manager.Manager[uuid.UUID], log *zap.Logger) {
	caps := mgr.Capabilities()
	names := make([]string, 0, len(caps))
	for _, c := range caps {
		names = append(names, string(c))
	}

	backend := cfg.Store.Backend
	if backend == "" {
		backend = "memory"
	}

	log.Info("store capability report",
		zap.String("backend", backend),
		zap.Strings("capabilities", names),
		zap.Int("supported", len(names)))
}
