package manager

import (
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/idstore/internal/config"
	"github.com/elskow/idstore/internal/store"
)

// NewModule returns the manager module options. The wired application uses
// uuid keys; other key types instantiate Manager directly.
func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(cfg *config.AppConfig, log *zap.Logger, s store.UserStore[uuid.UUID]) *Manager[uuid.UUID] {
					return New(cfg, log, s)
				},
			),
		),
	)
}
