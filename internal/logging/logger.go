// Package logging builds the process logger.
package logging

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/syncbox/internal/config"
)

var Module = fx.Module("logging",
	fx.Provide(New),
)

// New returns a production JSON logger, or a console logger in development.
func New(cfg config.Config) (*zap.Logger, error) {
	if cfg.Environment == "production" {
		return zap.NewProduction()
	}
	zcfg := zap.NewDevelopmentConfig()
	zcfg.DisableStacktrace = true
	return zcfg.Build()
}
