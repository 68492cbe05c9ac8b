package syncengine

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/syncbox/internal/config"
)

var Module = fx.Module("sync.engine",
	fx.Provide(func(cfg config.Config) Config {
		return Config{Interval: cfg.SyncInterval, Debounce: cfg.SyncDebounce}
	}),
	fx.Provide(func(cfg config.Config, log *zap.Logger) Transport {
		return NewHTTPTransport(cfg.RemoteURL, cfg.RequestTimeout, log)
	}),
	fx.Provide(Metrics),
	fx.Provide(New),
	fx.Invoke(runEngine),
)

func runEngine(lc fx.Lifecycle, engine *Engine) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return engine.Start(ctx)
		},
		OnStop: func(context.Context) error {
			engine.Stop()
			return nil
		},
	})
}
