package connectivity

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/syncbox/internal/clock"
	"github.com/smallbiznis/syncbox/internal/config"
)

var Module = fx.Module("connectivity",
	fx.Provide(func(cfg config.Config, clk clock.Clock, log *zap.Logger) *Probe {
		return NewProbe(cfg.RemoteURL, cfg.ProbeInterval, clk, log)
	}),
	fx.Provide(func(p *Probe) Monitor { return p }),
	fx.Invoke(runProbe),
)

func runProbe(lc fx.Lifecycle, probe *Probe) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go probe.Run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
