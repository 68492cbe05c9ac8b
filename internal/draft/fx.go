package draft

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/syncbox/internal/clock"
	"github.com/smallbiznis/syncbox/internal/config"
)

var Module = fx.Module("draft",
	fx.Provide(func(db *gorm.DB, clk clock.Clock, cfg config.Config, log *zap.Logger) (*Saver, error) {
		return NewSaver(db, clk, cfg.DraftDebounce, log)
	}),
	fx.Invoke(flushOnStop),
)

func flushOnStop(lc fx.Lifecycle, saver *Saver) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return saver.Flush(ctx)
		},
	})
}
