package localstore

import (
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/smallbiznis/syncbox/internal/config"
)

var Module = fx.Module("localstore",
	fx.Provide(OpenDB),
	fx.Provide(New),
)

// OpenDB opens the on-device sqlite database in WAL mode with foreign keys
// enabled.
func OpenDB(cfg config.Config, log *zap.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_fk=1", cfg.DBPath)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	log.Info("local database opened", zap.String("path", cfg.DBPath))
	return db, nil
}
