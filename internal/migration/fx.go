package migration

import (
	"strings"

	"github.com/seeklabs/bloxscout/internal/config"
	"github.com/seeklabs/bloxscout/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if strings.EqualFold(cfg.DBType, "postgres") {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// Non-postgres deployments (sqlite, mysql) fall back to the
			// model-driven schema.
			if err := AutoMigrate(conn); err != nil {
				return err
			}
		}

		if cfg.Search.PublicMode {
			return seed.EnsurePublicAccount(conn, cfg.Search.PublicAccountID)
		}
		return nil
	}),
)
