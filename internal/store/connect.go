package store

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jobforge/jobforge/internal/config"
)

// Connect opens the Postgres connection backing the Job Store.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	dsn := cfg.Store.DatabaseURL
	if dsn == "" {
		dsn = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			cfg.Store.Host, cfg.Store.Port, cfg.Store.User, cfg.Store.Password, cfg.Store.Name, cfg.Store.SSLMode,
		)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to store database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap store database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Store.MaxConnections)
	sqlDB.SetMaxIdleConns(cfg.Store.IdleConnections)
	sqlDB.SetConnMaxLifetime(cfg.Store.ConnLifetime)

	return db, nil
}
