package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDb opens the configured database.
func OpenDb(cfg *Config) (*gorm.DB, error) {
	gormConfig := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	switch cfg.DB.Type {
	case "postgres":
		return gorm.Open(postgres.Open(cfg.DB.DSN), gormConfig)
	case "sqlite":
		if dir := filepath.Dir(cfg.DB.DSN); dir != "." {
			if err := os.MkdirAll(dir, os.ModePerm); err != nil {
				return nil, err
			}
		}
		return gorm.Open(sqlite.Open(cfg.DB.DSN), gormConfig)
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.DB.Type)
	}
}

// GetDb opens the configured database and exits when it cannot.
func GetDb(cfg *Config) *gorm.DB {
	db, err := OpenDb(cfg)
	if err != nil {
		logrus.Fatalf("failed to open %s database: %v", cfg.DB.Type, err)
	}

	return db
}
