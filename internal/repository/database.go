// Package repository provides the gorm-backed ledger store for the reward engine.
package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/aimd54/gem-progression/internal/config"
	"github.com/aimd54/gem-progression/internal/models"
	"github.com/aimd54/gem-progression/pkg/logger"
)

// DB holds the database connection.
type DB struct {
	*gorm.DB
}

// NewDB creates a new database connection.
func NewDB(cfg *config.PostgresConfig, log *logger.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
	)

	gormLogLevel := gormlogger.Warn
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gormLogLevel = gormlogger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormLogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("Connected to PostgreSQL")

	return &DB{db}, nil
}

// AutoMigrate creates or updates the engine-owned tables.
// Upstream tables (tasks, pomodoro_sessions) are not touched.
func (db *DB) AutoMigrate() error {
	return db.DB.AutoMigrate(
		&models.RewardDefinition{},
		&models.UserPoints{},
		&models.PointEvent{},
		&models.ProgressCounter{},
		&models.OwnershipRecord{},
		&models.DayClosure{},
	)
}

// Close closes the database connection.
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health checks if the database is healthy.
func (db *DB) Health() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// storeError tags an infrastructure failure with models.ErrStoreUnavailable.
// Domain sentinels pass through untouched.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, domain := range []error{models.ErrNotFound, models.ErrNothingToClaim, models.ErrInvalidReward} {
		if errors.Is(err, domain) {
			return err
		}
	}
	return fmt.Errorf("failed to %s: %w: %w", op, models.ErrStoreUnavailable, err)
}
