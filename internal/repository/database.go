// Package repository provides the data access layer using GORM.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/trustwork/trustwork-core/internal/config"
	"github.com/trustwork/trustwork-core/internal/domain"
	"github.com/trustwork/trustwork-core/internal/models"
	"github.com/trustwork/trustwork-core/pkg/logger"
)

// DB holds the database connection.
type DB struct {
	*gorm.DB
	maxRetries int
}

// NewDB creates a new database connection.
func NewDB(cfg *config.PostgresConfig, maxRetries int, log *logger.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
	)

	var gormLogLevel gormlogger.LogLevel
	switch log.GetLogger().GetLevel() {
	case 0: // debug
		gormLogLevel = gormlogger.Info
	default:
		gormLogLevel = gormlogger.Warn
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

	return &DB{DB: db, maxRetries: maxRetries}, nil
}

// NewWithGorm wraps an existing gorm connection. Used by tests that run on
// in-memory SQLite.
func NewWithGorm(db *gorm.DB, maxRetries int) *DB {
	return &DB{DB: db, maxRetries: maxRetries}
}

// AutoMigrate runs database migrations for all models.
func (db *DB) AutoMigrate() error {
	return db.DB.AutoMigrate(
		&models.Profile{},
		&models.Skill{},
		&models.AssessmentTemplate{},
		&models.Question{},
		&models.Attempt{},
		&models.AttemptQuestion{},
		&models.CreditBalance{},
		&models.CreditEntry{},
		&models.Voucher{},
		&models.Assignment{},
		&models.Application{},
		&models.StatusHistory{},
		&models.Milestone{},
		&models.Review{},
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

// WithTransaction runs fn atomically with serializable isolation, retrying
// transparently on serialization conflicts and optimistic version mismatches
// up to the configured maximum. A caller deadline is honored before each run.
func (db *DB) WithTransaction(ctx context.Context, fn func(tx *DB) error) error {
	retries := db.maxRetries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for i := 0; i < retries; i++ {
		if err := ctx.Err(); err != nil {
			return domain.Wrap(domain.CodeCancelled, err, "caller deadline elapsed")
		}

		err := db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(&DB{DB: tx, maxRetries: db.maxRetries})
		}, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err == nil {
			return nil
		}
		if !retryableTxError(err) {
			return err
		}
		lastErr = err
	}
	return domain.Wrap(domain.CodePreconditionFailed, lastErr, "transaction retries exhausted")
}

// retryableTxError reports whether the transaction failed on a conflict that
// a fresh run may resolve: a PostgreSQL serialization failure (SQLSTATE
// 40001), an SQLite busy error, or an optimistic version mismatch.
func retryableTxError(err error) bool {
	if domain.Retryable(err) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "40001") ||
		strings.Contains(msg, "could not serialize access") ||
		strings.Contains(msg, "database is locked")
}
