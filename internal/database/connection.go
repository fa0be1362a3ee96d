package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hypernova-labs/anaf-service/internal/config"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	*sql.DB
}

// Connect opens the PostgreSQL pool and verifies the connection.
func Connect(cfg *config.Config) (*DB, error) {
	dsn := cfg.GetDSN()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(10 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error pinging database: %w", err)
	}

	return &DB{db}, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.DB.Close()
}

// HealthCheck verifies the database answers queries.
func (db *DB) HealthCheck() error {
	if err := db.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := db.QueryContext(ctx, "SELECT 1")
	if err != nil {
		return fmt.Errorf("database query test failed: %w", err)
	}

	return nil
}

// GetStats returns connection pool statistics.
func (db *DB) GetStats() map[string]interface{} {
	stats := make(map[string]interface{})

	stats["max_open_connections"] = db.Stats().MaxOpenConnections
	stats["open_connections"] = db.Stats().OpenConnections
	stats["in_use"] = db.Stats().InUse
	stats["idle"] = db.Stats().Idle
	stats["wait_count"] = db.Stats().WaitCount
	stats["wait_duration"] = db.Stats().WaitDuration
	stats["max_idle_closed"] = db.Stats().MaxIdleClosed
	stats["max_lifetime_closed"] = db.Stats().MaxLifetimeClosed

	return stats
}

// ExecWithTimeout runs a write query with a bounded context.
func (db *DB) ExecWithTimeout(query string, args ...interface{}) (sql.Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return db.ExecContext(ctx, query, args...)
}

// QueryWithTimeout runs a read query with a bounded context.
func (db *DB) QueryWithTimeout(query string, args ...interface{}) (*sql.Rows, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return db.QueryContext(ctx, query, args...)
}

// QueryRowWithTimeout runs a single-row query with a bounded context.
func (db *DB) QueryRowWithTimeout(query string, args ...interface{}) *sql.Row {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return db.QueryRowContext(ctx, query, args...)
}

// WithTransaction runs fn inside a transaction, rolling back on error or
// panic.
func (db *DB) WithTransaction(fn func(*sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("error rolling back transaction: %w, original error: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}

	return nil
}

// LogStats logs the pool statistics.
func (db *DB) LogStats(logger *logrus.Logger) {
	stats := db.GetStats()
	logger.WithFields(logrus.Fields(stats)).Info("Database pool statistics")
}
