package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection
func NewDB(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Printf("Successfully connected to PostgreSQL database: %s", cfg.Database)

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Println("Database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	log.Println("Running database migrations...")

	migrations := []string{
		// Positions are never deleted; terminal states are reached by
		// rewriting the discriminant and variant columns
		`CREATE TABLE IF NOT EXISTS positions (
			id UUID PRIMARY KEY,
			state VARCHAR(30) NOT NULL,
			strategy JSONB NOT NULL,
			side VARCHAR(4) NOT NULL,
			pair VARCHAR(20) NOT NULL,
			volume DECIMAL(20, 8) NOT NULL,
			starting_price DECIMAL(20, 8),
			completed_txids JSONB NOT NULL DEFAULT '[]',
			send_ref VARCHAR(40),
			current_tx_id VARCHAR(40),
			detail TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_state ON positions(state)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_pair ON positions(pair)`,

		// Local submission queue, drained in insertion order
		`CREATE TABLE IF NOT EXISTS unsent_orders (
			ref BIGINT PRIMARY KEY,
			pair VARCHAR(20) NOT NULL,
			side VARCHAR(4) NOT NULL,
			order_type VARCHAR(20) NOT NULL,
			volume VARCHAR(40) NOT NULL,
			price VARCHAR(40),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		// Reference to transaction id correlation for accepted orders
		`CREATE TABLE IF NOT EXISTS sent_orders (
			ref BIGINT PRIMARY KEY,
			tx_id VARCHAR(40) NOT NULL,
			order_snapshot JSONB,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sent_orders_tx_id ON sent_orders(tx_id)`,

		// Permanently rejected submissions with the exchange's error text
		`CREATE TABLE IF NOT EXISTS failed_orders (
			ref BIGINT PRIMARY KEY,
			pair VARCHAR(20) NOT NULL,
			side VARCHAR(4) NOT NULL,
			order_type VARCHAR(20) NOT NULL,
			volume VARCHAR(40) NOT NULL,
			price VARCHAR(40),
			error TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		// References whose submission outcome was ambiguous
		`CREATE TABLE IF NOT EXISTS pending_id_orders (
			ref BIGINT PRIMARY KEY,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		// Named counters incremented atomically (nonce block reservation)
		`CREATE TABLE IF NOT EXISTS counters (
			name VARCHAR(100) PRIMARY KEY,
			value BIGINT NOT NULL
		)`,

		// Small keyed configuration values
		`CREATE TABLE IF NOT EXISTS config_entries (
			key VARCHAR(100) PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		// Ticker observations for the moving average telemetry
		`CREATE TABLE IF NOT EXISTS tickers (
			id BIGSERIAL PRIMARY KEY,
			pair VARCHAR(20) NOT NULL,
			ask VARCHAR(40),
			ask_volume VARCHAR(40),
			bid VARCHAR(40),
			bid_volume VARCHAR(40),
			last_price VARCHAR(40),
			observed_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tickers_pair_observed ON tickers(pair, observed_at DESC)`,

		// API users for the status endpoints
		`CREATE TABLE IF NOT EXISTS users (
			id SERIAL PRIMARY KEY,
			username VARCHAR(100) UNIQUE NOT NULL,
			password_hash VARCHAR(255) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Println("Database migrations completed successfully")
	return nil
}
