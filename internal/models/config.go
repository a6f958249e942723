package models

import "time"

// Config represents the application configuration
type Config struct {
	Backend   string
	Database  DatabaseConfig
	Postgres  PostgresConfig
	PlansFile string
}

// DatabaseConfig holds SQLite connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	URL         string
	PingTimeout time.Duration
}
