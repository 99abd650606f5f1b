// Package config holds the typed form of a backfill.database.<name> entry.
package config

import (
	"database/sql"
	"time"
)

// PoolConfig sizes the connection pool of one database. Zero values keep the driver defaults.
type PoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`
}

// Apply sets the configured limits on db.
func (p PoolConfig) Apply(db *sql.DB) {
	if p.MaxOpenConns > 0 {
		db.SetMaxOpenConns(p.MaxOpenConns)
	}
	if p.MaxIdleConns > 0 {
		db.SetMaxIdleConns(p.MaxIdleConns)
	}
	if p.ConnMaxLifetimeMinutes > 0 {
		db.SetConnMaxLifetime(time.Duration(p.ConnMaxLifetimeMinutes) * time.Minute)
	}
}

// DatabaseConfig is one database the scheduler stores Operations in and runs Batches against.
type DatabaseConfig struct {
	Type     string `yaml:"type"` // postgres, mysql or sqlite
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"` // file path or ":memory:" for sqlite
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	// Schema is the PostgreSQL search_path of the connection.
	Schema  string     `yaml:"schema,omitempty"`
	Sslmode string     `yaml:"sslmode"`
	Pool    PoolConfig `yaml:"pool"`
}
