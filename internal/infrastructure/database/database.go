// Package database opens the SQL connection backing durable cookie storage,
// either a local SQLite file or a remote Turso/libSQL database.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
)

// Config selects and tunes the connection.
type Config struct {
	SQLitePath      string
	TursoURL        string
	TursoToken      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Database wraps the connection with the driver it was opened with.
type Database struct {
	Conn     *sql.DB
	UseTurso bool
}

// Open connects to Turso when both URL and token are set, otherwise to the
// SQLite file, creating its directory if needed. The schema is ensured.
func Open(cfg Config) (*Database, error) {
	var conn *sql.DB
	var err error
	useTurso := cfg.TursoURL != "" && cfg.TursoToken != ""

	if useTurso {
		connStr := cfg.TursoURL + "?authToken=" + cfg.TursoToken
		conn, err = sql.Open("libsql", connStr)
		if err != nil {
			return nil, fmt.Errorf("turso connection failed: %w", err)
		}
	} else {
		if cfg.SQLitePath == "" {
			return nil, errors.New("sqlite path is required when turso is not configured")
		}
		if cfg.SQLitePath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		conn, err = sql.Open("sqlite3", cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite database: %w", err)
		}
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := NewTableCreator().CreateSchema(conn); err != nil {
		conn.Close()
		return nil, err
	}

	return &Database{Conn: conn, UseTurso: useTurso}, nil
}

// Close releases the connection.
func (db *Database) Close() error {
	if db.Conn != nil {
		return db.Conn.Close()
	}
	return nil
}

// GetConnectionInfo describes the backend for logs.
func (db *Database) GetConnectionInfo() string {
	if db.UseTurso {
		return "Turso"
	}
	return "SQLite"
}
