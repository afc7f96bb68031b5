package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"dietchat/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

const defaultMySQLParams = "parseTime=true&charset=utf8mb4&loc=UTC"

// driverName maps a configured database type onto a registered sql driver.
func driverName(dbType string) (string, error) {
	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		return "sqlite3", nil
	case "mysql":
		return "mysql", nil
	default:
		return "", fmt.Errorf("unsupported driver: %s", dbType)
	}
}

func mysqlDSN(cfg config.DatabaseConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	params := cfg.Params
	if params == "" {
		params = defaultMySQLParams
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.DBName, params)
}

// Open connects to the database configured under dbType and verifies the
// connection. Session and turn ownership relies on foreign keys, so sqlite
// connections enable them explicitly.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}
	driver, err := driverName(dbType)
	if err != nil {
		return nil, err
	}

	var dsn string
	switch driver {
	case "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		dsn = dbCfg.DSN
	case "mysql":
		dsn = mysqlDSN(dbCfg)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if driver == "sqlite3" {
		// one connection keeps :memory: databases alive and serializes writers
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate creates the users, sessions, turns and user_tokens tables when
// they are missing. It is safe to run on every start.
func Migrate(db *sql.DB, dbType string) error {
	driver, err := driverName(dbType)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	for i, stmt := range schema[driver] {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate %s statement %d: %w", driver, i, err)
		}
	}
	return nil
}
