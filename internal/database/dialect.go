package database

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	defaultPostgresPort = 5432
	defaultMySQLPort    = 3306
	sqliteBusyTimeoutMS = 5000
)

// dialector resolves the gorm dialector for driver. The returned bool is set
// for throwaway in-memory databases, whose query logging is suppressed.
func dialector(driver string, cfg Config) (gorm.Dialector, bool, error) {
	switch driver {
	case "sqlite", "sqlite3":
		dsn, memory, err := sqliteDSN(cfg)
		if err != nil {
			return nil, false, err
		}
		return sqlite.Open(dsn), memory, nil
	case "postgres", "postgresql":
		dsn, err := postgresDSN(cfg)
		if err != nil {
			return nil, false, err
		}
		return postgres.Open(dsn), false, nil
	case "mysql":
		dsn, err := mysqlDSN(cfg)
		if err != nil {
			return nil, false, err
		}
		return gormmysql.Open(dsn), false, nil
	default:
		return nil, false, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// sqliteDSN maps Path onto a WAL-mode file DSN; an empty path or ":memory:"
// yields a shared in-memory database.
func sqliteDSN(cfg Config) (string, bool, error) {
	if cfg.DSN != "" {
		return cfg.DSN, strings.Contains(cfg.DSN, "mode=memory") || strings.Contains(cfg.DSN, ":memory:"), nil
	}

	path := strings.TrimSpace(cfg.Path)
	if path == "" || strings.EqualFold(path, ":memory:") {
		return "file::memory:?cache=shared&_foreign_keys=1", true, nil
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", false, fmt.Errorf("create sqlite directory: %w", err)
		}
	}
	q := url.Values{}
	q.Set("_foreign_keys", "1")
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", strconv.Itoa(sqliteBusyTimeoutMS))
	return "file:" + filepath.ToSlash(path) + "?" + q.Encode(), false, nil
}

// MemoryDSN returns a shared-cache in-memory DSN isolated under name.
func MemoryDSN(name string) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", name)
}

// postgresDSN renders discrete settings as a postgres:// URL. TLS is off
// unless an sslmode option says otherwise.
func postgresDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	if cfg.User == "" || cfg.Name == "" {
		return "", errors.New("postgres configuration requires user and database name")
	}

	query := url.Values{}
	for key, value := range cfg.Options {
		query.Set(key, value)
	}
	if query.Get("sslmode") == "" {
		query.Set("sslmode", "disable")
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(orDefault(cfg.Host, "localhost"), strconv.Itoa(portOrDefault(cfg.Port, defaultPostgresPort))),
		Path:     "/" + cfg.Name,
		RawQuery: query.Encode(),
	}
	if cfg.Password != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	} else {
		u.User = url.User(cfg.User)
	}
	return u.String(), nil
}

// mysqlDSN builds a go-sql-driver DSN with utf8mb4 and UTC time parsing.
// Options override driver parameters.
func mysqlDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	if cfg.User == "" || cfg.Name == "" {
		return "", errors.New("mysql configuration requires user and database name")
	}

	dc := mysqldriver.NewConfig()
	dc.User = cfg.User
	dc.Passwd = cfg.Password
	dc.Net = "tcp"
	dc.Addr = net.JoinHostPort(orDefault(cfg.Host, "127.0.0.1"), strconv.Itoa(portOrDefault(cfg.Port, defaultMySQLPort)))
	dc.DBName = cfg.Name
	dc.ParseTime = true
	dc.Loc = time.UTC
	dc.Params = map[string]string{"charset": "utf8mb4"}
	for key, value := range cfg.Options {
		dc.Params[key] = value
	}
	return dc.FormatDSN(), nil
}

func orDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}

func portOrDefault(port, fallback int) int {
	if port > 0 {
		return port
	}
	return fallback
}
