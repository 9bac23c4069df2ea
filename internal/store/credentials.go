package store

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// Supported driver names, as registered with database/sql.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"
)

// Credentials are the structured connection parameters handed to Connect.
// For the sqlite3 driver only DatabaseName is used, as a file path.
type Credentials struct {
	Driver       string
	Host         string
	Port         int
	User         string
	Secret       string
	DatabaseName string
	SSLMode      string
}

// DSN renders the data source name for the configured driver.
// The result contains the secret and must not be logged; use redact.DSN.
func (c Credentials) DSN() (string, error) {
	switch c.driver() {
	case DriverPostgres:
		host := c.Host
		if c.Port > 0 {
			host = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
		}
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(c.User, c.Secret),
			Host:   host,
			Path:   "/" + c.DatabaseName,
		}
		if c.SSLMode != "" {
			u.RawQuery = url.Values{"sslmode": []string{c.SSLMode}}.Encode()
		}
		return u.String(), nil
	case DriverSQLite:
		if c.DatabaseName == "" {
			return "", errors.New("sqlite3 requires a database path")
		}
		return c.DatabaseName + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDriver, c.Driver)
	}
}

func (c Credentials) driver() string {
	if c.Driver == "" {
		return DriverPostgres
	}
	return c.Driver
}
