package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" validate:"required"`
	Database   DatabaseConfig   `mapstructure:"database" validate:"required"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher" validate:"required"`
}

// ServerConfig contains process-level settings: logging and the live bridge.
type ServerConfig struct {
	LogLevel  string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"required,oneof=json text"`

	// BridgeAddr is the listen address of the websocket bridge. Empty disables it.
	BridgeAddr string `mapstructure:"bridge_addr" validate:"omitempty,hostname_port"`

	// BridgeMaxClients caps concurrent websocket viewers.
	BridgeMaxClients int `mapstructure:"bridge_max_clients" validate:"gte=1"`

	// BridgeAllowedOrigins lists the browser origins, besides the bridge's
	// own, that may open the websocket stream, e.g. "http://localhost:3000".
	BridgeAllowedOrigins []string `mapstructure:"bridge_allowed_origins" validate:"dive,url"`
}

// DatabaseConfig holds the credentials handed to the resource manager.
// Host and User are not needed by the sqlite3 driver, where Name is a file path.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver" validate:"required,oneof=pgx sqlite3"`
	Host     string `mapstructure:"host" validate:"required_unless=Driver sqlite3"`
	Port     int    `mapstructure:"port" validate:"gte=0,lt=65536"`
	User     string `mapstructure:"user" validate:"required_unless=Driver sqlite3"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name" validate:"required"`
	SSLMode  string `mapstructure:"ssl_mode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`

	// MaxOpenConns bounds the pool for drivers that support concurrent sessions.
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DispatcherConfig sizes the worker pool.
type DispatcherConfig struct {
	WorkerCount int `mapstructure:"worker_count" validate:"gte=1,lte=256"`

	// QueueSize of zero means an unbounded queue.
	QueueSize int `mapstructure:"queue_size" validate:"gte=0"`

	// StopTimeout bounds how long shutdown waits for queued work to drain.
	StopTimeout time.Duration `mapstructure:"stop_timeout" validate:"gte=0"`
}
