// Package config loads the service configuration.
//
// Values come from struct tag defaults, then an optional YAML file named by
// CONFIG_FILE, then environment variables. The result is validated once on
// startup so misconfiguration fails fast.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Database DatabaseConfig  `yaml:"database"`
	Ingest   IngestConfig    `yaml:"ingest"`
	Rate     RateLimitConfig `yaml:"rate"`
	Security SecurityConfig  `yaml:"security"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `yaml:"host" env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `yaml:"port" env:"SERVER_PORT" default:"8080"`

	// ReadHeaderTimeout bounds reading request headers. Body reads are
	// governed by the ingest idle timeout instead (default: 10s)
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"SERVER_READ_HEADER_TIMEOUT" default:"10s"`

	// WriteTimeout is the maximum duration for writing a response (default: 0, unlimited)
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is how long to wait for in-flight uploads on shutdown (default: 30s)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds the optional ledger database settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. Empty keeps the ledger in memory.
	URL string `yaml:"url" env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `yaml:"max_conns" env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `yaml:"min_conns" env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// IngestConfig holds multipart ingestion settings.
type IngestConfig struct {
	// Storage is where file parts are buffered: memory or tempfile (default: memory)
	Storage string `yaml:"storage" env:"INGEST_STORAGE" default:"memory"`

	// TempDirectory holds temp files; empty uses the OS temp dir
	TempDirectory string `yaml:"temp_directory" env:"INGEST_TEMP_DIR"`

	// StoreDirectory is where completed uploads are moved. Empty discards
	// payloads after the response.
	StoreDirectory string `yaml:"store_directory" env:"INGEST_STORE_DIR"`

	// PartSizeLimit caps one file part in bytes, 0 disables (default: 100MB)
	PartSizeLimit int64 `yaml:"part_size_limit" env:"INGEST_PART_LIMIT" default:"104857600"`

	// TotalSizeLimit caps all file parts together in bytes, 0 disables (default: 500MB)
	TotalSizeLimit int64 `yaml:"total_size_limit" env:"INGEST_TOTAL_LIMIT" default:"524288000"`

	// MaxFiles caps the number of file parts, 0 disables (default: 20)
	MaxFiles int `yaml:"max_files" env:"INGEST_MAX_FILES" default:"20"`

	// FieldSizeLimit truncates text field values (default: 1MB)
	FieldSizeLimit int64 `yaml:"field_size_limit" env:"INGEST_FIELD_LIMIT" default:"1048576"`

	// AbortOnLimit answers 413 when a part exceeds PartSizeLimit instead of truncating
	AbortOnLimit bool `yaml:"abort_on_limit" env:"INGEST_ABORT_ON_LIMIT" default:"false"`

	// ResponseOnLimit is the message sent with limit responses
	ResponseOnLimit string `yaml:"response_on_limit" env:"INGEST_RESPONSE_ON_LIMIT" default:"File size limit has been reached"`

	// ParseNested expands bracket keys like user[name] into nested objects
	ParseNested bool `yaml:"parse_nested" env:"INGEST_PARSE_NESTED" default:"false"`

	// DeferContinuation waits for the whole body before calling the handler
	DeferContinuation bool `yaml:"defer_continuation" env:"INGEST_DEFER_CONTINUATION" default:"false"`

	SafeFileNames      bool `yaml:"safe_file_names" env:"INGEST_SAFE_FILE_NAMES" default:"false"`
	PreserveExtension  int  `yaml:"preserve_extension" env:"INGEST_PRESERVE_EXTENSION" default:"0"`
	URIDecodeFileNames bool `yaml:"uri_decode_file_names" env:"INGEST_URI_DECODE_FILE_NAMES" default:"false"`
	CreateParentPath   bool `yaml:"create_parent_path" env:"INGEST_CREATE_PARENT_PATH" default:"true"`

	// UploadTimeout fails an upload when no bytes arrive for this long (default: 60s)
	UploadTimeout time.Duration `yaml:"upload_timeout" env:"INGEST_UPLOAD_TIMEOUT" default:"60s"`

	// Debug logs every ingestion step at info level
	Debug bool `yaml:"debug" env:"INGEST_DEBUG" default:"false"`

	// MaxConcurrent is the maximum number of simultaneous ingestions (default: 5)
	MaxConcurrent int `yaml:"max_concurrent" env:"INGEST_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for an ingestion slot (default: 30s)
	MaxWaitTime time.Duration `yaml:"max_wait_time" env:"INGEST_MAX_WAIT_TIME" default:"30s"`
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `yaml:"enabled" env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `yaml:"requests_per_minute" env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for the upload endpoint (default: 10)
	UploadLimit int `yaml:"upload_limit" env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `yaml:"trusted_proxies" env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `yaml:"enable_csp" env:"SECURITY_ENABLE_CSP" default:"true"`

	// RequireAPIKey protects /api/ routes with X-API-Key (default: false)
	RequireAPIKey bool `yaml:"require_api_key" env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `yaml:"level" env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `yaml:"format" env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
