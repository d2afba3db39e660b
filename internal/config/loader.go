package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/formingest/internal/ingest"
)

// Load reads CONFIG_FILE (if set) and the environment. See LoadFile.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("CONFIG_FILE"))
}

// LoadFile applies tag defaults, then the YAML file at path (skipped when
// path is empty), then environment variables, and validates the result.
func LoadFile(path string) (*Config, error) {
	cfg := &Config{}
	root := reflect.ValueOf(cfg).Elem()

	if err := eachField(root, applyDefault); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if err := eachField(root, applyEnv); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// eachField calls fn for every settable leaf field, recursing into nested
// config sections.
func eachField(v reflect.Value, fn func(reflect.StructField, reflect.Value) error) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct {
			if err := eachField(fieldVal, fn); err != nil {
				return err
			}
			continue
		}

		if err := fn(field, fieldVal); err != nil {
			return err
		}
	}

	return nil
}

func applyDefault(field reflect.StructField, v reflect.Value) error {
	def, ok := field.Tag.Lookup("default")
	if !ok || def == "" {
		return nil
	}
	if err := setField(v, def); err != nil {
		return fmt.Errorf("bad default for %s: %w", field.Name, err)
	}
	return nil
}

// applyEnv overrides a field when its primary or alternate variable is set.
func applyEnv(field reflect.StructField, v reflect.Value) error {
	envName := field.Tag.Get("env")
	if envName == "" {
		return nil
	}

	value := os.Getenv(envName)
	if value == "" {
		if alt := field.Tag.Get("envAlt"); alt != "" {
			value = os.Getenv(alt)
		}
	}
	if value == "" {
		return nil
	}

	if err := setField(v, value); err != nil {
		return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
	}
	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		var result []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				result = append(result, p)
			}
		}
		field.Set(reflect.ValueOf(result))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is usable.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	if c.Database.URL != "" {
		if c.Database.MaxConns <= 0 {
			errs = append(errs, "DB_MAX_CONNS must be positive")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
				c.Database.MaxConns, c.Database.MinConns))
		}
	}

	switch ingest.StorageMode(strings.ToLower(c.Ingest.Storage)) {
	case ingest.StorageMemory, ingest.StorageTempFile:
	default:
		errs = append(errs, fmt.Sprintf("INGEST_STORAGE (%q) must be one of: memory, tempfile", c.Ingest.Storage))
	}
	if c.Ingest.PartSizeLimit < 0 {
		errs = append(errs, "INGEST_PART_LIMIT must be non-negative")
	}
	if c.Ingest.TotalSizeLimit < 0 {
		errs = append(errs, "INGEST_TOTAL_LIMIT must be non-negative")
	}
	if c.Ingest.MaxFiles < 0 {
		errs = append(errs, "INGEST_MAX_FILES must be non-negative")
	}
	if c.Ingest.FieldSizeLimit <= 0 {
		errs = append(errs, "INGEST_FIELD_LIMIT must be positive")
	}
	if c.Ingest.UploadTimeout < 0 {
		errs = append(errs, "INGEST_UPLOAD_TIMEOUT must be non-negative")
	}
	if c.Ingest.MaxConcurrent <= 0 {
		errs = append(errs, "INGEST_MAX_CONCURRENT must be positive")
	}
	if c.Ingest.MaxWaitTime <= 0 {
		errs = append(errs, "INGEST_MAX_WAIT_TIME must be positive")
	}

	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}

	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// IngestOptions translates the ingest section into middleware options. The
// limit and error handlers are left for the HTTP layer to fill in.
func (c *Config) IngestOptions() ingest.Options {
	in := c.Ingest
	return ingest.Options{
		StorageMode:        ingest.StorageMode(strings.ToLower(in.Storage)),
		PerPartSizeLimit:   in.PartSizeLimit,
		AggregateSizeLimit: in.TotalSizeLimit,
		MaxFileParts:       in.MaxFiles,
		FieldSizeLimit:     in.FieldSizeLimit,
		AbortOnLimit:       in.AbortOnLimit,
		ResponseOnLimit:    in.ResponseOnLimit,
		ParseNestedKeys:    in.ParseNested,
		DeferContinuation:  in.DeferContinuation,
		TempDirectory:      in.TempDirectory,
		SafeFileNames:      in.SafeFileNames,
		PreserveExtension:  in.PreserveExtension,
		URIDecodeFileNames: in.URIDecodeFileNames,
		CreateParentPath:   in.CreateParentPath,
		UploadTimeout:      in.UploadTimeout,
		DebugLogging:       in.Debug,
	}
}

// String returns a safe string representation of the config for logging.
// The database URL and API keys are masked.
func (c *Config) String() string {
	dbURL := "none"
	if c.Database.URL != "" {
		dbURL = "[MASKED]"
	}

	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Addr: %q}, ", c.Server.Addr())
	fmt.Fprintf(&b, "Database: {URL: %s, MaxConns: %d}, ", dbURL, c.Database.MaxConns)
	fmt.Fprintf(&b, "Ingest: {Storage: %s, PartSizeLimit: %d, TotalSizeLimit: %d, MaxFiles: %d, AbortOnLimit: %v, MaxConcurrent: %d}, ",
		c.Ingest.Storage, c.Ingest.PartSizeLimit, c.Ingest.TotalSizeLimit, c.Ingest.MaxFiles,
		c.Ingest.AbortOnLimit, c.Ingest.MaxConcurrent)
	fmt.Fprintf(&b, "Rate: {Enabled: %v, RequestsPerMinute: %d}, ", c.Rate.Enabled, c.Rate.RequestsPerMinute)
	fmt.Fprintf(&b, "Security: {RequireAPIKey: %v, APIKeys: %d configured}, ", c.Security.RequireAPIKey, len(c.Security.APIKeys))
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
