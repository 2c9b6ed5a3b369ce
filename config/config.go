package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultPath is used when no configuration path is given on the command line.
const DefaultPath = "config.json"

// Publisher backends understood by the process entry point.
const (
	BackendLibrato     = "librato"
	BackendPushgateway = "pushgateway"
	BackendLog         = "log"
)

// Config holds every configurable value for the collector.
type Config struct {
	// Seconds between the start of one cycle's wait and the next cycle.
	Interval int `mapstructure:"interval"`

	// Telemetry backend: librato|pushgateway|log
	Backend string `mapstructure:"backend"`

	LogLevel string `mapstructure:"log_level"` // debug|info|warn|error

	// Number of databases collected at once. 1 keeps the cycle sequential.
	Concurrency int `mapstructure:"concurrency"`

	// Connection parameters appended to every database connection string.
	ConnectTimeout  int    `mapstructure:"connect_timeout"` // seconds
	ApplicationName string `mapstructure:"application_name"`

	MetricPrefix string `mapstructure:"metric_prefix"`

	Databases []Database `mapstructure:"databases"`

	Librato     Librato     `mapstructure:"librato"`
	Pushgateway Pushgateway `mapstructure:"pushgateway"`
}

// Database is one monitored PostgreSQL instance.
type Database struct {
	Source   string `mapstructure:"source"` // logical name attached to every metric
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// Librato holds the metrics API credentials.
type Librato struct {
	User  string `mapstructure:"user"`
	Token string `mapstructure:"token"`
	URL   string `mapstructure:"url"`
}

// Pushgateway points at a Prometheus Pushgateway.
type Pushgateway struct {
	URL string `mapstructure:"url"`
	Job string `mapstructure:"job"`
}

// Load reads configuration from (in decreasing priority):
//  1. command-line flags "log-level" and "backend", when set on flags
//  2. environment variables prefixed with PGMONITOR_ (e.g. PGMONITOR_INTERVAL)
//  3. the document at path (JSON unless the extension says otherwise)
//  4. built-in defaults.
//
// flags may be nil. It returns a fully populated, validated *Config or an error.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetDefault("interval", 60)
	v.SetDefault("backend", BackendLibrato)
	v.SetDefault("log_level", "info")
	v.SetDefault("concurrency", 1)
	v.SetDefault("connect_timeout", 2)
	v.SetDefault("application_name", "pgmonitor")
	v.SetDefault("metric_prefix", "postgres.pg_stat.")
	v.SetDefault("librato.user", "")
	v.SetDefault("librato.token", "")
	v.SetDefault("librato.url", "https://metrics-api.librato.com/v1/metrics")
	v.SetDefault("pushgateway.url", "")
	v.SetDefault("pushgateway.job", "pgmonitor")

	v.SetEnvPrefix("PGMONITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range map[string]string{"log_level": "log-level", "backend": "backend"} {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path == "" {
		path = DefaultPath
	}
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("json")
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("cannot decode config: %w", err)
	}
	for i := range cfg.Databases {
		if cfg.Databases[i].Port == 0 {
			cfg.Databases[i].Port = 5432
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first problem that would stop the collector from running.
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %d", c.Interval)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive, got %d", c.ConnectTimeout)
	}
	if len(c.Databases) == 0 {
		return errors.New("at least one database must be configured")
	}
	// Sources label every point, so they must tell targets apart.
	seen := make(map[string]int, len(c.Databases))
	for i, db := range c.Databases {
		if db.Source == "" {
			return fmt.Errorf("databases[%d]: source must not be empty", i)
		}
		if j, dup := seen[db.Source]; dup {
			return fmt.Errorf("databases[%d]: source %q already used by databases[%d]", i, db.Source, j)
		}
		seen[db.Source] = i
		if db.Host == "" || db.Database == "" {
			return fmt.Errorf("databases[%d] (%s): host and database are required", i, db.Source)
		}
	}

	switch c.Backend {
	case BackendLibrato:
		if c.Librato.User == "" || c.Librato.Token == "" {
			return errors.New("librato backend requires librato.user and librato.token")
		}
	case BackendPushgateway:
		if c.Pushgateway.URL == "" {
			return errors.New("pushgateway backend requires pushgateway.url")
		}
	case BackendLog:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	return nil
}

// IntervalDuration is Interval as a time.Duration.
func (c *Config) IntervalDuration() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

// ConnectTimeoutDuration is ConnectTimeout as a time.Duration.
func (c *Config) ConnectTimeoutDuration() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}

// ConnString builds a libpq keyword/value connection string with the
// given connect timeout (seconds) and application name.
func (d Database) ConnString(connectTimeout int, applicationName string) string {
	pairs := []struct{ key, value string }{
		{"host", d.Host},
		{"port", strconv.Itoa(d.Port)},
		{"dbname", d.Database},
		{"user", d.User},
		{"password", d.Password},
		{"connect_timeout", strconv.Itoa(connectTimeout)},
		{"application_name", applicationName},
	}

	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p.key)
		b.WriteByte('=')
		b.WriteString(quoteValue(p.value))
	}
	return b.String()
}

// quoteValue applies libpq quoting: empty values and values containing
// whitespace, quotes or backslashes are wrapped in single quotes with
// quotes and backslashes escaped.
func quoteValue(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n\r'\\") {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}
