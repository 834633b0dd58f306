// Package config loads the schemasync configuration from a YAML file with
// SCHEMASYNC_* environment overrides.
//
// Example:
//
//	database:
//	  provider: mysql
//	  dsn: "app:secret@tcp(127.0.0.1:3306)/scheduler?parseTime=true"
//	master:
//	  schema_file: schema/master.tbl
//	  reference_data: schema/reference.yaml
//	  tables: [m_level, m_room_type]
//	storage:
//	  path: .schemasync
//	http:
//	  address: ":8080"
//	log_level: info
//	log_format: json
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Supported database providers.
const (
	ProviderMySQL    = "mysql"
	ProviderPostgres = "postgres"
	ProviderSQLite   = "sqlite"
)

type Config struct {
	Database DBConfig      `yaml:"database"`
	Master   MasterConfig  `yaml:"master"`
	Storage  StorageConfig `yaml:"storage"`
	HTTP     HTTPConfig    `yaml:"http"`
	Journal  JournalConfig `yaml:"journal"`
	LogLevel string        `yaml:"log_level"`
	// LogFormat is json (default) or text.
	LogFormat string `yaml:"log_format,omitempty"`
}

// DBConfig points at the live database being reconciled.
type DBConfig struct {
	// Provider is one of mysql, postgres or sqlite.
	Provider string `yaml:"provider"`
	DSN      string `yaml:"dsn"`
	// Schema is the catalog schema to introspect. Empty means the connection
	// default (DATABASE() for MySQL, public for PostgreSQL).
	Schema string `yaml:"schema"`
}

// MasterConfig locates the canonical inputs.
type MasterConfig struct {
	SchemaFile    string `yaml:"schema_file"`
	ReferenceData string `yaml:"reference_data"`
	// Tables restricts diffing to these tables; empty compares every master
	// table.
	Tables []string `yaml:"tables,omitempty"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type HTTPConfig struct {
	Address string `yaml:"address"`
}

// JournalConfig enables the PostgreSQL run journal when DSN is set.
type JournalConfig struct {
	DSN string `yaml:"dsn"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Database: DBConfig{Provider: ProviderMySQL},
		Master:   MasterConfig{SchemaFile: "schema/master.tbl"},
		Storage:  StorageConfig{Path: ".schemasync"},
		HTTP:     HTTPConfig{Address: ":8080"},
		LogLevel: "info",
	}
}

// Load reads path (optional) on top of the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.Database.Provider = strings.ToLower(cfg.Database.Provider)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Database.Provider = getEnv("SCHEMASYNC_DB_PROVIDER", c.Database.Provider)
	c.Database.DSN = getEnv("SCHEMASYNC_DB_DSN", c.Database.DSN)
	c.Database.Schema = getEnv("SCHEMASYNC_DB_SCHEMA", c.Database.Schema)
	c.Master.SchemaFile = getEnv("SCHEMASYNC_MASTER_SCHEMA", c.Master.SchemaFile)
	c.Master.ReferenceData = getEnv("SCHEMASYNC_REFERENCE_DATA", c.Master.ReferenceData)
	if tables := splitAndTrim(os.Getenv("SCHEMASYNC_TABLES")); len(tables) > 0 {
		c.Master.Tables = tables
	}
	c.Storage.Path = getEnv("SCHEMASYNC_STORAGE_PATH", c.Storage.Path)
	c.HTTP.Address = getEnv("SCHEMASYNC_HTTP_ADDR", c.HTTP.Address)
	c.Journal.DSN = getEnv("SCHEMASYNC_JOURNAL_DSN", c.Journal.DSN)
	c.LogLevel = getEnv("SCHEMASYNC_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("SCHEMASYNC_LOG_FORMAT", c.LogFormat)
}

func (c Config) Validate() error {
	switch strings.ToLower(c.Database.Provider) {
	case ProviderMySQL, ProviderPostgres, ProviderSQLite:
	default:
		return fmt.Errorf("database.provider %q is not supported (mysql, postgres, sqlite)", c.Database.Provider)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required (or SCHEMASYNC_DB_DSN)")
	}
	if c.Master.SchemaFile == "" {
		return errors.New("master.schema_file is required")
	}
	if c.Storage.Path == "" {
		return errors.New("storage.path is required")
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "json", "text":
	default:
		return fmt.Errorf("log_format %q is not one of json, text", c.LogFormat)
	}
	return nil
}

// Marshal renders the configuration as YAML; used by init-config.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func splitAndTrim(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
