/*
 * Copyright 2025 Google LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *    https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/guard"
)

// EnvPrefix prefixes every environment variable the tool reads.
const EnvPrefix = "NL2SQL"

// SupportedDialects lists the connection dialects a handler is registered for.
var SupportedDialects = []string{
	"postgres", "cloudsqlpostgres",
	"mysql", "cloudsqlmysql",
	"sqlserver", "cloudsqlsqlserver",
	"sqlite",
}

// Config holds all configuration for the application
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Log      LogConfig      `mapstructure:"log"`
	// AllowedTables uses the "table[col1,col2],other" syntax. Empty allows nothing.
	AllowedTables string `mapstructure:"allowed_tables"`
	// CatalogFile is a YAML catalog used instead of introspection.
	CatalogFile  string `mapstructure:"catalog_file"`
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	Model        string `mapstructure:"model"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Dialect                        string `mapstructure:"dialect"`
	Host                           string `mapstructure:"host"`
	Port                           int    `mapstructure:"port"`
	User                           string `mapstructure:"username"`
	Password                       string `mapstructure:"password"`
	DBName                         string `mapstructure:"database"`
	SSLMode                        string `mapstructure:"sslmode"`
	CloudSQLInstanceConnectionName string `mapstructure:"cloudsql_instance_connection_name"`
	UsePrivateIP                   bool   `mapstructure:"cloudsql_use_private_ip"`
	MaxOpenConns                   int    `mapstructure:"max_open_conns"`
	MaxIdleConns                   int    `mapstructure:"max_idle_conns"`
}

// IsCloudSQL reports whether the dialect connects through the Cloud SQL connector.
func (c DatabaseConfig) IsCloudSQL() bool {
	return strings.HasPrefix(c.Dialect, "cloudsql")
}

// LimitsConfig mirrors guard.Limits with millisecond durations.
type LimitsConfig struct {
	MaxRows            int `mapstructure:"max_rows"`
	MaxLimitClause     int `mapstructure:"max_limit_clause"`
	StatementTimeoutMs int `mapstructure:"statement_timeout_ms"`
	CheckoutTimeoutMs  int `mapstructure:"checkout_timeout_ms"`
}

// Guard converts the configured limits.
func (l LimitsConfig) Guard() guard.Limits {
	return guard.Limits{
		MaxRows:          l.MaxRows,
		MaxLimitClause:   l.MaxLimitClause,
		StatementTimeout: time.Duration(l.StatementTimeoutMs) * time.Millisecond,
		CheckoutTimeout:  time.Duration(l.CheckoutTimeoutMs) * time.Millisecond,
	}
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every key with its default so that environment
// variables are picked up for all of them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.dialect", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.username", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.cloudsql_instance_connection_name", "")
	v.SetDefault("database.cloudsql_use_private_ip", false)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)

	v.SetDefault("limits.max_rows", guard.DefaultMaxRows)
	v.SetDefault("limits.max_limit_clause", guard.DefaultMaxLimitClause)
	v.SetDefault("limits.statement_timeout_ms", guard.DefaultStatementTimeout.Milliseconds())
	v.SetDefault("limits.checkout_timeout_ms", guard.DefaultCheckoutTimeout.Milliseconds())

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("allowed_tables", "")
	v.SetDefault("catalog_file", "")
	v.SetDefault("gemini_api_key", "")
	v.SetDefault("model", "gemini-1.5-flash-latest")
}

// New returns a viper instance wired for NL2SQL_* environment variables.
// GEMINI_API_KEY is honoured as well.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("gemini_api_key", EnvPrefix+"_GEMINI_API_KEY", "GEMINI_API_KEY")
	return v
}

// Load reads the optional config file into v and decodes the result.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.Database.Dialect = strings.ToLower(strings.TrimSpace(cfg.Database.Dialect))
	return &cfg, nil
}

// Validate rejects configurations that would disable a bound or cannot
// connect. It does not require the API key; only commands that call the
// model need it.
func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains(SupportedDialects, c.Database.Dialect) {
		errs = append(errs, fmt.Errorf("unsupported dialect: %s (only %s are supported)",
			c.Database.Dialect, strings.Join(SupportedDialects, ", ")))
	}
	if c.Database.IsCloudSQL() && c.Database.CloudSQLInstanceConnectionName == "" {
		errs = append(errs, errors.New("cloudsql_instance_connection_name is required for Cloud SQL dialects"))
	}
	if c.Database.Dialect == "sqlite" && c.Database.DBName == "" {
		errs = append(errs, errors.New("database must name the sqlite file"))
	}
	if c.Database.MaxOpenConns < 0 || c.Database.MaxIdleConns < 0 {
		errs = append(errs, errors.New("connection pool sizes cannot be negative"))
	}
	if err := c.Limits.Guard().Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unsupported log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
