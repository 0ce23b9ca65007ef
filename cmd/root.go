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
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/catalog"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/classifier"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/config"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/database"
	_ "github.com/GoogleCloudPlatform/nl2sql-guard/internal/database/mysql"
	_ "github.com/GoogleCloudPlatform/nl2sql-guard/internal/database/postgres"
	_ "github.com/GoogleCloudPlatform/nl2sql-guard/internal/database/sqlite"
	_ "github.com/GoogleCloudPlatform/nl2sql-guard/internal/database/sqlserver"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/guard"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/logging"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/pipeline"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/policy"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/utils"
)

var (
	configFile string

	// v, cfg and logger are set by initFlagsAndConfig before any RunE.
	v      = config.New()
	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "nl2sql_guard",
	Short: "Run model-written SQL behind a read-only policy gate",
	Long: `nl2sql_guard turns natural-language questions into SQL and runs the result
only after it has been classified as a single read-only query over an
allow-listed set of tables and columns. Execution happens in a read-only
session with a statement timeout and a row cap.`,
	PersistentPreRunE: initFlagsAndConfig,
	SilenceUsage:      true,
}

// persistentFlagKeys maps persistent flags to configuration keys.
var persistentFlagKeys = map[string]string{
	"dialect":                           "database.dialect",
	"host":                              "database.host",
	"port":                              "database.port",
	"username":                          "database.username",
	"password":                          "database.password",
	"database":                          "database.database",
	"sslmode":                           "database.sslmode",
	"cloudsql-instance-connection-name": "database.cloudsql_instance_connection_name",
	"cloudsql-use-private-ip":           "database.cloudsql_use_private_ip",
	"allowed-tables":                    "allowed_tables",
	"catalog":                           "catalog_file",
	"max-rows":                          "limits.max_rows",
	"max-limit-clause":                  "limits.max_limit_clause",
	"statement-timeout-ms":              "limits.statement_timeout_ms",
	"checkout-timeout-ms":               "limits.checkout_timeout_ms",
	"log-level":                         "log.level",
	"log-format":                        "log.format",
	"gemini-api-key":                    "gemini_api_key",
}

// initFlagsAndConfig loads the configuration from file, environment and
// flags, in increasing precedence, and builds the logger.
func initFlagsAndConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(v, configFile)
	if err != nil {
		return err
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	l, err := logging.New(loaded.Log.Level, loaded.Log.Format)
	if err != nil {
		return err
	}
	cfg = loaded
	logger = l
	zap.ReplaceGlobals(logger)
	return nil
}

func setupDatabase(ctx context.Context) (*database.DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is not initialized")
	}
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", zap.String("dialect", cfg.Database.Dialect), zap.Error(err))
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// loadCatalog builds the catalog from --catalog when given, otherwise from
// db. A non-empty --allowed-tables narrows a file catalog.
func loadCatalog(ctx context.Context, db *database.DB) (*catalog.Catalog, map[string][]string, error) {
	allowed, err := utils.ParseTablesFlag(cfg.AllowedTables)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid --allowed-tables: %w", err)
	}

	if cfg.CatalogFile != "" {
		cat, err := catalog.LoadFile(cfg.CatalogFile)
		if err != nil {
			return nil, nil, err
		}
		if len(allowed) == 0 {
			return cat, allowed, nil
		}
		restricted, missing, err := cat.Restrict(allowed)
		if err != nil {
			return nil, nil, err
		}
		if len(missing) > 0 {
			logger.Warn("Allowed tables not found in catalog file", zap.Strings("missing", missing))
		}
		return restricted, allowed, nil
	}

	if db == nil {
		return nil, nil, fmt.Errorf("a database connection or --catalog file is required")
	}
	if len(allowed) == 0 {
		logger.Warn("No --allowed-tables given; every statement will be rejected")
	}
	cat, err := catalog.FromIntrospection(ctx, db, allowed, logger)
	if err != nil {
		return nil, nil, err
	}
	return cat, allowed, nil
}

// buildService assembles the gate and, when db is not nil, the execution
// path. retries overrides the attempt count when positive.
func buildService(ctx context.Context, db *database.DB, retries int, opts pipeline.Options) (*pipeline.Service, error) {
	d, err := classifier.DialectFor(cfg.Database.Dialect)
	if err != nil {
		return nil, err
	}
	cat, allowed, err := loadCatalog(ctx, db)
	if err != nil {
		return nil, err
	}

	opts.Catalog = catalog.NewHolder(cat)
	opts.Gate = policy.NewGate(d, cfg.Limits.Guard(), logger)
	opts.Logger = logger
	opts.Allowed = allowed
	opts.Retry = guardRetry(retries)
	if db != nil {
		opts.Provider = db
		opts.Introspector = db
	}
	return pipeline.NewService(opts)
}

func guardRetry(retries int) guard.RetryOptions {
	opts := guard.DefaultRetryOptions
	if retries > 0 {
		opts.MaxAttempts = retries
	}
	return opts
}

func flagString(cmd *cobra.Command, name string) string {
	f := cmd.Flag(name)
	if f == nil {
		return ""
	}
	return strings.TrimSpace(f.Value.String())
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func bindPersistentFlags(fv *viper.Viper, cmd *cobra.Command) {
	for flag, key := range persistentFlagKeys {
		if err := fv.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(fmt.Sprintf("binding flag %s: %v", flag, err))
		}
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Path to a YAML or JSON configuration file")

	// Database connection flags
	pf.String("dialect", "", fmt.Sprintf("Database dialect (%s)", strings.Join(config.SupportedDialects, ", ")))
	pf.String("host", "", "Database host")
	pf.Int("port", 0, "Database port")
	pf.String("username", "", "Database username")
	pf.String("password", "", "Database password")
	pf.String("database", "", "Database name, or the file path for sqlite")
	pf.String("sslmode", "", "SSL mode for postgres connections")
	pf.String("cloudsql-instance-connection-name", "", "Cloud SQL instance connection name (for Cloud SQL dialects)")
	pf.Bool("cloudsql-use-private-ip", false, "Use private IP for Cloud SQL connection (Cloud SQL)")

	// Policy flags
	pf.String("allowed-tables", "", `Allowed tables and columns, e.g. "orders[id,total],customers". Empty allows nothing`)
	pf.String("catalog", "", "YAML catalog file used instead of introspecting the database")
	pf.Int("max-rows", 0, "Maximum rows returned per statement")
	pf.Int("max-limit-clause", 0, "Largest LIMIT a statement may carry")
	pf.Int("statement-timeout-ms", 0, "Statement timeout in milliseconds")
	pf.Int("checkout-timeout-ms", 0, "Maximum wait for a pooled connection in milliseconds")

	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.String("log-format", "", "Log format (console or json)")

	// Gemini API Key flag
	pf.String("gemini-api-key", "", "Gemini API key (can also be set via GEMINI_API_KEY environment variable)")

	bindPersistentFlags(v, rootCmd)

	// Add subcommands
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(catalogCmd)
}
