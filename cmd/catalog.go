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
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/catalog"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/database"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/utils"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect or export the schema catalog",
}

// catalogDumpCmd represents the catalog dump command
var catalogDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Introspect the database and write the catalog as YAML",
	Long: `Lists every table of the default schema and writes it to a YAML catalog.
Tables and columns named by --allowed-tables are marked as allowed. The file
can be reviewed, edited and passed back with --catalog.`,
	Example: `./nl2sql_guard catalog dump --dialect sqlserver --host localhost --port 1433 --username sa --password pass --database shop --allowed-tables "orders,customers[id,name]" --out ./shop_catalog.yaml`,
	Args:    cobra.NoArgs,
	RunE:    runCatalogDump,
}

var catalogShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the allowed tables and columns as the model sees them",
	Args:  cobra.NoArgs,
	RunE:  runCatalogShow,
}

func runCatalogDump(cmd *cobra.Command, args []string) error {
	outputFile := flagString(cmd, "out")
	if outputFile == "" {
		outputFile = utils.DefaultCatalogPath(cfg.Database.DBName)
	}

	ctx := cmd.Context()
	db, err := setupDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	allowed, err := utils.ParseTablesFlag(cfg.AllowedTables)
	if err != nil {
		return fmt.Errorf("invalid --allowed-tables: %w", err)
	}
	cat, err := catalog.FromIntrospection(ctx, db, allowed, logger)
	if err != nil {
		return err
	}
	if err := catalog.WriteFile(outputFile, cat); err != nil {
		return err
	}
	logger.Info("Catalog written", zap.String("file", outputFile), zap.Int("tables", cat.Len()))
	fmt.Fprintf(cmd.OutOrStdout(), "Catalog with %d tables written to %s\n", cat.Len(), outputFile)
	return nil
}

func runCatalogShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	var db *database.DB
	if cfg.CatalogFile == "" {
		var err error
		db, err = setupDatabase(ctx)
		if err != nil {
			return err
		}
		defer db.Close()
	}
	cat, _, err := loadCatalog(ctx, db)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), cat.FormatContext())
	return err
}

func init() {
	catalogDumpCmd.Flags().String("out", "", "Output YAML file (default <database>_catalog.yaml)")

	catalogCmd.AddCommand(catalogDumpCmd)
	catalogCmd.AddCommand(catalogShowCmd)
}
