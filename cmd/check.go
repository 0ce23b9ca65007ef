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
	"github.com/spf13/cobra"

	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/database"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/pipeline"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/utils"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check [sql]",
	Short: "Classify a SQL statement and print the gate verdict without running it",
	Long: `Runs the statement through the classifier and the policy gate and prints the
verdict, including the sanitized statement that would be executed. With
--catalog no database connection is made.`,
	Example: `./nl2sql_guard check --dialect mysql --catalog ./shop_catalog.yaml "SELECT * FROM orders"`,
	Args:    cobra.MaximumNArgs(1),
	RunE:    runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	format := flagString(cmd, "format")
	if err := utils.ValidateFormat(format); err != nil {
		return err
	}
	sql, err := statementFromArgs(cmd, args)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	var db *database.DB
	if cfg.CatalogFile == "" {
		db, err = setupDatabase(ctx)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	svc, err := buildService(ctx, db, 0, pipeline.Options{})
	if err != nil {
		return err
	}
	verdict := svc.Check("", sql)
	if err := utils.RenderVerdict(cmd.OutOrStdout(), verdict, format); err != nil {
		return err
	}
	return verdict.Err()
}

func init() {
	checkCmd.Flags().String("file", "", "Read the statement from a file")
	checkCmd.Flags().String("format", utils.FormatTable, "Output format (table, json, csv or md)")
}
