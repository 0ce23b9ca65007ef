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
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/pipeline"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/utils"
)

// queryCmd represents the query command
var queryCmd = &cobra.Command{
	Use:   "query [sql]",
	Short: "Check a SQL statement against the policy gate and run it",
	Long: `Classifies the statement, checks it against the allowed tables and columns,
applies the row limit and runs it in a read-only session. Statements that fail
the gate never reach the database.`,
	Example: `./nl2sql_guard query --dialect postgres --host localhost --port 5432 --username user --password pass --database shop --allowed-tables "orders[id,total]" "SELECT id, total FROM orders WHERE total > $1" --param 100`,
	Args:    cobra.MaximumNArgs(1),
	RunE:    runQuery,
}

// statementFromArgs returns the statement given as argument or through --file.
func statementFromArgs(cmd *cobra.Command, args []string) (string, error) {
	file := flagString(cmd, "file")
	switch {
	case file != "" && len(args) > 0:
		return "", fmt.Errorf("give the statement either as an argument or with --file, not both")
	case file != "":
		return utils.ReadSQLFile(file)
	case len(args) == 1 && strings.TrimSpace(args[0]) != "":
		return args[0], nil
	default:
		return "", fmt.Errorf("a SQL statement is required")
	}
}

func runQuery(cmd *cobra.Command, args []string) error {
	format := flagString(cmd, "format")
	if err := utils.ValidateFormat(format); err != nil {
		return err
	}
	sql, err := statementFromArgs(cmd, args)
	if err != nil {
		return err
	}
	params, err := cmd.Flags().GetStringArray("param")
	if err != nil {
		return err
	}
	retries, err := cmd.Flags().GetInt("retries")
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	db, err := setupDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	svc, err := buildService(ctx, db, retries, pipeline.Options{})
	if err != nil {
		return err
	}

	queryArgs := make([]any, len(params))
	for i, p := range params {
		queryArgs[i] = p
	}
	resp := svc.Run(ctx, pipeline.Request{SQL: sql, Args: queryArgs})
	logger.Info("Query finished", zap.String("request_id", resp.RequestID), zap.String("decision", string(resp.Verdict.Decision)))
	return writeResponse(cmd, resp, format)
}

// writeResponse prints the verdict of a rejected statement or the result of
// an executed one, and returns the request failure.
func writeResponse(cmd *cobra.Command, resp pipeline.Response, format string) error {
	out := cmd.OutOrStdout()
	switch {
	case format == utils.FormatJSON:
		if err := utils.RenderJSON(out, resp); err != nil {
			return err
		}
	case resp.Result == nil:
		if err := utils.RenderVerdict(out, resp.Verdict, format); err != nil {
			return err
		}
	default:
		if err := utils.RenderResult(out, *resp.Result, format); err != nil {
			return err
		}
	}
	return resp.Err()
}

func init() {
	queryCmd.Flags().String("file", "", "Read the statement from a file")
	queryCmd.Flags().StringArray("param", nil, "Positional parameter value, repeatable")
	queryCmd.Flags().String("format", utils.FormatTable, "Output format (table, json, csv or md)")
	queryCmd.Flags().Int("retries", 0, "Attempts for timed out statements (default 3)")
}
