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
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/genai"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/logging"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/pipeline"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/utils"
)

// askCmd represents the ask command
var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question with SQL written by Gemini and checked by the policy gate",
	Long: `Describes the allowed tables to Gemini, asks it for a query answering the
question and runs the query only if it passes the policy gate. The query is
shown for confirmation first unless --yes is given.`,
	Example: `./nl2sql_guard ask --dialect cloudsqlpostgres --username user --password pass --database shop --cloudsql-instance-connection-name my-project:my-region:my-instance --allowed-tables "orders[id,total,created_at],customers" --context ./glossary.md "What were the ten largest orders last week?"`,
	Args:    cobra.ExactArgs(1),
	RunE:    runAsk,
}

func runAsk(cmd *cobra.Command, args []string) error {
	format := flagString(cmd, "format")
	if err := utils.ValidateFormat(format); err != nil {
		return err
	}
	if cfg.GeminiAPIKey == "" {
		return fmt.Errorf("a Gemini API key is required (--gemini-api-key or GEMINI_API_KEY)")
	}
	extraContext, err := utils.ReadContextFiles(flagString(cmd, "context"))
	if err != nil {
		return err
	}
	skipConfirm, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return err
	}
	retries, err := cmd.Flags().GetInt("retries")
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	llm, err := genai.NewClient(ctx, genai.Config{APIKey: cfg.GeminiAPIKey, Model: cfg.Model, Logger: logger})
	if err != nil {
		return err
	}
	defer llm.Close()
	if err := llm.IsAPIKeyValid(ctx); err != nil {
		return err
	}

	db, err := setupDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	svc, err := buildService(ctx, db, retries, pipeline.Options{LLM: llm})
	if err != nil {
		return err
	}

	question := args[0]
	requestID := logging.NewRequestID()
	sql, err := svc.Generate(ctx, requestID, question, extraContext)
	if err != nil {
		return err
	}

	verdict := svc.Check(requestID, sql)
	if !verdict.Allowed() {
		resp := pipeline.Response{RequestID: requestID, Question: question, CandidateSQL: sql, Verdict: verdict}
		return writeResponse(cmd, resp, format)
	}
	if !skipConfirm && !utils.ConfirmAction(os.Stdin, cmd.ErrOrStderr(), verdict.SanitizedSQL) {
		logger.Info("Query not executed", zap.String("request_id", requestID))
		fmt.Fprintln(cmd.ErrOrStderr(), "Query not executed.")
		return nil
	}

	resp := svc.Run(ctx, pipeline.Request{RequestID: requestID, Question: question, SQL: sql})
	return writeResponse(cmd, resp, format)
}

func init() {
	askCmd.Flags().String("context", "", "Comma-separated files with extra context for the model")
	askCmd.Flags().String("model", "", "Gemini model to use")
	askCmd.Flags().Bool("yes", false, "Run the generated query without asking for confirmation")
	askCmd.Flags().String("format", utils.FormatTable, "Output format (table, json, csv or md)")
	askCmd.Flags().Int("retries", 0, "Attempts for timed out statements (default 3)")

	if err := v.BindPFlag("model", askCmd.Flags().Lookup("model")); err != nil {
		panic(err)
	}
}
