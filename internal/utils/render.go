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
package utils

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/policy"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/result"
)

// Output formats accepted by --format.
const (
	FormatTable    = "table"
	FormatJSON     = "json"
	FormatCSV      = "csv"
	FormatMarkdown = "md"
)

// ValidateFormat rejects unknown output formats.
func ValidateFormat(format string) error {
	switch format {
	case FormatTable, FormatJSON, FormatCSV, FormatMarkdown:
		return nil
	default:
		return fmt.Errorf("unsupported output format %q (use table, json, csv or md)", format)
	}
}

// RenderJSON writes v as indented JSON.
func RenderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// RenderResult writes an execution result in the given format. Failures are
// rendered as their kind and message only.
func RenderResult(w io.Writer, res result.ExecutionResult, format string) error {
	if format == FormatJSON {
		return RenderJSON(w, res)
	}
	if res.Failed() {
		_, err := fmt.Fprintf(w, "%s: %s\n", res.Error, res.Message)
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	header := make(table.Row, len(res.Columns))
	for i, col := range res.Columns {
		header[i] = col
	}
	t.AppendHeader(header)
	for _, r := range res.Rows {
		row := make(table.Row, len(r))
		for i, v := range r {
			row[i] = formatValue(v)
		}
		t.AppendRow(row)
	}

	switch format {
	case FormatCSV:
		t.RenderCSV()
		return nil
	case FormatMarkdown:
		t.RenderMarkdown()
	default:
		t.Render()
	}
	_, err := fmt.Fprintf(w, "(%d rows%s, %d ms)\n", res.RowCountReturned, truncatedNote(res), res.ElapsedMs)
	return err
}

// RenderVerdict writes the gate decision for a statement.
func RenderVerdict(w io.Writer, v policy.Verdict, format string) error {
	if format == FormatJSON {
		return RenderJSON(w, v)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendRow(table.Row{"decision", v.Decision})
	t.AppendRow(table.Row{"kind", v.Descriptor.Kind})
	if v.Allowed() {
		t.AppendRow(table.Row{"sanitized_sql", v.SanitizedSQL})
		t.AppendRow(table.Row{"effective_limit", v.EffectiveLimit})
		t.AppendRow(table.Row{"limit_applied", v.LimitApplied})
	} else {
		t.AppendRow(table.Row{"reason", v.Reason})
		t.AppendRow(table.Row{"message", v.Message})
	}

	switch format {
	case FormatCSV:
		t.RenderCSV()
	case FormatMarkdown:
		t.RenderMarkdown()
	default:
		t.Render()
	}
	return nil
}

func truncatedNote(res result.ExecutionResult) string {
	if res.Truncated {
		return ", truncated"
	}
	return ""
}

func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", v)
}
