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
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReadSQLFile returns the file content as one candidate statement. It is not
// split on semicolons; a file holding several statements is rejected by the
// gate as a whole.
func ReadSQLFile(filePath string) (string, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	sql := strings.TrimSpace(string(content))
	if sql == "" {
		return "", fmt.Errorf("file %s is empty", filePath)
	}
	return sql, nil
}

// ReadContextFiles reads the content of the specified context files and combines them into a single string.
func ReadContextFiles(filePaths string) (string, error) {
	if filePaths == "" {
		return "", nil
	}

	paths := strings.Split(filePaths, ",")
	var combinedContext strings.Builder
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read context file '%s': %w", path, err)
		}
		combinedContext.WriteString("\n-- Context from file: " + path + " --\n")
		combinedContext.Write(content)
	}
	return combinedContext.String(), nil
}

// DefaultCatalogPath names the catalog file written by "catalog dump".
func DefaultCatalogPath(dbName string) string {
	if dbName == "" {
		dbName = "database"
	}
	return fmt.Sprintf("%s_catalog.yaml", dbName)
}

// ConfirmAction shows sql and asks whether to run it. Only "y" or "yes"
// confirms.
func ConfirmAction(in io.Reader, out io.Writer, sql string) bool {
	reader := bufio.NewReader(in)
	fmt.Fprintf(out, "\n-------------------------------------------------------------\n")
	fmt.Fprintf(out, "Generated query:\n%s\n", sql)
	fmt.Fprint(out, "Do you want to run this query? (yes/no): ")
	text, _ := reader.ReadString('\n')
	action := strings.TrimSpace(strings.ToLower(text))
	return action == "yes" || action == "y"
}

// ParseTablesFlag parses the allow-list syntax "orders[id,total],customers".
// A table without brackets allows all of its columns.
func ParseTablesFlag(tablesFlag string) (map[string][]string, error) {
	tableColumns := make(map[string][]string)
	tablesFlag = strings.ReplaceAll(tablesFlag, " ", "")
	if tablesFlag == "" {
		return tableColumns, nil
	}

	for _, part := range SplitOutsideBrackets(tablesFlag) {
		if part == "" {
			return nil, fmt.Errorf("empty table entry in %q", tablesFlag)
		}

		tableName := part
		var columns []string
		if bracketStart := strings.Index(part, "["); bracketStart != -1 {
			if !strings.HasSuffix(part, "]") {
				return nil, fmt.Errorf("missing closing bracket in: %s", part)
			}
			tableName = part[:bracketStart]
			for _, col := range strings.Split(part[bracketStart+1:len(part)-1], ",") {
				if col == "" {
					return nil, fmt.Errorf("empty column name in: %s", part)
				}
				columns = append(columns, col)
			}
		} else if strings.Contains(part, "]") {
			return nil, fmt.Errorf("unexpected closing bracket in: %s", part)
		}

		if tableName == "" {
			return nil, fmt.Errorf("missing table name in: %s", part)
		}
		if _, dup := tableColumns[tableName]; dup {
			return nil, fmt.Errorf("table %s is listed twice", tableName)
		}
		tableColumns[tableName] = columns
	}

	return tableColumns, nil
}

// SplitOutsideBrackets Helper function to split string by commas that are not within brackets
func SplitOutsideBrackets(s string) []string {
	var result []string
	var current strings.Builder
	inBrackets := false

	for _, char := range s {
		switch char {
		case '[':
			inBrackets = true
			current.WriteRune(char)
		case ']':
			inBrackets = false
			current.WriteRune(char)
		case ',':
			if inBrackets {
				current.WriteRune(char)
			} else {
				result = append(result, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(char)
		}
	}

	// Add the last part
	if current.Len() > 0 {
		result = append(result, current.String())
	}

	return result
}
