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
package policy

import (
	"strings"

	"github.com/xwb1989/sqlparser"
)

// Functions with side effects, unbounded waits or file and network access.
// This list is a secondary check: a SELECT that calls something not listed
// here still only runs inside a read-only, rolled-back transaction.
var deniedFunctions = map[string]bool{
	"pg_sleep":             true,
	"pg_sleep_for":         true,
	"pg_sleep_until":       true,
	"nextval":              true,
	"setval":               true,
	"set_config":           true,
	"pg_read_file":         true,
	"pg_read_binary_file":  true,
	"pg_ls_dir":            true,
	"pg_stat_file":         true,
	"pg_terminate_backend": true,
	"pg_cancel_backend":    true,
	"pg_reload_conf":       true,
	"pg_rotate_logfile":    true,
	"query_to_xml":         true,
	"txid_current":         true,
	"sleep":                true,
	"benchmark":            true,
	"load_file":            true,
	"get_lock":             true,
	"release_lock":         true,
	"sys_exec":             true,
	"sys_eval":             true,
	"openrowset":           true,
	"opendatasource":       true,
	"openquery":            true,
	"load_extension":       true,
	"writefile":            true,
	"readfile":             true,
}

var deniedFunctionPrefixes = []string{"dblink", "lo_", "xp_", "sp_"}

// Advisory locks taken at session level outlive the rollback and stay on the
// pooled connection, whatever the exact function name.
var deniedFunctionFragments = []string{"advisory"}

// deniedFunction returns the first called function on the deny list.
func deniedFunction(names []string) (string, bool) {
	for _, name := range names {
		n := strings.ToLower(name)
		if deniedFunctions[n] {
			return name, true
		}
		for _, p := range deniedFunctionPrefixes {
			if strings.HasPrefix(n, p) {
				return name, true
			}
		}
		for _, f := range deniedFunctionFragments {
			if strings.Contains(n, f) {
				return name, true
			}
		}
	}
	return "", false
}

// secondaryMySQLCheck parses text with an independent MySQL grammar. A parse
// failure is not a rejection; a successful parse into anything other than a
// plain read is.
func secondaryMySQLCheck(text string) (string, bool) {
	stmt, err := sqlparser.Parse(text)
	if err != nil {
		return "", false
	}
	switch s := stmt.(type) {
	case *sqlparser.Select:
		if s.Lock != "" {
			return "locking reads are not allowed", true
		}
		return "", false
	case *sqlparser.Union:
		if s.Lock != "" {
			return "locking reads are not allowed", true
		}
		return "", false
	case *sqlparser.ParenSelect:
		return "", false
	}
	return "statement is not a read", true
}
