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
package classifier

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// leadingKinds maps the first keyword of a statement to its kind. Keywords
// missing here classify as Unknown.
var leadingKinds = map[string]Kind{
	"SELECT": Select,

	"INSERT": Write, "UPDATE": Write, "DELETE": Write, "MERGE": Write,
	"REPLACE": Write, "UPSERT": Write, "COPY": Write, "CALL": Write,
	"EXEC": Write, "EXECUTE": Write, "DO": Write, "LOAD": Write,
	"HANDLER": Write, "PREPARE": Write, "DEALLOCATE": Write,

	"CREATE": DDL, "DROP": DDL, "ALTER": DDL, "TRUNCATE": DDL,
	"RENAME": DDL, "COMMENT": DDL, "GRANT": DDL, "REVOKE": DDL,
	"VACUUM": DDL, "ANALYZE": DDL, "REINDEX": DDL, "CLUSTER": DDL,
	"REFRESH": DDL, "SECURITY": DDL, "IMPORT": DDL, "ATTACH": DDL,
	"DETACH": DDL, "OPTIMIZE": DDL, "REPAIR": DDL, "DENY": DDL,
}

// reserved words are never column references in operand position.
var reserved = set(
	"ALL", "AND", "ANY", "ARRAY", "AS", "ASC", "BETWEEN", "BOTH", "CASE", "CAST",
	"CHECK", "COLLATE", "COLUMN", "CONSTRAINT", "CREATE", "CROSS",
	"CURRENT_CATALOG", "CURRENT_DATE", "CURRENT_ROLE", "CURRENT_SCHEMA",
	"CURRENT_TIME", "CURRENT_TIMESTAMP", "CURRENT_USER", "DEFAULT", "DELETE",
	"DESC", "DISTINCT", "DO", "DROP", "ELSE", "END", "EXCEPT", "EXISTS", "FALSE",
	"FETCH", "FOR", "FOREIGN", "FROM", "FULL", "GRANT", "GROUP", "HAVING", "ILIKE",
	"IN", "INNER", "INSERT", "INTERSECT", "INTO", "IS", "JOIN", "LATERAL",
	"LEADING", "LEFT", "LIKE", "LIMIT", "LOCALTIME", "LOCALTIMESTAMP", "NATURAL",
	"NOT", "NULL", "OFFSET", "ON", "ONLY", "OR", "ORDER", "OUTER", "PLACING",
	"PRIMARY", "REFERENCES", "RIGHT", "SELECT", "SESSION_USER", "SOME",
	"SYSTEM_USER", "TABLE", "THEN", "TO", "TRAILING", "TRUE", "UNION", "UNIQUE",
	"UPDATE", "USING", "VALUES", "WHEN", "WHERE", "WINDOW", "WITH",
)

// valueKeywords evaluate to a value without naming a column.
var valueKeywords = set(
	"NULL", "TRUE", "FALSE", "DEFAULT",
	"CURRENT_DATE", "CURRENT_TIME", "CURRENT_TIMESTAMP", "LOCALTIME",
	"LOCALTIMESTAMP", "CURRENT_USER", "SESSION_USER", "SYSTEM_USER",
	"CURRENT_ROLE", "CURRENT_CATALOG", "CURRENT_SCHEMA",
)

// functionKeywords are reserved words that are also function names when
// followed by an opening parenthesis.
var functionKeywords = set(
	"LEFT", "RIGHT", "ANY", "SOME", "ALL", "ARRAY", "CAST", "EXISTS",
	"CURRENT_DATE", "CURRENT_TIME", "CURRENT_TIMESTAMP", "LOCALTIME",
	"LOCALTIMESTAMP", "CURRENT_USER", "CURRENT_SCHEMA", "REPLACE", "VALUES",
)

// clauseKeywords end a select list item, a table reference or an expression.
var clauseKeywords = set(
	"FROM", "INTO", "WHERE", "GROUP", "HAVING", "ORDER", "LIMIT", "OFFSET",
	"FETCH", "UNION", "INTERSECT", "EXCEPT", "WINDOW", "FOR", "LOCK", "ON",
	"USING", "JOIN", "INNER", "LEFT", "RIGHT", "FULL", "CROSS", "NATURAL",
	"OUTER", "STRAIGHT_JOIN", "OPTION", "WITH", "QUALIFY", "RETURNING",
	"WHEN", "THEN", "ELSE", "END", "AS", "ASC", "DESC", "NULLS", "PARTITION",
	"ROWS", "RANGE", "GROUPS", "PRECEDING", "FOLLOWING", "EXCLUDE",
	"SEPARATOR", "PLACING", "USE", "FORCE", "IGNORE", "TABLESAMPLE", "APPLY",
)

// mysqlSelectModifiers may follow SELECT in MySQL.
var mysqlSelectModifiers = set(
	"DISTINCTROW", "HIGH_PRIORITY", "STRAIGHT_JOIN", "SQL_SMALL_RESULT",
	"SQL_BIG_RESULT", "SQL_BUFFER_RESULT", "SQL_NO_CACHE", "SQL_CACHE",
	"SQL_CALC_FOUND_ROWS",
)

// dateUnits are accepted where a date part is expected.
var dateUnits = set(
	"YEAR", "YEARS", "QUARTER", "MONTH", "MONTHS", "WEEK", "WEEKS", "DAY", "DAYS",
	"HOUR", "HOURS", "MINUTE", "MINUTES", "SECOND", "SECONDS", "MILLISECOND",
	"MILLISECONDS", "MICROSECOND", "MICROSECONDS", "NANOSECOND", "EPOCH",
	"DOW", "DOY", "ISODOW", "ISOYEAR", "DECADE", "CENTURY", "MILLENNIUM",
	"TIMEZONE", "TIMEZONE_HOUR", "TIMEZONE_MINUTE", "JULIAN",
	"YEAR_MONTH", "DAY_HOUR", "DAY_MINUTE", "DAY_SECOND", "DAY_MICROSECOND",
	"HOUR_MINUTE", "HOUR_SECOND", "HOUR_MICROSECOND", "MINUTE_SECOND",
	"MINUTE_MICROSECOND", "SECOND_MICROSECOND",
	"YY", "YYYY", "QQ", "Q", "MM", "M", "DY", "Y", "DD", "D", "WK", "WW", "DW",
	"W", "HH", "MI", "N", "SS", "S", "MS", "MCS", "NS", "DAYOFYEAR", "WEEKDAY",
	"ISO_WEEK", "ISOWK", "ISOWW", "TZOFFSET", "TZ",
)

// typeTail words continue a multi-word type name.
var typeTail = set("PRECISION", "VARYING", "WITH", "WITHOUT", "TIME", "ZONE", "UNSIGNED", "SIGNED")

// typedLiteralPrefixes form a literal when followed by a string.
var typedLiteralPrefixes = set("DATE", "TIME", "TIMESTAMP", "TIMESTAMPTZ", "TIMETZ", "INTERVAL")

// sqlserverDatePartFuncs and mysqlUnitFuncs take a bare date part first.
var sqlserverDatePartFuncs = set("DATEADD", "DATEDIFF", "DATEDIFF_BIG", "DATEPART", "DATENAME", "DATETRUNC", "DATE_BUCKET")

var mysqlUnitFuncs = set("TIMESTAMPDIFF", "TIMESTAMPADD")

// binaryKeywords continue an expression after an operand.
var binaryKeywords = set(
	"AND", "OR", "IN", "LIKE", "ILIKE", "BETWEEN", "ESCAPE", "REGEXP", "RLIKE",
	"GLOB", "MATCH", "DIV", "MOD", "XOR", "SIMILAR",
)

var allKeywordSets = []map[string]bool{
	reserved, valueKeywords, functionKeywords, clauseKeywords, mysqlSelectModifiers,
	dateUnits, typeTail, typedLiteralPrefixes, binaryKeywords,
}

func isKeyword(w string) bool {
	if _, ok := leadingKinds[w]; ok {
		return true
	}
	for _, s := range allKeywordSets {
		if s[w] {
			return true
		}
	}
	return false
}
