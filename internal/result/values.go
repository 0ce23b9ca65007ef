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
package result

import (
	"database/sql/driver"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	maxInt64 = decimal.NewFromInt(math.MaxInt64)
	minInt64 = decimal.NewFromInt(math.MinInt64)
)

// Convert maps a scanned driver value onto the portable set. dbType is the
// column's database type name as reported by the driver, possibly empty.
// Decimals become int64 when integral and in range, float64 when the float
// reads back as the same decimal, and their decimal string otherwise.
func Convert(v any, dbType string) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return fromText(x, dbType)
	case []byte:
		return fromText(string(x), dbType)
	case bool, int64, float64:
		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return strconv.FormatUint(x, 10)
		}
		return int64(x)
	case float32:
		return float64(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case decimal.Decimal:
		return fromDecimal(x)
	case [16]byte:
		return uuid.UUID(x).String()
	case driver.Valuer:
		inner, err := x.Value()
		if err != nil {
			return fmt.Sprint(x)
		}
		if _, again := inner.(driver.Valuer); again {
			return fmt.Sprint(inner)
		}
		return Convert(inner, dbType)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// fromText converts textual driver output. Drivers using a text protocol
// return numbers as bytes; only the column type tells them apart from strings.
func fromText(s, dbType string) any {
	switch typeClass(dbType) {
	case classDecimal:
		if d, err := decimal.NewFromString(s); err == nil {
			return fromDecimal(d)
		}
	case classInteger:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	case classFloat:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case classBool:
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return s
}

func fromDecimal(d decimal.Decimal) any {
	if d.IsInteger() && d.Cmp(maxInt64) <= 0 && d.Cmp(minInt64) >= 0 {
		return d.IntPart()
	}
	f := d.InexactFloat64()
	if decimal.NewFromFloat(f).Equal(d) {
		return f
	}
	return d.String()
}

type valueClass int

const (
	classText valueClass = iota
	classDecimal
	classInteger
	classFloat
	classBool
)

func typeClass(dbType string) valueClass {
	t := strings.ToUpper(strings.TrimSpace(dbType))
	t = strings.TrimPrefix(t, "UNSIGNED ")
	switch t {
	case "NUMERIC", "DECIMAL", "NEWDECIMAL":
		return classDecimal
	case "INT", "INTEGER", "INT2", "INT4", "INT8", "TINYINT", "SMALLINT", "MEDIUMINT", "BIGINT", "YEAR":
		return classInteger
	case "FLOAT", "FLOAT4", "FLOAT8", "DOUBLE", "REAL":
		return classFloat
	case "BOOL", "BOOLEAN":
		return classBool
	}
	return classText
}
