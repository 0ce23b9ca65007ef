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
package guard

import (
	"fmt"
	"time"
)

const (
	DefaultMaxRows          = 500
	DefaultMaxLimitClause   = 1000
	DefaultStatementTimeout = 5000 * time.Millisecond
	DefaultCheckoutTimeout  = 2000 * time.Millisecond
)

// Limits bounds what an approved statement may do at execution time.
type Limits struct {
	MaxRows          int
	MaxLimitClause   int
	StatementTimeout time.Duration
	CheckoutTimeout  time.Duration
}

// DefaultLimits returns the documented defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxRows:          DefaultMaxRows,
		MaxLimitClause:   DefaultMaxLimitClause,
		StatementTimeout: DefaultStatementTimeout,
		CheckoutTimeout:  DefaultCheckoutTimeout,
	}
}

// Validate rejects limits that would disable a bound.
func (l Limits) Validate() error {
	if l.MaxRows <= 0 {
		return fmt.Errorf("max rows must be positive, got %d", l.MaxRows)
	}
	if l.MaxLimitClause <= 0 {
		return fmt.Errorf("max limit clause must be positive, got %d", l.MaxLimitClause)
	}
	if l.StatementTimeout <= 0 {
		return fmt.Errorf("statement timeout must be positive, got %s", l.StatementTimeout)
	}
	if l.CheckoutTimeout <= 0 {
		return fmt.Errorf("checkout timeout must be positive, got %s", l.CheckoutTimeout)
	}
	return nil
}

// InjectedLimit is the LIMIT value added to a statement that has none.
func (l Limits) InjectedLimit() int {
	return l.MaxRows
}
