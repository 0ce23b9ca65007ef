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
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure categories surfaced to callers.
type ErrorKind string

const (
	KindNone               ErrorKind = ""
	InvalidSyntax          ErrorKind = "INVALID_SYNTAX"
	ForbiddenStatementKind ErrorKind = "FORBIDDEN_STATEMENT_KIND"
	TableNotAllowed        ErrorKind = "TABLE_NOT_ALLOWED"
	ColumnNotAllowed       ErrorKind = "COLUMN_NOT_ALLOWED"
	FunctionNotAllowed     ErrorKind = "FUNCTION_NOT_ALLOWED"
	PreconditionFailed     ErrorKind = "PRECONDITION_FAILED"
	Timeout                ErrorKind = "TIMEOUT"
	ExecutionFailed        ErrorKind = "EXECUTION_FAILED"
	ResourceExhausted      ErrorKind = "RESOURCE_EXHAUSTED"
	Cancelled              ErrorKind = "CANCELLED"
)

func (k ErrorKind) String() string {
	if k == KindNone {
		return "NONE"
	}
	return string(k)
}

// Retryable reports whether a later attempt of the same request may succeed.
// Gate rejections are deterministic and never retryable.
func (k ErrorKind) Retryable() bool {
	switch k {
	case Timeout, ResourceExhausted:
		return true
	default:
		return false
	}
}

// Error is a categorized failure. Reason is safe to show to end users; Err
// may carry driver detail and is only meant for logs.
type Error struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

// New returns an *Error of the given kind.
func New(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap returns an *Error of the given kind carrying cause for diagnostics.
func Wrap(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...), Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same kind, so errors.Is(err, &Error{Kind: Timeout}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Reason == "" && t.Err == nil
}

// KindOf extracts the ErrorKind from err, or KindNone if err is not categorized.
func KindOf(err error) ErrorKind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindNone
}
