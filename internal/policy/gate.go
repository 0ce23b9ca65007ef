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
	"go.uber.org/zap"

	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/catalog"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/classifier"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/guard"
)

// Gate classifies and evaluates candidate SQL for one dialect and writes an
// audit line per decision.
type Gate struct {
	dialect classifier.Dialect
	limits  guard.Limits
	logger  *zap.Logger
}

func NewGate(d classifier.Dialect, limits guard.Limits, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{dialect: d, limits: limits, logger: logger}
}

// Check runs the classifier and the policy against a catalog snapshot.
func (g *Gate) Check(requestID, sql string, cat *catalog.Catalog) Verdict {
	d := classifier.Classify(sql, cat, g.dialect)
	v := Evaluate(d, cat, g.limits)

	fields := []zap.Field{
		zap.String("request_id", requestID),
		zap.String("decision", string(v.Decision)),
		zap.Stringer("kind", d.Kind),
	}
	if v.Allowed() {
		g.logger.Info("statement allowed", append(fields,
			zap.Int("effective_limit", v.EffectiveLimit),
			zap.Bool("limit_applied", v.LimitApplied))...)
		g.logger.Debug("sanitized statement", zap.String("request_id", requestID), zap.String("sql", v.SanitizedSQL))
		return v
	}
	g.logger.Warn("statement rejected", append(fields,
		zap.String("reason", v.Reason.String()),
		zap.String("message", v.Message))...)
	return v
}

// Limits returns the limits the gate evaluates against.
func (g *Gate) Limits() guard.Limits {
	return g.limits
}

// Dialect returns the dialect the gate classifies in.
func (g *Gate) Dialect() classifier.Dialect {
	return g.dialect
}
