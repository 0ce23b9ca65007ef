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
	"errors"
	"fmt"
	"strconv"

	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/classifier"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/guard"
)

var errNonLiteralLimit = errors.New("row limit must be an integer literal")

type limitPlan struct {
	edits     []edit
	effective int
	applied   bool
}

// planLimit bounds the outermost row count: a missing limit is added, an
// oversized literal is clamped and LIMIT ALL is replaced.
func planLimit(d classifier.Descriptor, limits guard.Limits) (limitPlan, error) {
	li := d.Limit
	injected := min(limits.InjectedLimit(), limits.MaxLimitClause)
	rel := func(off int) int { return off - d.Start }

	if li.Style == classifier.LimitNone {
		n := strconv.Itoa(injected)
		plan := limitPlan{effective: injected, applied: true}
		if d.Dialect.UsesTop() {
			plan.edits = []edit{sqlServerLimit(d, n)}
			return plan, nil
		}
		if li.OffsetStart >= 0 {
			at := rel(li.OffsetStart)
			plan.edits = []edit{{start: at, end: at, text: "LIMIT " + n + " "}}
			return plan, nil
		}
		end := d.End - d.Start
		plan.edits = []edit{{start: end, end: end, text: " LIMIT " + n}}
		return plan, nil
	}

	if li.All {
		if d.Dialect.UsesTop() {
			return limitPlan{}, errNonLiteralLimit
		}
		return limitPlan{
			edits:     []edit{{start: rel(li.ValueStart), end: rel(li.ValueEnd), text: strconv.Itoa(injected)}},
			effective: injected,
			applied:   true,
		}, nil
	}
	if !li.Literal {
		return limitPlan{}, errNonLiteralLimit
	}
	if li.Value <= int64(limits.MaxLimitClause) {
		return limitPlan{effective: int(li.Value)}, nil
	}

	clamped := strconv.Itoa(limits.MaxLimitClause)
	if li.ValueStart < 0 {
		return limitPlan{}, fmt.Errorf("cannot clamp row limit %d", li.Value)
	}
	return limitPlan{
		edits:     []edit{{start: rel(li.ValueStart), end: rel(li.ValueEnd), text: clamped}},
		effective: limits.MaxLimitClause,
		applied:   true,
	}, nil
}

// sqlServerLimit adds a row limit to a statement that has none. TOP is only
// valid on a single SELECT; OFFSET/FETCH needs an ORDER BY.
func sqlServerLimit(d classifier.Descriptor, n string) edit {
	li := d.Limit
	rel := func(off int) int { return off - d.Start }
	if li.OffsetStart >= 0 {
		at := rel(li.OffsetEnd)
		return edit{start: at, end: at, text: " FETCH NEXT " + n + " ROWS ONLY"}
	}
	if !li.SetOp && li.TopInsert >= 0 {
		at := rel(li.TopInsert)
		return edit{start: at, end: at, text: " TOP (" + n + ")"}
	}
	end := d.End - d.Start
	fetch := " OFFSET 0 ROWS FETCH NEXT " + n + " ROWS ONLY"
	if !li.HasOrderBy {
		fetch = " ORDER BY (SELECT NULL)" + fetch
	}
	return edit{start: end, end: end, text: fetch}
}
