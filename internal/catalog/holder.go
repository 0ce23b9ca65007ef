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
package catalog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Holder publishes the current catalog snapshot to concurrent readers.
// Snapshots are replaced wholesale, never mutated.
type Holder struct {
	current   atomic.Pointer[Catalog]
	refreshMu sync.Mutex
}

// NewHolder returns a holder publishing c. A nil c publishes an empty catalog.
func NewHolder(c *Catalog) *Holder {
	h := &Holder{}
	if c == nil {
		c = Empty()
	}
	h.current.Store(c)
	return h
}

// Load returns the current snapshot.
func (h *Holder) Load() *Catalog {
	return h.current.Load()
}

// Swap publishes c and returns the previous snapshot.
func (h *Holder) Swap(c *Catalog) *Catalog {
	if c == nil {
		c = Empty()
	}
	return h.current.Swap(c)
}

// Refresh builds a new snapshot and publishes it if build succeeds.
// Concurrent refreshes are serialized; readers are never blocked.
func (h *Holder) Refresh(ctx context.Context, build func(context.Context) (*Catalog, error)) error {
	h.refreshMu.Lock()
	defer h.refreshMu.Unlock()

	next, err := build(ctx)
	if err != nil {
		return fmt.Errorf("rebuilding catalog: %w", err)
	}
	h.Swap(next)
	return nil
}
