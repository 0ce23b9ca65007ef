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
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// Introspector lists the tables and columns of a live database.
type Introspector interface {
	DefaultSchema() string
	ListTables(ctx context.Context) ([]string, error)
	ListColumns(ctx context.Context, tableName string) ([]Column, error)
}

// IntrospectionConcurrency bounds concurrent column listings.
const IntrospectionConcurrency = 4

// FromIntrospection builds a catalog from a live database. Columns are only
// listed for tables named in allowed; every other table is recorded without
// columns and is never allowed.
func FromIntrospection(ctx context.Context, src Introspector, allowed map[string][]string, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	names, err := src.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	schema := src.DefaultSchema()

	tables := make([]Table, len(names))
	for i, name := range names {
		tables[i] = Table{Schema: schema, Name: name}
	}
	// Restrict on the column-less catalog tells us which tables need columns.
	skeleton, err := New(tables)
	if err != nil {
		return nil, err
	}
	probe, _, err := skeleton.Restrict(allowed)
	if err != nil {
		return nil, err
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(IntrospectionConcurrency)
	for i := range tables {
		s, n := Ident{Name: tables[i].Schema, Quoted: true}, Ident{Name: tables[i].Name, Quoted: true}
		t, ok := probe.Lookup(&s, n)
		if !ok || !t.Allowed {
			continue
		}
		i := i
		g.Go(func() error {
			cols, err := src.ListColumns(ctx, tables[i].Name)
			if err != nil {
				return fmt.Errorf("listing columns of %s: %w", tables[i].Name, err)
			}
			mu.Lock()
			tables[i].Columns = cols
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	full, err := New(tables)
	if err != nil {
		return nil, err
	}
	restricted, missing, err := full.Restrict(allowed)
	if err != nil {
		return nil, err
	}
	for _, m := range missing {
		logger.Warn("allow-listed table not found in database", zap.String("table", m))
	}
	logger.Info("catalog introspected",
		zap.Int("tables", restricted.Len()),
		zap.Int("allowed_entries", len(allowed)))
	return restricted, nil
}

type catalogFile struct {
	Tables []Table `yaml:"tables"`
}

// Load parses a YAML catalog. The allowed flags in the file are honored as-is.
func Load(data []byte) (*Catalog, error) {
	var f catalogFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}
	return New(f.Tables)
}

// LoadFile reads a YAML catalog from path.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file %s: %w", path, err)
	}
	return Load(data)
}

// Marshal renders the catalog as YAML.
func Marshal(c *Catalog) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(catalogFile{Tables: c.Tables()}); err != nil {
		return nil, fmt.Errorf("encoding catalog: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile writes the catalog to path as YAML.
func WriteFile(path string, c *Catalog) error {
	data, err := Marshal(c)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing catalog file %s: %w", path, err)
	}
	return nil
}
