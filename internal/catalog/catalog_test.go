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
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func sampleTables() []Table {
	return []Table{
		{Schema: "public", Name: "orders", Columns: []Column{
			{Name: "id", Type: "integer"},
			{Name: "customer_id", Type: "integer"},
			{Name: "total", Type: "numeric"},
			{Name: "secret_column", Type: "text"},
		}},
		{Schema: "public", Name: "customers", Columns: []Column{
			{Name: "id", Type: "integer"},
			{Name: "name", Type: "text"},
		}},
		{Schema: "public", Name: "audit_log", Columns: []Column{
			{Name: "id", Type: "integer"},
		}},
	}
}

func TestRestrict(t *testing.T) {
	base, err := New(sampleTables())
	require.NoError(t, err)

	t.Run("empty allow-list allows nothing", func(t *testing.T) {
		c, missing, err := base.Restrict(nil)
		require.NoError(t, err)
		assert.Empty(t, missing)
		for _, tbl := range c.Tables() {
			assert.False(t, tbl.Allowed, tbl.Name)
			assert.Empty(t, tbl.AllowedColumns())
		}
	})

	t.Run("column list restricts columns", func(t *testing.T) {
		c, missing, err := base.Restrict(map[string][]string{
			"orders":           {"id", "customer_id", "total"},
			"public.customers": nil,
			"ghost":            nil,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"ghost"}, missing)

		orders, ok := c.Lookup(nil, Ident{Name: "ORDERS"})
		require.True(t, ok)
		assert.True(t, orders.Allowed)
		col, ok := orders.Column(Ident{Name: "secret_column"})
		require.True(t, ok)
		assert.False(t, col.Allowed)
		assert.Len(t, orders.AllowedColumns(), 3)

		customers, ok := c.Lookup(nil, Ident{Name: "customers"})
		require.True(t, ok)
		assert.Len(t, customers.AllowedColumns(), 2)

		audit, ok := c.Lookup(nil, Ident{Name: "audit_log"})
		require.True(t, ok)
		assert.False(t, audit.Allowed)
	})

	t.Run("restrict does not mutate the source", func(t *testing.T) {
		_, _, err := base.Restrict(map[string][]string{"orders": nil})
		require.NoError(t, err)
		orders, _ := base.Lookup(nil, Ident{Name: "orders"})
		assert.False(t, orders.Allowed)
	})
}

func TestLookup(t *testing.T) {
	c, err := New(append(sampleTables(), Table{Schema: "archive", Name: "orders"}))
	require.NoError(t, err)

	tests := []struct {
		name   string
		schema *Ident
		table  Ident
		want   bool
	}{
		{"unquoted folds case", &Ident{Name: "PUBLIC"}, Ident{Name: "Orders"}, true},
		{"quoted must match exactly", &Ident{Name: "public"}, Ident{Name: "Orders", Quoted: true}, false},
		{"quoted exact", &Ident{Name: "public"}, Ident{Name: "orders", Quoted: true}, true},
		{"ambiguous across schemas", nil, Ident{Name: "orders"}, false},
		{"unique without schema", nil, Ident{Name: "customers"}, true},
		{"full-width letters normalize", nil, Ident{Name: "ｃｕｓｔｏｍｅｒｓ"}, true},
		{"unknown", nil, Ident{Name: "payments"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := c.Lookup(tt.schema, tt.table)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestLookupRule(t *testing.T) {
	c, err := New([]Table{{Schema: "public", Name: "Orders", Columns: []Column{{Name: "Total"}}}})
	require.NoError(t, err)

	tests := []struct {
		name  string
		table Ident
		rule  CaseRule
		want  bool
	}{
		{"lower folding skips mixed case name", Ident{Name: "orders"}, LowerUnquoted, false},
		{"lower folding skips upper case reference", Ident{Name: "ORDERS"}, LowerUnquoted, false},
		{"lower folding quoted exact", Ident{Name: "Orders", Quoted: true}, LowerUnquoted, true},
		{"case insensitive unquoted", Ident{Name: "orders"}, CaseInsensitive, true},
		{"case insensitive quoted exact only", Ident{Name: "orders", Quoted: true}, CaseInsensitive, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl, ok := c.LookupRule(nil, tt.table, tt.rule)
			assert.Equal(t, tt.want, ok)
			if !ok {
				return
			}
			_, ok = tbl.ColumnRule(Ident{Name: "total"}, tt.rule)
			assert.Equal(t, tt.rule == CaseInsensitive, ok)
		})
	}
}

func TestIdentSame(t *testing.T) {
	tests := []struct {
		name string
		a, b Ident
		rule CaseRule
		want bool
	}{
		{"unquoted pair folds", Ident{Name: "Audit"}, Ident{Name: "AUDIT"}, CaseInsensitive, true},
		{"lower folding quoted lower equals unquoted", Ident{Name: "audit", Quoted: true}, Ident{Name: "AUDIT"}, LowerUnquoted, true},
		{"lower folding quoted upper differs", Ident{Name: "AUDIT", Quoted: true}, Ident{Name: "audit"}, LowerUnquoted, false},
		{"lower folding reversed", Ident{Name: "audit"}, Ident{Name: "AUDIT", Quoted: true}, LowerUnquoted, false},
		{"quoted upper differs", Ident{Name: "AUDIT", Quoted: true}, Ident{Name: "audit"}, CaseInsensitive, false},
		{"quoted upper differs reversed", Ident{Name: "audit"}, Ident{Name: "AUDIT", Quoted: true}, CaseInsensitive, false},
		{"quoted pair exact", Ident{Name: "Audit", Quoted: true}, Ident{Name: "Audit", Quoted: true}, CaseInsensitive, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Same(tt.b, tt.rule))
		})
	}
}

func TestNewRejectsDuplicates(t *testing.T) {
	_, err := New([]Table{{Name: "orders"}, {Name: "ORDERS"}})
	assert.Error(t, err)

	_, err = New([]Table{{Name: "orders", Columns: []Column{{Name: "id"}, {Name: "Id"}}}})
	assert.Error(t, err)
}

func TestFormatContextListsOnlyAllowed(t *testing.T) {
	base, err := New(sampleTables())
	require.NoError(t, err)
	c, _, err := base.Restrict(map[string][]string{"orders": {"id", "total"}})
	require.NoError(t, err)

	got := c.FormatContext()
	assert.Contains(t, got, "TABLE public.orders (")
	assert.Contains(t, got, "  id integer,")
	assert.Contains(t, got, "  total numeric\n")
	assert.NotContains(t, got, "secret_column")
	assert.NotContains(t, got, "customers")
}

func TestYAMLRoundTrip(t *testing.T) {
	base, err := New(sampleTables())
	require.NoError(t, err)
	c, _, err := base.Restrict(map[string][]string{"orders": {"id"}})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, WriteFile(path, c))
	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, c.Tables(), loaded.Tables())

	_, err = Load([]byte("tables:\n  - name: t\n    colums: []\n"))
	assert.Error(t, err, "unknown fields are rejected")
}

type mockIntrospector struct {
	mock.Mock
}

func (m *mockIntrospector) DefaultSchema() string { return "public" }

func (m *mockIntrospector) ListTables(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockIntrospector) ListColumns(ctx context.Context, table string) ([]Column, error) {
	args := m.Called(ctx, table)
	if cols := args.Get(0); cols != nil {
		return cols.([]Column), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestFromIntrospection(t *testing.T) {
	ctx := context.Background()

	t.Run("lists columns only for allowed tables", func(t *testing.T) {
		src := new(mockIntrospector)
		src.On("ListTables", ctx).Return([]string{"orders", "customers", "audit_log"}, nil)
		src.On("ListColumns", ctx, "orders").Return([]Column{{Name: "id", Type: "integer"}, {Name: "secret_column", Type: "text"}}, nil)
		src.On("ListColumns", ctx, "customers").Return([]Column{{Name: "id", Type: "integer"}}, nil)

		c, err := FromIntrospection(ctx, src, map[string][]string{"orders": {"id"}, "customers": nil}, nil)
		require.NoError(t, err)
		src.AssertExpectations(t)
		src.AssertNotCalled(t, "ListColumns", ctx, "audit_log")

		orders, ok := c.Lookup(&Ident{Name: "public"}, Ident{Name: "orders"})
		require.True(t, ok)
		assert.Equal(t, []Column{{Name: "id", Type: "integer", Allowed: true}}, orders.AllowedColumns())
	})

	t.Run("column listing failure", func(t *testing.T) {
		src := new(mockIntrospector)
		boom := errors.New("permission denied")
		src.On("ListTables", ctx).Return([]string{"orders"}, nil)
		src.On("ListColumns", ctx, "orders").Return(nil, boom)

		_, err := FromIntrospection(ctx, src, map[string][]string{"orders": nil}, nil)
		assert.ErrorIs(t, err, boom)
	})
}

func TestHolderConcurrentSwap(t *testing.T) {
	first, err := New(sampleTables())
	require.NoError(t, err)
	h := NewHolder(first)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.NotNil(t, h.Load())
			}
		}()
	}
	err = h.Refresh(context.Background(), func(ctx context.Context) (*Catalog, error) {
		return Empty(), nil
	})
	wg.Wait()
	require.NoError(t, err)
	assert.Zero(t, h.Load().Len())

	err = h.Refresh(context.Background(), func(ctx context.Context) (*Catalog, error) {
		return nil, errors.New("db down")
	})
	assert.Error(t, err)
	assert.Zero(t, h.Load().Len(), "failed refresh keeps the previous snapshot")
}
