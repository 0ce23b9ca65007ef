package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTablesFlag(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    map[string][]string
		wantErr bool
	}{
		{
			name:  "Empty flag allows nothing",
			input: "",
			want:  map[string][]string{},
		},
		{
			name:  "Tables and columns",
			input: "orders[id,total], customers",
			want:  map[string][]string{"orders": {"id", "total"}, "customers": nil},
		},
		{
			name:  "Schema qualified",
			input: "sales.orders[id]",
			want:  map[string][]string{"sales.orders": {"id"}},
		},
		{name: "Missing closing bracket", input: "orders[id,total", wantErr: true},
		{name: "Stray closing bracket", input: "orders]id", wantErr: true},
		{name: "Empty column", input: "orders[id,]", wantErr: true},
		{name: "Empty entry", input: "orders,,customers", wantErr: true},
		{name: "Missing table name", input: "[id]", wantErr: true},
		{name: "Duplicate table", input: "orders,orders[id]", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTablesFlag(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitOutsideBrackets(t *testing.T) {
	assert.Equal(t, []string{"a[x,y]", "b", "c[z]"}, SplitOutsideBrackets("a[x,y],b,c[z]"))
	assert.Nil(t, SplitOutsideBrackets(""))
}

func TestReadSQLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "q.sql")
	require.NoError(t, os.WriteFile(path, []byte("\n SELECT 1;\nDROP TABLE orders;\n"), 0o600))

	sql, err := ReadSQLFile(path)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1;\nDROP TABLE orders;", sql, "statements must reach the gate together")

	empty := filepath.Join(dir, "empty.sql")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o600))
	_, err = ReadSQLFile(empty)
	assert.Error(t, err)

	_, err = ReadSQLFile(filepath.Join(dir, "missing.sql"))
	assert.Error(t, err)
}

func TestReadContextFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.md")
	b := filepath.Join(dir, "b.md")
	require.NoError(t, os.WriteFile(a, []byte("orders are invoices"), 0o600))
	require.NoError(t, os.WriteFile(b, []byte("total is in EUR"), 0o600))

	got, err := ReadContextFiles(a + ", " + b)
	require.NoError(t, err)
	assert.Contains(t, got, "orders are invoices")
	assert.Contains(t, got, "total is in EUR")
	assert.Contains(t, got, "-- Context from file: "+b+" --")

	got, err = ReadContextFiles("")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = ReadContextFiles(filepath.Join(dir, "nope.md"))
	assert.Error(t, err)
}

func TestConfirmAction(t *testing.T) {
	for input, want := range map[string]bool{
		"y\n":    true,
		"YES\n":  true,
		"no\n":   false,
		"\n":     false,
		"maybe":  false,
		" yes ":  true,
		"yess\n": false,
	} {
		var out bytes.Buffer
		assert.Equal(t, want, ConfirmAction(strings.NewReader(input), &out, "SELECT 1"), "input %q", input)
		assert.Contains(t, out.String(), "SELECT 1")
	}
}

func TestDefaultCatalogPath(t *testing.T) {
	assert.Equal(t, "shop_catalog.yaml", DefaultCatalogPath("shop"))
	assert.Equal(t, "database_catalog.yaml", DefaultCatalogPath(""))
}
