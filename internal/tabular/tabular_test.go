package tabular

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCSV(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantHeaders []string
		wantRows    [][]string
		wantErr     bool
	}{
		{
			name:        "plain",
			input:       "Application,Address\nA00123456,1 Test St\n",
			wantHeaders: []string{"Application", "Address"},
			wantRows:    [][]string{{"A00123456", "1 Test St"}},
		},
		{
			name:        "bom stripped",
			input:       "\xEF\xBB\xBFApplication,Address\nA00123456,1 Test St\n",
			wantHeaders: []string{"Application", "Address"},
			wantRows:    [][]string{{"A00123456", "1 Test St"}},
		},
		{
			name:        "short rows padded",
			input:       "a,b,c\n1\n1,2,3\n",
			wantHeaders: []string{"a", "b", "c"},
			wantRows:    [][]string{{"1", "", ""}, {"1", "2", "3"}},
		},
		{
			name:        "wide rows extend headers",
			input:       "a,b\n1,2,3\n",
			wantHeaders: []string{"a", "b", "Column_3"},
			wantRows:    [][]string{{"1", "2", "3"}},
		},
		{
			name:        "lazy quotes",
			input:       "a,b\n1,5 \"Main\" Rd\n",
			wantHeaders: []string{"a", "b"},
			wantRows:    [][]string{{"1", "5 \"Main\" Rd"}},
		},
		{
			name:        "header only",
			input:       "a,b\n",
			wantHeaders: []string{"a", "b"},
			wantRows:    [][]string{},
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := ParseCSV(strings.NewReader(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHeaders, table.Headers)
			assert.ElementsMatch(t, tt.wantRows, table.Rows)
		})
	}
}

func TestWriteCSVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "report.csv")

	table := New("Application", "RawText")
	table.Append("A00123456", "line one\nline two, with comma")
	table.Append("A00999999")

	require.NoError(t, WriteCSV(path, table))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "\xEF\xBB\xBF"), "BOM expected")

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, table.Headers, got.Headers)
	assert.Equal(t, [][]string{
		{"A00123456", "line one\nline two, with comma"},
		{"A00999999", ""},
	}, got.Rows)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}

func TestXLSXRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.xlsx")

	table := New("Application", "Address", "Status")
	table.Append("A00123456", "1 Test St", "Lodged")
	table.Append("A00222222", "", "Decided")

	require.NoError(t, WriteXLSX(path, table))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, table.Headers, got.Headers)
	assert.Equal(t, table.Rows, got.Rows)
}

func TestTableAccessors(t *testing.T) {
	table := New("Application", " Site Address ", "Status")
	table.Append("A00123456", "1 Test St", "Lodged")
	table.Append("A00222222", "2 Test St")

	assert.Equal(t, 2, table.Len())
	assert.Equal(t, 0, table.Index("Application"))
	assert.Equal(t, -1, table.Index("application"))
	assert.Equal(t, []string{"A00222222", "2 Test St", ""}, table.Rows[1])
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "absent.csv"))
	assert.Error(t, err)
}
