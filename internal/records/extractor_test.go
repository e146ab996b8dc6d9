package records

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devharvest/internal/tabular"
	"devharvest/pkg/contracts/domain"
)

func mustExtractor(t *testing.T) *Extractor {
	t.Helper()
	e, err := NewExtractor("")
	require.NoError(t, err)
	return e
}

func TestNewExtractor(t *testing.T) {
	e, err := NewExtractor("")
	require.NoError(t, err)
	assert.Equal(t, DefaultIDPattern, e.Pattern.String())

	_, err = NewExtractor("A00(")
	assert.Error(t, err)
}

func TestFindID(t *testing.T) {
	e := mustExtractor(t)

	tests := []struct {
		name     string
		cells    []string
		expected string
	}{
		{"id in first cell", []string{"A00123456", "1 Test St"}, "A00123456"},
		{"id embedded in text", []string{"", "Application A001234567 lodged"}, "A001234567"},
		{"too few digits", []string{"A0012345"}, ""},
		{"empty row", []string{"", "  "}, ""},
		{"first id wins", []string{"A00111111", "A00222222"}, "A00111111"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, e.FindID(tt.cells))
		})
	}
}

func TestAddress(t *testing.T) {
	headers := []string{"Application", "Street Address", "Suburb", "Postal ADDRESS"}
	cols := AddressColumns(headers)
	assert.Equal(t, []int{1, 3}, cols)

	assert.Equal(t, "1 Test St PO Box 9", Address([]string{"A00123456", " 1 Test St ", "Brisbane", "PO Box 9"}, cols))
	assert.Equal(t, "1 Test St", Address([]string{"A00123456", "1 Test St", "Brisbane", ""}, cols))
	assert.Equal(t, "", Address([]string{"A00123456"}, cols))
	assert.Nil(t, AddressColumns([]string{"Application", "Suburb"}))
}

func TestExtract(t *testing.T) {
	e := mustExtractor(t)

	tests := []struct {
		name     string
		table    *tabular.Table
		expected []domain.RecordDescriptor
	}{
		{
			name: "last address wins, first order kept",
			table: &tabular.Table{
				Headers: []string{"Application", "Address"},
				Rows: [][]string{
					{"A00123456", "1 Test St"},
					{"A00777777", "7 Other Rd"},
					{"A00123456", "2 Test St"},
				},
			},
			expected: []domain.RecordDescriptor{
				{RecordID: "A00123456", Address: "2 Test St"},
				{RecordID: "A00777777", Address: "7 Other Rd"},
			},
		},
		{
			name: "rows without id dropped",
			table: &tabular.Table{
				Headers: []string{"Application", "Address"},
				Rows: [][]string{
					{"n/a", "Nowhere"},
					{"A00999999", ""},
				},
			},
			expected: []domain.RecordDescriptor{
				{RecordID: "A00999999", Address: ""},
			},
		},
		{
			name: "no address column",
			table: &tabular.Table{
				Headers: []string{"Application", "Description"},
				Rows:    [][]string{{"A00123456", "Dwelling"}},
			},
			expected: []domain.RecordDescriptor{
				{RecordID: "A00123456"},
			},
		},
		{
			name:     "empty table",
			table:    tabular.New("Application"),
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, e.Extract(tt.table))
		})
	}
}

func TestExtractFile(t *testing.T) {
	e := mustExtractor(t)
	path := filepath.Join(t.TempDir(), "export.csv")
	require.NoError(t, os.WriteFile(path, []byte("\xEF\xBB\xBFApplication number,Address\nA00123456,1 Test St\nA00123456,2 Test St\n"), 0644))

	got, err := e.ExtractFile(path)
	require.NoError(t, err)
	assert.Equal(t, []domain.RecordDescriptor{{RecordID: "A00123456", Address: "2 Test St"}}, got)

	_, err = e.ExtractFile(filepath.Join(t.TempDir(), "absent.csv"))
	assert.Error(t, err)
}
