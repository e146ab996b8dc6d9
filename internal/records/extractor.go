// Package records extracts unique record descriptors from portal exports.
package records

import (
	"fmt"
	"regexp"
	"strings"

	"devharvest/internal/tabular"
	"devharvest/pkg/contracts/domain"
)

// DefaultIDPattern matches Development.i application numbers
const DefaultIDPattern = `A00\d{6,}`

// Extractor finds record identifiers in table rows
type Extractor struct {
	Pattern *regexp.Regexp
}

// NewExtractor compiles pattern, falling back to DefaultIDPattern when empty
func NewExtractor(pattern string) (*Extractor, error) {
	if pattern == "" {
		pattern = DefaultIDPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid record id pattern %q: %w", pattern, err)
	}
	return &Extractor{Pattern: re}, nil
}

// FindID joins the non-empty cells with spaces and returns the first match,
// or "" when the row carries no identifier.
func (e *Extractor) FindID(cells []string) string {
	parts := make([]string, 0, len(cells))
	for _, c := range cells {
		if c = strings.TrimSpace(c); c != "" {
			parts = append(parts, c)
		}
	}
	return e.Pattern.FindString(strings.Join(parts, " "))
}

// FindInText returns the first identifier in s
func (e *Extractor) FindInText(s string) string {
	return e.Pattern.FindString(s)
}

// AddressColumns returns the indexes of headers containing "address"
func AddressColumns(headers []string) []int {
	var cols []int
	for i, h := range headers {
		if strings.Contains(strings.ToLower(h), "address") {
			cols = append(cols, i)
		}
	}
	return cols
}

// Address joins the non-empty address cells of row
func Address(row []string, cols []int) string {
	parts := make([]string, 0, len(cols))
	for _, idx := range cols {
		if idx < len(row) {
			if v := strings.TrimSpace(row[idx]); v != "" {
				parts = append(parts, v)
			}
		}
	}
	return strings.Join(parts, " ")
}

// Extract returns one descriptor per distinct identifier. Descriptors keep
// the order in which identifiers first appear, while a later row for the
// same identifier replaces its address.
func (e *Extractor) Extract(t *tabular.Table) []domain.RecordDescriptor {
	cols := AddressColumns(t.Headers)

	index := make(map[string]int)
	var out []domain.RecordDescriptor
	for _, row := range t.Rows {
		id := e.FindID(row)
		if id == "" {
			continue
		}
		addr := Address(row, cols)
		if i, seen := index[id]; seen {
			out[i].Address = addr
			continue
		}
		index[id] = len(out)
		out = append(out, domain.RecordDescriptor{RecordID: id, Address: addr})
	}
	return out
}

// ExtractFile reads an export and extracts its descriptors
func (e *Extractor) ExtractFile(path string) ([]domain.RecordDescriptor, error) {
	t, err := tabular.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return e.Extract(t), nil
}
