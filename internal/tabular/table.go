package tabular

// Table is a header row plus data rows. Every row has exactly len(Headers)
// cells once it has passed through Normalize.
type Table struct {
	Headers []string
	Rows    [][]string
}

// New creates an empty table with a copy of headers
func New(headers ...string) *Table {
	return &Table{Headers: append([]string(nil), headers...)}
}

// Len returns the number of data rows
func (t *Table) Len() int {
	return len(t.Rows)
}

// Index returns the column position of name, or -1
func (t *Table) Index(name string) int {
	for i, h := range t.Headers {
		if h == name {
			return i
		}
	}
	return -1
}

// Append adds a row, padding or truncating it to the header width
func (t *Table) Append(row ...string) {
	t.Rows = append(t.Rows, fit(row, len(t.Headers)))
}

// Normalize pads ragged rows with empty cells and trims extra cells
func (t *Table) Normalize() {
	for i, row := range t.Rows {
		t.Rows[i] = fit(row, len(t.Headers))
	}
}

func fit(row []string, width int) []string {
	out := make([]string, width)
	copy(out, row)
	return out
}
