package pdftext

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinPages(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{"single page", "hello\n\f", "hello\n"},
		{"two pages", "one\n\ftwo\n\f", "one\n\ntwo\n"},
		{"no breaks", "plain", "plain"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, JoinPages(tt.raw))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abcdef", 3))
	assert.Equal(t, "abc", Truncate("abc", 3))
	assert.Equal(t, "ééé", Truncate("éééé", 3))
	assert.Equal(t, "abcdef", Truncate("abcdef", 0))
}

// fakeBinary writes a shell script standing in for pdftotext
func fakeBinary(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "pdftotext")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func TestPdfToTextExtract(t *testing.T) {
	bin := fakeBinary(t, `printf 'DA Form page one\n\fpage two\n\f'`)
	p := NewPdfToText(bin)
	assert.True(t, p.Available())

	text, err := p.ExtractText(context.Background(), "/tmp/whatever.pdf")
	require.NoError(t, err)
	assert.Equal(t, "DA Form page one\n\npage two\n", text)
}

func TestPdfToTextFailure(t *testing.T) {
	bin := fakeBinary(t, `echo "Syntax Error: Couldn't read xref table" >&2; exit 1`)

	_, err := NewPdfToText(bin).ExtractText(context.Background(), "/tmp/broken.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xref")
}

func TestPdfToTextMissingBinary(t *testing.T) {
	p := NewPdfToText(filepath.Join(t.TempDir(), "absent"))
	assert.False(t, p.Available())

	_, err := p.ExtractText(context.Background(), "/tmp/a.pdf")
	assert.Error(t, err)
}

func TestNewPdfToTextDefault(t *testing.T) {
	assert.Equal(t, DefaultBinary, NewPdfToText("").binPath)
}

func TestVerifyDownload(t *testing.T) {
	dir := t.TempDir()

	docx := filepath.Join(dir, "a.partial")
	require.NoError(t, os.WriteFile(docx, []byte("PK\x03\x04 zipped word document"), 0644))
	assert.NoError(t, VerifyDownload(docx))

	broken := filepath.Join(dir, "b.partial")
	require.NoError(t, os.WriteFile(broken, []byte("%PDF-1.4\nthis is not a pdf body"), 0644))
	assert.Error(t, VerifyDownload(broken))

	tiny := filepath.Join(dir, "c.partial")
	require.NoError(t, os.WriteFile(tiny, []byte("%P"), 0644))
	pdf, err := IsPDF(tiny)
	require.NoError(t, err)
	assert.False(t, pdf)

	assert.Error(t, VerifyDownload(filepath.Join(dir, "missing")))
}

func TestPageCountRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.pdf")
	require.NoError(t, os.WriteFile(path, []byte("not a pdf"), 0644))

	_, err := PageCount(path)
	assert.Error(t, err)
}
