package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// DefaultBinary is the pdftotext executable looked up on PATH
const DefaultBinary = "pdftotext"

// Extractor returns the text of one attachment
type Extractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// PdfToText extracts text from PDFs using the pdftotext CLI tool.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText extractor. If binPath is empty, "pdftotext" is used.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = DefaultBinary
	}
	return &PdfToText{binPath: binPath}
}

// Available reports whether the binary can be found
func (p *PdfToText) Available() bool {
	_, err := exec.LookPath(p.binPath)
	return err == nil
}

// ExtractText runs pdftotext -layout on the given PDF. Pages are joined with
// a newline in document order.
func (p *PdfToText) ExtractText(ctx context.Context, pdfPath string) (string, error) {
	cmd := exec.CommandContext(ctx, p.binPath, "-layout", pdfPath, "-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("pdftotext failed for %s: %w: %s", pdfPath, err, strings.TrimSpace(stderr.String()))
	}

	return JoinPages(stdout.String()), nil
}

// JoinPages replaces pdftotext's form feed page breaks with newlines and
// drops the trailing break after the last page.
func JoinPages(raw string) string {
	pages := strings.Split(strings.TrimRight(raw, "\f"), "\f")
	return strings.Join(pages, "\n")
}

// Truncate caps s at max runes. max <= 0 leaves s unchanged.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
