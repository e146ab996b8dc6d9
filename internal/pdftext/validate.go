package pdftext

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var pdfMagic = []byte("%PDF-")

func relaxedConfig() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}

// Validate checks that path holds a structurally readable PDF. It is used on
// the partial file of a download before it is moved into place.
func Validate(path string) error {
	if err := api.ValidateFile(path, relaxedConfig()); err != nil {
		return fmt.Errorf("invalid pdf %s: %w", filepath.Base(path), err)
	}
	return nil
}

// VerifyDownload validates path when its content starts with the PDF magic
// bytes. Other document types are accepted as they are.
func VerifyDownload(path string) error {
	pdf, err := IsPDF(path)
	if err != nil {
		return err
	}
	if !pdf {
		return nil
	}
	return Validate(path)
}

// IsPDF sniffs the header of path
func IsPDF(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	head := make([]byte, len(pdfMagic))
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return false, err
	}
	return bytes.Equal(head[:n], pdfMagic), nil
}

// PageCount returns the number of pages in a PDF
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to count pages of %s: %w", filepath.Base(path), err)
	}
	return n, nil
}
