package download

import (
	"os"

	"devharvest/internal/files"
)

// FileArtifact is a download that already sits on disk, typically in the
// browser's staging directory. SaveAs moves it into place.
type FileArtifact struct {
	Path string
}

// SaveAs moves the staged file to path
func (a FileArtifact) SaveAs(path string) error {
	return files.MoveFile(a.Path, path)
}

// Discard removes the staged file when it will not be used
func (a FileArtifact) Discard() error {
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// BytesArtifact is an in-memory download
type BytesArtifact []byte

// SaveAs writes the bytes to path
func (b BytesArtifact) SaveAs(path string) error {
	return os.WriteFile(path, b, 0644)
}
