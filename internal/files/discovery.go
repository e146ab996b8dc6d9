package files

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// EnrichedMarker appears in the name of every enriched report
const EnrichedMarker = "_enriched_"

// ErrNoExport is returned when a directory holds no usable export
var ErrNoExport = errors.New("no export file found")

// FileInfo represents information about a discovered file
type FileInfo struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
}

// Discovery finds exports and attachments below an output root
type Discovery struct {
	basePath string
	ignore   map[string]bool
}

// NewDiscovery creates a discovery rooted at basePath. Files named in ignore
// (the ledger, for instance) are never reported as exports.
func NewDiscovery(basePath string, ignore ...string) *Discovery {
	m := make(map[string]bool, len(ignore))
	for _, name := range ignore {
		m[strings.ToLower(name)] = true
	}
	return &Discovery{basePath: basePath, ignore: m}
}

func (d *Discovery) resolve(dir string) string {
	if dir == "" {
		return d.basePath
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(d.basePath, dir)
}

// FindExports lists the .csv and .xlsx files directly inside dir, oldest
// first. Enriched reports, ignored names and hidden files are left out.
func (d *Discovery) FindExports(dir string) ([]FileInfo, error) {
	fullPath := d.resolve(dir)

	entries, err := os.ReadDir(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", fullPath, err)
	}

	var files []FileInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		lower := strings.ToLower(name)
		if strings.HasPrefix(name, ".") || d.ignore[lower] || strings.Contains(lower, EnrichedMarker) {
			continue
		}
		if ext := filepath.Ext(lower); ext != ".csv" && ext != ".xlsx" {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Path:    filepath.Join(fullPath, name),
			Name:    name,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ModTime.Before(files[j].ModTime)
	})
	return files, nil
}

// LatestExport returns the most recently modified export in dir
func (d *Discovery) LatestExport(dir string) (FileInfo, error) {
	files, err := d.FindExports(dir)
	if err != nil {
		return FileInfo{}, err
	}
	latest, ok := GetLatestFile(files)
	if !ok {
		return FileInfo{}, fmt.Errorf("%w in %s", ErrNoExport, d.resolve(dir))
	}
	return latest, nil
}

// FindAttachments walks root and returns every file whose extension is in
// exts, sorted by path. Hidden directories such as the browser staging area
// are not descended into.
func (d *Discovery) FindAttachments(root string, exts []string) ([]FileInfo, error) {
	fullPath := d.resolve(root)

	want := make(map[string]bool, len(exts))
	for _, ext := range exts {
		want[strings.ToLower(ext)] = true
	}

	var files []FileInfo
	err := filepath.WalkDir(fullPath, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if path != fullPath && strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !want[strings.ToLower(filepath.Ext(entry.Name()))] {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return nil
		}
		files = append(files, FileInfo{
			Path:    path,
			Name:    entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", fullPath, err)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
	return files, nil
}

// GetLatestFile returns the most recently modified file from a list
func GetLatestFile(files []FileInfo) (FileInfo, bool) {
	if len(files) == 0 {
		return FileInfo{}, false
	}

	latest := files[0]
	for _, file := range files[1:] {
		if !file.ModTime.Before(latest.ModTime) {
			latest = file
		}
	}
	return latest, true
}
