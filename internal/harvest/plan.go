package harvest

import (
	"context"
	"path/filepath"
	"regexp"

	"devharvest/internal/download"
	"devharvest/pkg/contracts/domain"
)

// Row is one line of a record's document listing
type Row struct {
	Text    string
	Onclick string
}

// Listing is the document library of the records portal
type Listing interface {
	// OpenListing navigates to the documents of recordID
	OpenListing(ctx context.Context, recordID string) error
	// Rows returns the rows currently shown
	Rows(ctx context.Context) ([]Row, error)
	// Download triggers one attachment and waits for the browser download
	Download(ctx context.Context, target domain.DownloadTarget) (download.Artifact, error)
}

var triggerPattern = regexp.MustCompile(`fileDownload\('([^']+)',\s*'([^']+)',\s*'([^']+)'\)`)

// ParseTrigger extracts the arguments of a fileDownload('id','name','type')
// call from an onclick attribute.
func ParseTrigger(onclick string) (fileID, fileName, fileType string, ok bool) {
	m := triggerPattern.FindStringSubmatch(onclick)
	if m == nil {
		return "", "", "", false
	}
	return m[1], m[2], m[3], true
}

// Candidate is a queued download with its resolved destination
type Candidate struct {
	Target    domain.DownloadTarget
	SafeName  string
	FinalPath string
}

// Plan selects the rows whose text matches docPattern and that carry a
// parsable trigger. Rows resolving to the same destination are queued once.
func Plan(desc domain.RecordDescriptor, rows []Row, docPattern *regexp.Regexp, folder string, maxName int) []Candidate {
	seen := make(map[string]bool)
	var out []Candidate
	for _, row := range rows {
		if !docPattern.MatchString(row.Text) {
			continue
		}
		fileID, fileName, fileType, ok := ParseTrigger(row.Onclick)
		if !ok {
			continue
		}

		safe := SanitizeName(fileName, maxName)
		final := filepath.Join(folder, FinalFileName(desc.RecordID, safe, fileType))
		if seen[final] {
			continue
		}
		seen[final] = true

		out = append(out, Candidate{
			Target: domain.DownloadTarget{
				RecordID: desc.RecordID,
				FileID:   fileID,
				FileName: fileName,
				FileType: fileType,
			},
			SafeName:  safe,
			FinalPath: final,
		})
	}
	return out
}
