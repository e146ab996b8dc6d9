package harvest

import (
	"path/filepath"
	"regexp"
	"strings"
)

const unnamed = "unnamed"

var forbiddenChars = regexp.MustCompile(`[\\/*?:"<>|]`)

// SanitizeName makes raw safe for use as a path component. Forbidden
// characters become underscores, the result is capped at max runes and
// trailing or leading spaces and dots are removed. An empty result is
// replaced by "unnamed".
func SanitizeName(raw string, max int) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return unnamed
	}

	safe := forbiddenChars.ReplaceAllString(raw, "_")
	if max > 0 {
		if r := []rune(safe); len(r) > max {
			safe = string(r[:max])
		}
	}

	safe = strings.Trim(safe, " .")
	if safe == "" {
		return unnamed
	}
	return safe
}

// RecordFolder returns the directory that holds a record's documents:
// "<root>/<id> - <address>/<docFolder>", or "<root>/<id>/<docFolder>" when
// the address is blank.
func RecordFolder(root, recordID, address, docFolder string, maxAddr int) string {
	base := recordID
	if addr := strings.TrimSpace(address); addr != "" {
		base = recordID + " - " + SanitizeName(addr, maxAddr)
	}
	return filepath.Join(root, base, docFolder)
}

// FinalFileName is the on-disk name of a downloaded attachment
func FinalFileName(recordID, safeName, fileType string) string {
	return recordID + "_" + safeName + "." + strings.ToLower(fileType)
}
