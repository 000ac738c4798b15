package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

const (
	ArchiveRoot       = "invocations"
	archiveDateLayout = "2006-01-02"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildArchivePath returns invocations/date=YYYY-MM-DD/<invocation_id>.parquet,
// partitioned by the UTC day the invocation finished.
func BuildArchivePath(invocationID string, finishedAt time.Time) (string, error) {
	if err := validatePathComponent(invocationID, "invocation id"); err != nil {
		return "", err
	}
	return path.Join(ArchiveDatePrefix(finishedAt), invocationID+".parquet"), nil
}

func ArchiveDatePrefix(day time.Time) string {
	return path.Join(ArchiveRoot, "date="+day.UTC().Format(archiveDateLayout))
}

// ParseArchiveDate extracts the partition day from an archive key. Keys outside
// the archive layout report false.
func ParseArchiveDate(key string) (time.Time, bool) {
	parts := strings.Split(strings.TrimPrefix(key, "/"), "/")
	for i, part := range parts {
		if part != ArchiveRoot || i+1 >= len(parts) {
			continue
		}
		value, ok := strings.CutPrefix(parts[i+1], "date=")
		if !ok {
			return time.Time{}, false
		}
		day, err := time.Parse(archiveDateLayout, value)
		if err != nil {
			return time.Time{}, false
		}
		return day, true
	}
	return time.Time{}, false
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
