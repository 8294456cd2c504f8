// Package rotation builds the rotated file paths used by the file-format
// drivers (JSONL/CSV/Parquet/Excel): date-based and size-based rotation
// over a {name}_{suffix}.ext template.
package rotation

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Policy selects how a resource's output path rotates over time.
type Policy string

const (
	PolicyNone Policy = ""
	PolicyDate Policy = "date"
	PolicySize Policy = "size"
)

// Path returns the current file path for a resource under the given
// directory and extension, given a rotation policy. now is injected by the
// caller since this package must stay pure (no direct clock use).
func Path(dir, resource, ext string, policy Policy, now time.Time) string {
	switch policy {
	case PolicyDate:
		return filepath.Join(dir, fmt.Sprintf("%s_%s.%s", resource, now.UTC().Format("2006-01-02"), ext))
	default:
		return filepath.Join(dir, fmt.Sprintf("%s.%s", resource, ext))
	}
}

// MaybeRotateBySize renames path to {name}_{epoch}.ext when it exceeds
// thresholdBytes, so that subsequent writes start a fresh file at path.
// now is injected for determinism; it stands in for the epoch suffix.
func MaybeRotateBySize(path string, thresholdBytes int64, now time.Time) error {
	if thresholdBytes <= 0 {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Size() <= thresholdBytes {
		return nil
	}
	ext := filepath.Ext(path)
	base := path[:len(path)-len(ext)]
	rotated := fmt.Sprintf("%s_%d%s", base, now.UTC().Unix(), ext)
	return os.Rename(path, rotated)
}
