// Package results persists evaluation run artifacts as timestamped JSON
// documents, one file per run, newest auto-selected on read.
package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

const timestampLayout = "20060102_150405"

var timestampRe = regexp.MustCompile(`_(\d{8}_\d{6})\.json$`)

// Store writes run artifacts under Dir.
type Store struct {
	Dir string
}

// Save writes the document atomically (temp file, then rename) under a
// filename encoding the dataset tag, variant identifier, and run timestamp,
// so historical versions coexist.
func (s Store) Save(tag, variant string, doc any, now time.Time) (string, error) {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal results: %w", err)
	}

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create results dir: %w", err)
	}
	path := filepath.Join(s.Dir, fmt.Sprintf("%s_%s_%s.json", tag, variant, now.Format(timestampLayout)))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return "", fmt.Errorf("write results: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("finalize results: %w", err)
	}
	return path, nil
}

// Latest returns the most recent artifact path for a dataset tag and
// variant, or an os.ErrNotExist-wrapped error when none exists.
func (s Store) Latest(tag, variant string) (string, error) {
	pattern := filepath.Join(s.Dir, fmt.Sprintf("%s_%s_*.json", tag, variant))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("glob results: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no results for %s %s: %w", tag, variant, os.ErrNotExist)
	}

	best := matches[0]
	bestTS := extractTimestamp(best)
	for _, m := range matches[1:] {
		if ts := extractTimestamp(m); ts > bestTS {
			best, bestTS = m, ts
		}
	}
	return best, nil
}

func extractTimestamp(path string) string {
	m := timestampRe.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return "00000000_000000"
	}
	return m[1]
}
