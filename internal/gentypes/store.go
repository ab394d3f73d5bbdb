// Package gentypes reads and writes generated-type files: timestamped JSON
// documents holding the candidate definitions for one dataset and
// description variant.
package gentypes

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/typegauge/typegauge/pkg/registry"
)

// timestampLayout is the filename/run timestamp format (YYYYMMDD_HHMMSS).
const timestampLayout = "20060102_150405"

// NotFoundError reports that no generated-types file exists for a requested
// variant. Fatal to that variant only, never to the whole run.
type NotFoundError struct {
	Tags    []string
	DescNum int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no generated types found for description %d (tags %s)", e.DescNum, strings.Join(e.Tags, ", "))
}

// File is the persisted document shape.
type File struct {
	Dataset           string                   `json:"dataset"`
	DescriptionNumber int                      `json:"description_number"`
	Timestamp         string                   `json:"timestamp"`
	GeneratedTypes    []registry.GeneratedType `json:"generated_types"`
}

var timestampRe = regexp.MustCompile(`_(\d{8}_\d{6})\.json$`)

// Find locates the generated-types file for a description variant. With an
// explicit timestamp the exact version is required; otherwise the newest
// timestamped version across the candidate tags wins, falling back to the
// legacy un-timestamped name.
func Find(dir string, tags []string, descNum int, timestamp string) (string, error) {
	seen := make(map[string]bool, len(tags))
	var searchTags []string
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		searchTags = append(searchTags, t)
	}

	if timestamp != "" {
		for _, tag := range searchTags {
			path := filepath.Join(dir, fmt.Sprintf("%s_description%d_%s.json", tag, descNum, timestamp))
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
		return "", &NotFoundError{Tags: searchTags, DescNum: descNum}
	}

	for _, tag := range searchTags {
		pattern := filepath.Join(dir, fmt.Sprintf("%s_description%d_*.json", tag, descNum))
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return "", fmt.Errorf("glob generated types: %w", err)
		}
		if len(matches) == 0 {
			continue
		}
		// Newest by the timestamp suffix in the filename.
		best := matches[0]
		bestTS := extractTimestamp(best)
		for _, m := range matches[1:] {
			if ts := extractTimestamp(m); ts > bestTS {
				best, bestTS = m, ts
			}
		}
		return best, nil
	}

	// Legacy format without a timestamp suffix.
	for _, tag := range searchTags {
		path := filepath.Join(dir, fmt.Sprintf("%s_description%d.json", tag, descNum))
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", &NotFoundError{Tags: searchTags, DescNum: descNum}
}

func extractTimestamp(path string) string {
	m := timestampRe.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return "00000000_000000"
	}
	return m[1]
}

// Load parses a generated-types file, dropping entries the generator marked
// as errors. Both the document form and a bare list are accepted.
func Load(path string) ([]registry.GeneratedType, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read generated types: %w", err)
	}

	var doc File
	if err := json.Unmarshal(b, &doc); err == nil && len(doc.GeneratedTypes) > 0 {
		return filterErrors(doc.GeneratedTypes), nil
	}

	var list []registry.GeneratedType
	if err := json.Unmarshal(b, &list); err != nil {
		return nil, fmt.Errorf("parse generated types %s: %w", filepath.Base(path), err)
	}
	return filterErrors(list), nil
}

func filterErrors(types []registry.GeneratedType) []registry.GeneratedType {
	out := make([]registry.GeneratedType, 0, len(types))
	for _, t := range types {
		if t.ResultType == "error" {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Save writes a generated-types document atomically with a timestamped
// filename and returns the written path.
func Save(dir, tag string, descNum int, types []registry.GeneratedType, now time.Time) (string, error) {
	ts := now.Format(timestampLayout)
	doc := File{
		Dataset:           tag,
		DescriptionNumber: descNum,
		Timestamp:         ts,
		GeneratedTypes:    types,
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal generated types: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create generated types dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_description%d_%s.json", tag, descNum, ts))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return "", fmt.Errorf("write generated types: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("finalize generated types: %w", err)
	}
	return path, nil
}

// TagCandidates derives dataset tags to search for generated types: each
// input file's stem (with any trailing "_data" stripped) and its parent
// directory name, in order, deduplicated.
func TagCandidates(paths []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(tag string) {
		tag = strings.TrimSpace(tag)
		if tag == "" || tag == "." || seen[tag] {
			return
		}
		seen[tag] = true
		out = append(out, tag)
	}

	for _, p := range paths {
		stem := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		add(strings.TrimSuffix(stem, "_data"))
		add(stem)
	}
	for _, p := range paths {
		add(filepath.Base(filepath.Dir(p)))
	}
	return out
}
