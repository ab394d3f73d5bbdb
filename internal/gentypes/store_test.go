package gentypes

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/typegauge/typegauge/pkg/registry"
)

func TestSaveThenLoadRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	types := []registry.GeneratedType{
		{SemanticType: "ZIP", Description: "zips", PluginType: "regex", RegexPattern: `^\d{5}$`},
		{SemanticType: "BROKEN", Description: "failed generation", PluginType: "regex", ResultType: "error"},
	}

	path, err := Save(dir, "addresses", 3, types, time.Date(2026, 8, 23, 10, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, "addresses_description3_20260823_103000.json", filepath.Base(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	// Entries the generator marked as errors are dropped.
	require.Len(t, loaded, 1)
	require.Equal(t, "ZIP", loaded[0].SemanticType)

	// No leftover temp file.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestFindPicksLatestVersion(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	types := []registry.GeneratedType{{SemanticType: "A", Description: "d", PluginType: "regex", RegexPattern: "x"}}

	_, err := Save(dir, "addresses", 1, types, time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	latest, err := Save(dir, "addresses", 1, types, time.Date(2026, 8, 22, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	_, err = Save(dir, "addresses", 1, types, time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	found, err := Find(dir, []string{"addresses"}, 1, "")
	require.NoError(t, err)
	require.Equal(t, latest, found)
}

func TestFindPinnedTimestamp(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	types := []registry.GeneratedType{{SemanticType: "A", Description: "d", PluginType: "regex", RegexPattern: "x"}}
	pinned, err := Save(dir, "addresses", 1, types, time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	_, err = Save(dir, "addresses", 1, types, time.Date(2026, 8, 22, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	found, err := Find(dir, []string{"addresses"}, 1, "20260820_090000")
	require.NoError(t, err)
	require.Equal(t, pinned, found)

	_, err = Find(dir, []string{"addresses"}, 1, "20250101_000000")
	var nfe *NotFoundError
	require.ErrorAs(t, err, &nfe)
}

func TestFindFallsBackAcrossTags(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	types := []registry.GeneratedType{{SemanticType: "A", Description: "d", PluginType: "regex", RegexPattern: "x"}}
	saved, err := Save(dir, "uagi", 2, types, time.Now())
	require.NoError(t, err)

	found, err := Find(dir, []string{"addresses", "uagi"}, 2, "")
	require.NoError(t, err)
	require.Equal(t, saved, found)
}

func TestFindLegacyFilename(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	legacy := filepath.Join(dir, "addresses_description4.json")
	require.NoError(t, os.WriteFile(legacy, []byte(`[{"semanticType":"A","description":"d","pluginType":"regex","regexPattern":"x"}]`), 0o644))

	found, err := Find(dir, []string{"addresses"}, 4, "")
	require.NoError(t, err)
	require.Equal(t, legacy, found)

	loaded, err := Load(found)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
}

func TestFindMissing(t *testing.T) {
	t.Parallel()

	_, err := Find(t.TempDir(), []string{"nope"}, 9, "")
	var nfe *NotFoundError
	require.True(t, errors.As(err, &nfe))
	require.Equal(t, 9, nfe.DescNum)
}

func TestTagCandidates(t *testing.T) {
	t.Parallel()

	tags := TagCandidates([]string{
		"/data/addresses/addresses_data.csv",
		"/data/addresses/extra.csv",
	})
	require.Equal(t, []string{"addresses", "addresses_data", "extra"}, tags)
}
