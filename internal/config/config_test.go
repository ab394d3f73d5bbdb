package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadLimitsDefaults(t *testing.T) {
	limits, err := LoadLimits()
	require.NoError(t, err)
	require.Equal(t, 300, limits.MaxColumns)
	require.Equal(t, 1000, limits.MaxRows)
	require.False(t, limits.Unbounded)
	require.Equal(t, 10, limits.Workers)
	require.Equal(t, 300, limits.ProfileTimeoutSecs)
}

func TestLoadLimitsFromEnv(t *testing.T) {
	t.Setenv("TYPEGAUGE_MAX_COLUMNS", "50")
	t.Setenv("TYPEGAUGE_MAX_ROWS", "200")
	t.Setenv("TYPEGAUGE_UNBOUNDED", "true")
	t.Setenv("TYPEGAUGE_WORKERS", "4")
	t.Setenv("TYPEGAUGE_RATE_LIMIT_RPS", "2.5")

	limits, err := LoadLimits()
	require.NoError(t, err)
	require.Equal(t, 50, limits.MaxColumns)
	require.Equal(t, 200, limits.MaxRows)
	require.True(t, limits.Unbounded)
	require.Equal(t, 4, limits.Workers)
	require.InDelta(t, 2.5, limits.RateLimitRPS, 1e-9)
}

func TestLoadEndpointsFallback(t *testing.T) {
	t.Setenv("TYPEGAUGE_ENDPOINTS_FILE", "")
	t.Setenv("TYPEGAUGE_SERVICE_URL", "http://classify.internal/api")
	t.Setenv("TYPEGAUGE_SERVICE_TOKEN", "tok")

	eps, err := LoadEndpoints()
	require.NoError(t, err)
	require.Equal(t, "http://classify.internal/api", eps.ClassifyURL)
	require.Equal(t, "http://classify.internal/api", eps.RegistryURL)
	require.Equal(t, "tok", eps.Token)
}

func TestLoadEndpointsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "endpoints.yml")
	contents := "classify:\n  - http://a.internal/api\nregistry:\n  - http://b.internal/api\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	t.Setenv("TYPEGAUGE_ENDPOINTS_FILE", path)

	eps, err := LoadEndpoints()
	require.NoError(t, err)
	require.Equal(t, "http://a.internal/api", eps.ClassifyURL)
	require.Equal(t, "http://b.internal/api", eps.RegistryURL)
}

func TestLoadEndpointsFileRegistryDefaultsToClassify(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "endpoints.yml")
	require.NoError(t, os.WriteFile(path, []byte("classify:\n  - http://a.internal/api\n"), 0o644))

	t.Setenv("TYPEGAUGE_ENDPOINTS_FILE", path)

	eps, err := LoadEndpoints()
	require.NoError(t, err)
	require.Equal(t, eps.ClassifyURL, eps.RegistryURL)
}
