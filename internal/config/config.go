// Package config loads runtime tunables from the environment and the
// optional service endpoints file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

const envPrefix = "TYPEGAUGE_"

// Limits are the size and concurrency tunables, overridable through
// TYPEGAUGE_* environment variables (e.g. TYPEGAUGE_MAX_COLUMNS=500).
type Limits struct {
	// MaxColumns and MaxRows cap each profiling request. Unbounded
	// disables truncation entirely for full-data runs.
	MaxColumns int  `koanf:"max_columns"`
	MaxRows    int  `koanf:"max_rows"`
	Unbounded  bool `koanf:"unbounded"`

	ProfileTimeoutSecs  int `koanf:"profile_timeout_secs"`
	RegistryTimeoutSecs int `koanf:"registry_timeout_secs"`

	Workers      int     `koanf:"workers"`
	RateLimitRPS float64 `koanf:"rate_limit_rps"`
}

// LoadLimits reads TYPEGAUGE_* env vars and applies defaults for anything
// unset.
func LoadLimits() (Limits, error) {
	k := koanf.New(".")
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return Limits{}, fmt.Errorf("load env config: %w", err)
	}

	var limits Limits
	if err := k.Unmarshal("", &limits); err != nil {
		return Limits{}, fmt.Errorf("parse env config: %w", err)
	}
	applyDefaults(&limits)
	return limits, nil
}

func applyDefaults(l *Limits) {
	if l.MaxColumns <= 0 {
		l.MaxColumns = 300
	}
	if l.MaxRows <= 0 {
		l.MaxRows = 1000
	}
	if l.ProfileTimeoutSecs <= 0 {
		l.ProfileTimeoutSecs = 300
	}
	if l.RegistryTimeoutSecs <= 0 {
		l.RegistryTimeoutSecs = 30
	}
	if l.Workers <= 0 {
		l.Workers = 10
	}
}

// ProfileTimeout returns the profiling call deadline.
func (l Limits) ProfileTimeout() time.Duration {
	return time.Duration(l.ProfileTimeoutSecs) * time.Second
}

// RegistryTimeout returns the registry call deadline.
func (l Limits) RegistryTimeout() time.Duration {
	return time.Duration(l.RegistryTimeoutSecs) * time.Second
}

// Endpoints are the classification service base URLs. The classify and
// registry surfaces normally share one service; the endpoints file lets
// deployments split them.
type Endpoints struct {
	ClassifyURL string
	RegistryURL string
	Token       string
}

// endpointsFile mirrors the YAML format: each service id maps to a
// single-element list containing the base URL.
//
// Example:
//
//	classify:
//	  - http://localhost:8081/api
//	registry:
//	  - http://localhost:8081/api
type endpointsFile map[string][]string

// LoadEndpoints resolves service URLs from TYPEGAUGE_ENDPOINTS_FILE when
// set, otherwise from TYPEGAUGE_SERVICE_URL, defaulting to the local
// development service.
func LoadEndpoints() (Endpoints, error) {
	token := strings.TrimSpace(os.Getenv("TYPEGAUGE_SERVICE_TOKEN"))

	if path := strings.TrimSpace(os.Getenv("TYPEGAUGE_ENDPOINTS_FILE")); path != "" {
		eps, err := loadEndpointsFile(path)
		if err != nil {
			return Endpoints{}, err
		}
		eps.Token = token
		return eps, nil
	}

	serviceURL := strings.TrimSpace(os.Getenv("TYPEGAUGE_SERVICE_URL"))
	if serviceURL == "" {
		serviceURL = "http://localhost:8081/api"
	}
	return Endpoints{
		ClassifyURL: serviceURL,
		RegistryURL: serviceURL,
		Token:       token,
	}, nil
}

func loadEndpointsFile(path string) (Endpoints, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Endpoints{}, fmt.Errorf("read TYPEGAUGE_ENDPOINTS_FILE: %w", err)
	}

	var raw endpointsFile
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return Endpoints{}, fmt.Errorf("parse TYPEGAUGE_ENDPOINTS_FILE YAML: %w", err)
	}

	getOne := func(key string) (string, bool) {
		vals, ok := raw[key]
		if !ok || len(vals) == 0 {
			return "", false
		}
		v := strings.TrimSpace(vals[0])
		if v == "" {
			return "", false
		}
		return v, true
	}

	classifyURL, ok := getOne("classify")
	if !ok {
		return Endpoints{}, fmt.Errorf("TYPEGAUGE_ENDPOINTS_FILE missing classify")
	}
	registryURL, ok := getOne("registry")
	if !ok {
		registryURL = classifyURL
	}

	return Endpoints{
		ClassifyURL: classifyURL,
		RegistryURL: registryURL,
	}, nil
}
