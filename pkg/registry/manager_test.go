package registry_test

import (
	"context"
	"io"
	"log"
	"net/http"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/typegauge/typegauge/pkg/classify"
	"github.com/typegauge/typegauge/pkg/registry"
)

func fptr(f float64) *float64 { return &f }

// fakeAPI records registry calls and serves a scripted type list.
type fakeAPI struct {
	mu    sync.Mutex
	types []map[string]any

	lists   int
	posts   []string
	puts    []string
	deletes []string

	postErr   error
	putErr    error
	deleteErr map[string]error
}

func (f *fakeAPI) SemanticTypes(context.Context) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	return f.types, nil
}

func (f *fakeAPI) PostSemanticType(_ context.Context, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := payload.(*registry.Payload)
	f.posts = append(f.posts, p.SemanticType)
	return f.postErr
}

func (f *fakeAPI) PutSemanticType(_ context.Context, name string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, name)
	return f.putErr
}

func (f *fakeAPI) DeleteSemanticType(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, name)
	if f.deleteErr != nil {
		return f.deleteErr[name]
	}
	return nil
}

func (f *fakeAPI) ReloadSemanticTypes(context.Context) error { return nil }

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func zipType() registry.GeneratedType {
	return registry.GeneratedType{
		SemanticType: "ZIP",
		Description:  "US zip codes",
		PluginType:   "regex",
		RegexPattern: `^\d{5}$`,
	}
}

func TestUpsertCreatesThenSkipsUnchanged(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	m := registry.NewManager(api, registry.Options{Logger: quietLogger()})
	ctx := context.Background()

	created, err := m.Upsert(ctx, zipType())
	require.NoError(t, err)
	require.True(t, created)

	// Same definition again: the cached entry matches, so no second write.
	created, err = m.Upsert(ctx, zipType())
	require.NoError(t, err)
	require.False(t, created)

	require.Equal(t, []string{"ZIP"}, api.posts)
	require.Empty(t, api.puts)
	require.Equal(t, 1, api.lists, "cache should be refreshed once per cycle")
}

func TestUpsertUpdatesChangedType(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{
		types: []map[string]any{{
			"semanticType": "ZIP",
			"pluginType":   "regex",
			"baseType":     "LONG",
			"threshold":    float64(90),
			"priority":     float64(1000),
			"validLocales": []any{map[string]any{
				"localeTag":    "*",
				"matchEntries": []any{map[string]any{"regExpReturned": `^\d{5}$`, "isRegExpComplete": true}},
			}},
		}},
	}
	m := registry.NewManager(api, registry.Options{Logger: quietLogger()})

	// Candidate has threshold 95, existing has 90: a PUT must happen.
	created, err := m.Upsert(context.Background(), zipType())
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, []string{"ZIP"}, api.puts)
	require.Empty(t, api.posts)
}

func TestUpsertPostConflictFallsBackToPut(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{postErr: &classify.HTTPError{Op: "createSemanticType", StatusCode: http.StatusConflict}}
	m := registry.NewManager(api, registry.Options{Logger: quietLogger()})

	created, err := m.Upsert(context.Background(), zipType())
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, []string{"ZIP"}, api.posts)
	require.Equal(t, []string{"ZIP"}, api.puts)
}

func TestUpsertPutNotFoundFallsBackToPost(t *testing.T) {
	t.Parallel()

	existing := map[string]any{
		"semanticType": "ZIP",
		"pluginType":   "regex",
		"threshold":    float64(80),
	}
	api := &fakeAPI{
		types:  []map[string]any{existing},
		putErr: &classify.HTTPError{Op: "updateSemanticType", StatusCode: http.StatusNotFound},
	}
	m := registry.NewManager(api, registry.Options{Logger: quietLogger()})

	created, err := m.Upsert(context.Background(), zipType())
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, []string{"ZIP"}, api.puts)
	require.Equal(t, []string{"ZIP"}, api.posts)
}

func TestUpsertRejectsJavaPlugin(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	m := registry.NewManager(api, registry.Options{Logger: quietLogger()})

	gt := zipType()
	gt.PluginType = "java"
	created, err := m.Upsert(context.Background(), gt)
	require.False(t, created)
	var ve *registry.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Empty(t, api.posts)
	require.Empty(t, api.puts)
}

func TestUpsertRejectsMissingRequiredFields(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	m := registry.NewManager(api, registry.Options{Logger: quietLogger()})

	gt := zipType()
	gt.Description = ""
	_, err := m.Upsert(context.Background(), gt)
	var ve *registry.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Contains(t, ve.Reason, "description")
}

func TestUpsertNameFilter(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	m := registry.NewManager(api, registry.Options{
		Logger:     quietLogger(),
		NameFilter: regexp.MustCompile(`^CUSTOM_`),
	})

	created, err := m.Upsert(context.Background(), zipType())
	require.False(t, created)
	var ve *registry.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Empty(t, api.posts)
}

func TestUpsertListWithoutBackoutNeverWrites(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	m := registry.NewManager(api, registry.Options{Logger: quietLogger()})

	created, err := m.Upsert(context.Background(), registry.GeneratedType{
		SemanticType: "US_STATE",
		Description:  "states",
		PluginType:   "list",
		ListValues:   []string{"CA", "NY"},
	})
	require.False(t, created)
	var ve *registry.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Empty(t, api.posts)
	require.Empty(t, api.puts)
}

func TestUpsertDryRunNeverWrites(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	m := registry.NewManager(api, registry.Options{Logger: quietLogger(), DryRun: true})

	created, err := m.Upsert(context.Background(), zipType())
	require.NoError(t, err)
	require.False(t, created)
	require.Empty(t, api.posts)
}

func TestUpsertThresholdResolution(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	m := registry.NewManager(api, registry.Options{Logger: quietLogger()})

	gt := zipType()
	gt.ConfidenceThreshold = fptr(0.5) // below the floor once scaled: safe default applies
	created, err := m.Upsert(context.Background(), gt)
	require.NoError(t, err)
	require.True(t, created)
}

func TestClearSessionScope(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{
		deleteErr: map[string]error{
			"GONE": &classify.HTTPError{Op: "deleteSemanticType", StatusCode: http.StatusNotFound},
		},
	}
	m := registry.NewManager(api, registry.Options{Logger: quietLogger()})
	ctx := context.Background()

	gone := zipType()
	gone.SemanticType = "GONE"
	_, err := m.Upsert(ctx, zipType())
	require.NoError(t, err)
	_, err = m.Upsert(ctx, gone)
	require.NoError(t, err)

	require.NoError(t, m.Clear(ctx, registry.ScopeSession))
	require.ElementsMatch(t, []string{"ZIP", "GONE"}, api.deletes)
	require.Empty(t, m.SessionCreated())

	// Second clear is a no-op.
	require.NoError(t, m.Clear(ctx, registry.ScopeSession))
	require.Len(t, api.deletes, 2)
}

func TestClearAllScope(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{
		types: []map[string]any{
			{"semanticType": "A"},
			{"semanticType": "B"},
			{"noName": true},
		},
	}
	m := registry.NewManager(api, registry.Options{Logger: quietLogger()})

	require.NoError(t, m.Clear(context.Background(), registry.ScopeAll))
	require.ElementsMatch(t, []string{"A", "B"}, api.deletes)
}
