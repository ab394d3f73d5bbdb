package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/typegauge/typegauge/pkg/classify"
	"github.com/typegauge/typegauge/pkg/worker"
)

// API is the registry surface the manager drives. *classify.Client
// satisfies it.
type API interface {
	SemanticTypes(ctx context.Context) ([]map[string]any, error)
	PostSemanticType(ctx context.Context, payload any) error
	PutSemanticType(ctx context.Context, name string, payload any) error
	DeleteSemanticType(ctx context.Context, name string) error
	ReloadSemanticTypes(ctx context.Context) error
}

// Scope selects which registry entries a Clear call removes.
type Scope int

const (
	// ScopeSession removes only the entries this manager created.
	ScopeSession Scope = iota
	// ScopeAll removes every custom (non-built-in) entry.
	ScopeAll
)

// Options configures a Manager.
type Options struct {
	// NameFilter, when set, rejects generated types whose name does not
	// match.
	NameFilter *regexp.Regexp

	// DryRun validates and diffs without writing.
	DryRun bool

	// WriteRetries is the number of extra attempts for transport-level
	// write failures.
	WriteRetries int

	Logger *log.Logger
}

// Manager owns the lifecycle of generated types in the registry. The
// existing-entry cache is lazy: loaded on first upsert and invalidated once
// per clear cycle. Callers must not run Upsert concurrently with Clear.
type Manager struct {
	api  API
	opts Options

	cache   map[string]map[string]any
	created map[string]bool
}

// NewManager builds a Manager over the given registry API.
func NewManager(api API, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.WriteRetries <= 0 {
		opts.WriteRetries = 2
	}
	return &Manager{
		api:     api,
		opts:    opts,
		created: make(map[string]bool),
	}
}

// Upsert registers one generated type. It returns true when a write
// happened, false when the type was skipped (validation failure, unchanged
// payload, or dry run). Validation failures come back as *ValidationError
// so callers can count them without aborting the batch.
func (m *Manager) Upsert(ctx context.Context, gt GeneratedType) (bool, error) {
	if err := m.validate(gt); err != nil {
		return false, err
	}

	payload, err := BuildPayload(gt)
	if err != nil {
		return false, err
	}

	if m.cache == nil {
		m.refreshCache(ctx)
	}

	name := payload.SemanticType
	existing, exists := m.cache[name]
	if exists && sameType(existing, payload) {
		m.opts.Logger.Printf("registry: skipping unchanged type %s", name)
		return false, nil
	}

	if m.opts.DryRun {
		verb := "create"
		if exists {
			verb = "update"
		}
		m.opts.Logger.Printf("registry: dry-run, would %s %s", verb, name)
		return false, nil
	}

	// Session-only entry: the service must not persist it durably.
	payload.Ephemeral = true

	if err := m.write(ctx, payload, exists); err != nil {
		return false, &WriteError{Name: name, Err: err}
	}

	m.created[name] = true
	if stored, err := toMap(payload); err == nil {
		m.cache[name] = stored
	}
	m.opts.Logger.Printf("registry: upserted type %s plugin=%s threshold=%d", name, payload.PluginType, payload.Threshold)
	return true, nil
}

func (m *Manager) validate(gt GeneratedType) error {
	name := strings.TrimSpace(gt.SemanticType)
	if m.opts.NameFilter != nil && !m.opts.NameFilter.MatchString(name) {
		return &ValidationError{Name: name, Reason: "name does not match filter"}
	}
	if gt.PluginType == "java" {
		return &ValidationError{Name: name, Reason: "java plugin type not supported"}
	}
	if name == "" {
		return &ValidationError{Reason: "missing required field semanticType"}
	}
	if strings.TrimSpace(gt.Description) == "" {
		return &ValidationError{Name: name, Reason: "missing required field description"}
	}
	if strings.TrimSpace(gt.PluginType) == "" {
		return &ValidationError{Name: name, Reason: "missing required field pluginType"}
	}
	return nil
}

// write performs the create/update protocol: PUT when the name exists, POST
// otherwise, swapping method once on 404/409. Transport-level failures are
// retried with bounded exponential backoff.
func (m *Manager) write(ctx context.Context, payload *Payload, exists bool) error {
	name := payload.SemanticType

	attempt := func(ctx context.Context) error {
		var err error
		if exists {
			err = m.api.PutSemanticType(ctx, name, payload)
			if isStatus(err, http.StatusNotFound) {
				m.opts.Logger.Printf("registry: update of %s got 404, retrying as create", name)
				err = m.api.PostSemanticType(ctx, payload)
			}
		} else {
			err = m.api.PostSemanticType(ctx, payload)
			if isStatus(err, http.StatusConflict) {
				m.opts.Logger.Printf("registry: create of %s got 409, retrying as update", name)
				err = m.api.PutSemanticType(ctx, name, payload)
			}
		}
		return err
	}

	backoff := 200 * time.Millisecond
	var lastErr error
	for i := 0; i <= m.opts.WriteRetries; i++ {
		lastErr = attempt(ctx)
		if lastErr == nil {
			return nil
		}
		var he *classify.HTTPError
		if errors.As(lastErr, &he) && !worker.IsTransient(lastErr) {
			// Protocol-level rejection; retrying the same payload will not help.
			return lastErr
		}
		if i == m.opts.WriteRetries {
			break
		}
		t := time.NewTimer(backoff)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	return lastErr
}

// Clear removes registry entries in the given scope, tolerating entries
// that are already gone. Delete failures are logged and counted, never
// fatal. The cache is invalidated so the next upsert cycle refreshes it.
func (m *Manager) Clear(ctx context.Context, scope Scope) error {
	defer m.InvalidateCache()

	switch scope {
	case ScopeSession:
		if len(m.created) == 0 {
			m.opts.Logger.Printf("registry: no session-created types to clear")
			return nil
		}
		m.opts.Logger.Printf("registry: clearing %d session-created types", len(m.created))
		for name := range m.created {
			m.deleteOne(ctx, name)
		}
		m.created = make(map[string]bool)
		return nil

	case ScopeAll:
		types, err := m.api.SemanticTypes(ctx)
		if err != nil {
			return fmt.Errorf("list custom types for clearing: %w", err)
		}
		deleted, missing, failed := 0, 0, 0
		for _, t := range types {
			name, _ := t["semanticType"].(string)
			if strings.TrimSpace(name) == "" {
				continue
			}
			switch m.deleteOne(ctx, name) {
			case deleteOK:
				deleted++
			case deleteMissing:
				missing++
			default:
				failed++
			}
		}
		m.created = make(map[string]bool)
		m.opts.Logger.Printf("registry: clear summary deleted=%d missing=%d failed=%d", deleted, missing, failed)
		return nil

	default:
		return fmt.Errorf("unknown clear scope %d", scope)
	}
}

type deleteOutcome int

const (
	deleteOK deleteOutcome = iota
	deleteMissing
	deleteFailed
)

func (m *Manager) deleteOne(ctx context.Context, name string) deleteOutcome {
	err := m.api.DeleteSemanticType(ctx, name)
	if err == nil {
		return deleteOK
	}
	if isStatus(err, http.StatusNotFound) {
		return deleteMissing
	}
	m.opts.Logger.Printf("registry: failed to delete %s: %v", name, err)
	return deleteFailed
}

// List fetches the custom (non-built-in) registry entries.
func (m *Manager) List(ctx context.Context) ([]map[string]any, error) {
	return m.api.SemanticTypes(ctx)
}

// SessionCreated returns the names created during this session.
func (m *Manager) SessionCreated() []string {
	out := make([]string, 0, len(m.created))
	for name := range m.created {
		out = append(out, name)
	}
	return out
}

// InvalidateCache drops the existing-entry cache; the next Upsert refreshes it.
func (m *Manager) InvalidateCache() {
	m.cache = nil
}

func (m *Manager) refreshCache(ctx context.Context) {
	m.cache = make(map[string]map[string]any)
	types, err := m.api.SemanticTypes(ctx)
	if err != nil {
		m.opts.Logger.Printf("registry: failed to fetch existing types: %v", err)
		return
	}
	for _, t := range types {
		if name, _ := t["semanticType"].(string); name != "" {
			m.cache[name] = t
		}
	}
}

func isStatus(err error, code int) bool {
	var he *classify.HTTPError
	return errors.As(err, &he) && he.StatusCode == code
}
