// Package classify is a minimal HTTP client for the column classification
// service: table profiling plus the semantic-type registry endpoints.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/typegauge/typegauge/pkg/dataset"
)

// ProfileError reports a failed or timed-out profiling call.
type ProfileError struct {
	Table   string
	Timeout bool
	Err     error
}

func (e *ProfileError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("profiling timed out for %s: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("profiling failed for %s: %v", e.Table, e.Err)
}

func (e *ProfileError) Unwrap() error { return e.Err }

// Config controls request shaping for the classification service.
type Config struct {
	// BaseURL is the service root, e.g. "http://localhost:8081/api".
	BaseURL string
	Token   string

	// MaxColumns and MaxRows cap the profiling request size. Unbounded
	// disables both caps for full-data runs.
	MaxColumns int
	MaxRows    int
	Unbounded  bool

	// ProfileTimeout bounds one profiling call. Large tables can take
	// minutes; registry calls use RegistryTimeout instead.
	ProfileTimeout time.Duration

	// RegistryTimeout bounds one registry call (list/create/update/delete/reload).
	RegistryTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxColumns <= 0 {
		c.MaxColumns = 300
	}
	if c.MaxRows <= 0 {
		c.MaxRows = 1000
	}
	if c.ProfileTimeout <= 0 {
		c.ProfileTimeout = 5 * time.Minute
	}
	if c.RegistryTimeout <= 0 {
		c.RegistryTimeout = 30 * time.Second
	}
	return c
}

// Client talks to one classification service instance.
type Client struct {
	baseURL *url.URL
	token   string
	cfg     Config
	http    *http.Client
}

// NewClient constructs a client for the service base URL.
func NewClient(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	base, err := parseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: base,
		token:   strings.TrimSpace(cfg.Token),
		cfg:     cfg,
		// Deadlines come from per-call contexts: profiling runs for
		// minutes while registry calls stay short.
		http: &http.Client{},
	}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("service base URL is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse service base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("service base URL must include a host (got %q)", raw)
	}
	// Ensure the base path ends with a slash so ResolveReference treats it as a directory.
	u.Path = strings.TrimRight(u.Path, "/") + "/"
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// Prediction is the normalized per-column classification result.
type Prediction struct {
	SemanticType string
	Confidence   float64
}

// Predictions maps column name to its classification.
type Predictions map[string]Prediction

// ProfileRequest describes one profiling call.
type ProfileRequest struct {
	TableName string
	Columns   []string
	Rows      []dataset.Row

	// CustomOnly restricts classification to registered custom types.
	CustomOnly bool
}

type profileWireRequest struct {
	TableName         string               `json:"table_name"`
	Columns           []string             `json:"columns"`
	Data              []map[string]*string `json:"data"`
	MaxSamples        int                  `json:"max_samples"`
	IncludeStatistics bool                 `json:"include_statistics"`
	CustomOnly        bool                 `json:"custom_only"`
}

// ProfileTable classifies the table's columns. Column and row caps are
// applied before the call unless the client is configured unbounded.
func (c *Client) ProfileTable(ctx context.Context, req ProfileRequest) (Predictions, error) {
	columns := req.Columns
	rows := req.Rows
	if !c.cfg.Unbounded {
		if len(columns) > c.cfg.MaxColumns {
			columns = columns[:c.cfg.MaxColumns]
		}
		if len(rows) > c.cfg.MaxRows {
			rows = rows[:c.cfg.MaxRows]
		}
	}

	keep := make(map[string]bool, len(columns))
	for _, col := range columns {
		keep[col] = true
	}
	data := make([]map[string]*string, 0, len(rows))
	for _, row := range rows {
		rec := make(map[string]*string, len(columns))
		for col, v := range row {
			if keep[col] {
				rec[col] = v
			}
		}
		data = append(data, rec)
	}

	wire := profileWireRequest{
		TableName:         req.TableName,
		Columns:           columns,
		Data:              data,
		MaxSamples:        len(data),
		IncludeStatistics: false,
		CustomOnly:        req.CustomOnly,
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, &ProfileError{Table: req.TableName, Err: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.ProfileTimeout)
	defer cancel()

	b, err := c.do(reqCtx, http.MethodPost, "classify/table", body, "profileTable")
	if err != nil {
		if isTimeout(err) {
			return nil, &ProfileError{Table: req.TableName, Timeout: true, Err: err}
		}
		return nil, &ProfileError{Table: req.TableName, Err: err}
	}

	preds, err := parsePredictions(b)
	if err != nil {
		return nil, &ProfileError{Table: req.TableName, Err: err}
	}
	return preds, nil
}

// SemanticTypes lists custom (non-built-in) registry entries.
func (c *Client) SemanticTypes(ctx context.Context) ([]map[string]any, error) {
	b, err := c.doRegistry(ctx, http.MethodGet, "semantic-types/custom-only", nil, "listSemanticTypes")
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("parse semantic types response: %w", err)
	}
	return out, nil
}

// PostSemanticType creates a registry entry.
func (c *Client) PostSemanticType(ctx context.Context, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = c.doRegistry(ctx, http.MethodPost, "semantic-types", b, "createSemanticType")
	return err
}

// PutSemanticType updates the named registry entry.
func (c *Client) PutSemanticType(ctx context.Context, name string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = c.doRegistry(ctx, http.MethodPut, "semantic-types/"+url.PathEscape(name), b, "updateSemanticType")
	return err
}

// DeleteSemanticType removes the named registry entry.
func (c *Client) DeleteSemanticType(ctx context.Context, name string) error {
	_, err := c.doRegistry(ctx, http.MethodDelete, "semantic-types/"+url.PathEscape(name), nil, "deleteSemanticType")
	return err
}

// ReloadSemanticTypes asks the service to rebuild its classifier set after
// registry mutations.
func (c *Client) ReloadSemanticTypes(ctx context.Context) error {
	_, err := c.doRegistry(ctx, http.MethodPost, "semantic-types/reload", nil, "reloadSemanticTypes")
	return err
}

func (c *Client) doRegistry(ctx context.Context, method, relPath string, body []byte, op string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RegistryTimeout)
	defer cancel()
	return c.do(reqCtx, method, relPath, body, op)
}

func (c *Client) do(ctx context.Context, method, relPath string, body []byte, op string) ([]byte, error) {
	u := c.resolve(relPath)

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, newHTTPError(op, resp, b)
	}
	return b, nil
}

func (c *Client) resolve(relPath string) *url.URL {
	relPath = strings.TrimPrefix(relPath, "/")
	rel := &url.URL{Path: relPath}
	return c.baseURL.ResolveReference(rel)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// parsePredictions normalizes the two response shapes the service emits:
// a column-keyed mapping under "column_classifications", or a list of row
// objects under "columns" with snake_case or camelCase keys.
func parsePredictions(body []byte) (Predictions, error) {
	var top map[string]any
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, err
	}

	if cc, ok := top["column_classifications"].(map[string]any); ok {
		out := make(Predictions, len(cc))
		for col, v := range cc {
			rec, ok := v.(map[string]any)
			if !ok {
				continue
			}
			out[col] = predictionFromRecord(rec)
		}
		return out, nil
	}

	if cols, ok := top["columns"].([]any); ok {
		out := make(Predictions, len(cols))
		for _, v := range cols {
			rec, ok := v.(map[string]any)
			if !ok {
				continue
			}
			name := stringField(rec, "column_name", "columnName", "name")
			if name == "" {
				continue
			}
			out[name] = predictionFromRecord(rec)
		}
		return out, nil
	}

	return nil, fmt.Errorf("predictions payload missing column_classifications or columns structure")
}

func predictionFromRecord(rec map[string]any) Prediction {
	p := Prediction{
		SemanticType: stringField(rec, "semantic_type", "semanticType"),
	}
	for _, key := range []string{"confidence", "score"} {
		if f, ok := rec[key].(float64); ok {
			p.Confidence = f
			break
		}
	}
	return p
}

func stringField(rec map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := rec[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
