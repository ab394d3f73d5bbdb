// Package mockclassify implements an in-memory stand-in for the
// classification service: table profiling over registered semantic types
// plus the registry CRUD and reload endpoints. It backs package tests and
// the mock-classifier binary.
package mockclassify

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Call records a request made to the mock service.
type Call struct {
	Method string
	Path   string
}

// builtin is one always-available classifier used when custom_only=false.
type builtin struct {
	name    string
	pattern *regexp.Regexp
}

var builtins = []builtin{
	{"EMAIL", regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)},
	{"URI.URL", regexp.MustCompile(`^https?://\S+$`)},
	{"POSTAL_CODE.ZIP5_US", regexp.MustCompile(`^\d{5}$`)},
}

type storedType struct {
	payload map[string]any

	pluginType string
	threshold  float64
	regex      *regexp.Regexp
	values     map[string]bool
	backout    *regexp.Regexp
}

// Server is the in-memory mock classification service.
type Server struct {
	mu      sync.Mutex
	types   map[string]storedType
	calls   []Call
	reloads int

	expectedAuthorization string
}

// New constructs an empty mock server.
func New() *Server {
	return &Server{types: make(map[string]storedType)}
}

// RequireBearerToken enforces that requests carry the given bearer token.
// An empty token disables the check.
func (s *Server) RequireBearerToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token = strings.TrimSpace(token)
	if token == "" {
		s.expectedAuthorization = ""
		return
	}
	s.expectedAuthorization = "Bearer " + token
}

// Handler returns an http.Handler serving the mock API under /api/.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/classify/table", s.handleClassifyTable)
	mux.HandleFunc("/api/semantic-types", s.handleTypes)
	mux.HandleFunc("/api/semantic-types/", s.handleTypeByName)
	return mux
}

// Calls returns a snapshot of requests made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Reloads returns how many reload requests the server has seen.
func (s *Server) Reloads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloads
}

// TypeNames returns the currently registered custom type names.
func (s *Server) TypeNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.types))
	for name := range s.types {
		out = append(out, name)
	}
	return out
}

func (s *Server) recordCall(r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path})
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	expected := s.expectedAuthorization
	s.mu.Unlock()

	if expected == "" {
		return true
	}
	if r.Header.Get("Authorization") != expected {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

type classifyRequest struct {
	TableName  string               `json:"table_name"`
	Columns    []string             `json:"columns"`
	Data       []map[string]*string `json:"data"`
	CustomOnly bool                 `json:"custom_only"`
}

func (s *Server) handleClassifyTable(w http.ResponseWriter, r *http.Request) {
	s.recordCall(r)
	if !s.authorize(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "parse classify request: "+err.Error())
		return
	}

	classifications := make(map[string]map[string]any, len(req.Columns))
	for _, col := range req.Columns {
		values := columnValues(req.Data, col)
		name, confidence := s.classify(values, req.CustomOnly)
		classifications[col] = map[string]any{
			"semantic_type": name,
			"confidence":    confidence,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"request_id":             uuid.NewString(),
		"table_name":             req.TableName,
		"column_classifications": classifications,
	})
}

func columnValues(data []map[string]*string, col string) []string {
	var out []string
	for _, row := range data {
		if v, ok := row[col]; ok && v != nil && strings.TrimSpace(*v) != "" {
			out = append(out, strings.TrimSpace(*v))
		}
	}
	return out
}

// classify picks the first type whose match ratio over non-null values
// clears its threshold. Custom types win over builtins.
func (s *Server) classify(values []string, customOnly bool) (string, float64) {
	if len(values) == 0 {
		return "NONE", 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bestName := "NONE"
	bestRatio := 0.0
	for name, st := range s.types {
		ratio := st.matchRatio(values)
		if ratio*100 >= st.threshold && ratio > bestRatio {
			bestName = name
			bestRatio = ratio
		}
	}
	if bestName != "NONE" {
		return bestName, bestRatio * 100
	}

	if !customOnly {
		for _, b := range builtins {
			matched := 0
			for _, v := range values {
				if b.pattern.MatchString(v) {
					matched++
				}
			}
			ratio := float64(matched) / float64(len(values))
			if ratio >= 0.95 {
				return b.name, ratio * 100
			}
		}
	}
	return "NONE", 0
}

func (st storedType) matchRatio(values []string) float64 {
	matched := 0
	for _, v := range values {
		switch st.pluginType {
		case "regex":
			if st.regex != nil && st.regex.MatchString(v) {
				matched++
			}
		case "list":
			if st.values[strings.ToUpper(v)] {
				matched++
			} else if st.backout != nil && st.backout.MatchString(v) {
				matched++
			}
		}
	}
	return float64(matched) / float64(len(values))
}

func (s *Server) handleTypes(w http.ResponseWriter, r *http.Request) {
	s.recordCall(r)
	if !s.authorize(w, r) {
		return
	}

	switch r.Method {
	case http.MethodPost:
		payload, name, ok := decodeTypePayload(w, r)
		if !ok {
			return
		}
		s.mu.Lock()
		_, exists := s.types[name]
		if exists {
			s.mu.Unlock()
			writeError(w, http.StatusConflict, "semantic type already exists: "+name)
			return
		}
		s.types[name] = compileType(payload)
		s.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleTypeByName(w http.ResponseWriter, r *http.Request) {
	s.recordCall(r)
	if !s.authorize(w, r) {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/semantic-types/")
	if rest == "custom-only" {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.serveCustomOnly(w)
		return
	}
	if rest == "reload" {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.mu.Lock()
		s.reloads++
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		return
	}

	name := rest
	if name == "" || strings.Contains(name, "/") {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodPut:
		payload, payloadName, ok := decodeTypePayload(w, r)
		if !ok {
			return
		}
		if payloadName != name {
			writeError(w, http.StatusBadRequest, "payload name does not match path")
			return
		}
		s.mu.Lock()
		_, exists := s.types[name]
		if !exists {
			s.mu.Unlock()
			writeError(w, http.StatusNotFound, "semantic type not found: "+name)
			return
		}
		s.types[name] = compileType(payload)
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)

	case http.MethodDelete:
		s.mu.Lock()
		_, exists := s.types[name]
		if !exists {
			s.mu.Unlock()
			writeError(w, http.StatusNotFound, "semantic type not found: "+name)
			return
		}
		delete(s.types, name)
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) serveCustomOnly(w http.ResponseWriter) {
	s.mu.Lock()
	out := make([]map[string]any, 0, len(s.types))
	for _, st := range s.types {
		out = append(out, st.payload)
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func decodeTypePayload(w http.ResponseWriter, r *http.Request) (map[string]any, string, bool) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "parse semantic type payload: "+err.Error())
		return nil, "", false
	}
	name, _ := payload["semanticType"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "semanticType is required")
		return nil, "", false
	}
	return payload, name, true
}

// compileType pre-compiles the matchers a payload defines. Invalid patterns
// simply never match; the real service is similarly permissive at write time.
func compileType(payload map[string]any) storedType {
	st := storedType{payload: payload, threshold: 95}

	if pt, ok := payload["pluginType"].(string); ok {
		st.pluginType = pt
	}
	if th, ok := payload["threshold"].(float64); ok {
		st.threshold = th
	}

	if locales, ok := payload["validLocales"].([]any); ok && len(locales) > 0 {
		if loc, ok := locales[0].(map[string]any); ok {
			if entries, ok := loc["matchEntries"].([]any); ok && len(entries) > 0 {
				if entry, ok := entries[0].(map[string]any); ok {
					if pattern, ok := entry["regExpReturned"].(string); ok {
						st.regex, _ = regexp.Compile(pattern)
					}
				}
			}
		}
	}

	if content, ok := payload["content"].(map[string]any); ok {
		if values, ok := content["values"].([]any); ok {
			st.values = make(map[string]bool, len(values))
			for _, v := range values {
				if sv, ok := v.(string); ok {
					st.values[strings.ToUpper(sv)] = true
				}
			}
		}
	}
	if backout, ok := payload["backout"].(string); ok && backout != "" {
		st.backout, _ = regexp.Compile(backout)
	}

	return st
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
