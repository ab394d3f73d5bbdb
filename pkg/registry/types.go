// Package registry reconciles generated semantic-type definitions against
// the remote type registry: payload building, idempotent upserts, and
// scoped clearing.
package registry

import "fmt"

// GeneratedType is one candidate definition as emitted by the generator.
type GeneratedType struct {
	SemanticType string `json:"semanticType"`
	Description  string `json:"description"`
	PluginType   string `json:"pluginType"`
	BaseType     string `json:"baseType,omitempty"`
	Priority     *int   `json:"priority,omitempty"`
	ResultType   string `json:"resultType,omitempty"`

	// ConfidenceThreshold is either a fraction (<=1.0) or an absolute
	// percentage. Nil means the default.
	ConfidenceThreshold *float64 `json:"confidenceThreshold,omitempty"`

	// Regex plugin payload.
	RegexPattern string `json:"regexPattern,omitempty"`

	// List plugin payload.
	ListValues []string `json:"listValues,omitempty"`
	Backout    string   `json:"backout,omitempty"`

	HeaderPatterns []HeaderPattern `json:"headerPatterns,omitempty"`
}

// HeaderPattern is a header-name matching hint on a generated type.
type HeaderPattern struct {
	RegExp     string `json:"regExp"`
	Confidence *int   `json:"confidence,omitempty"`
	Mandatory  bool   `json:"mandatory,omitempty"`
}

// ValidationError reports a generated type that failed structural checks.
// These are skipped and logged, never fatal to a batch.
type ValidationError struct {
	Name   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid generated type %q: %s", e.Name, e.Reason)
}

// WriteError reports a registry write that failed after fallback and retries.
type WriteError struct {
	Name string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("registry write failed for %q: %v", e.Name, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// MatchEntry is one regex match rule inside a locale.
type MatchEntry struct {
	RegExpReturned   string `json:"regExpReturned"`
	IsRegExpComplete bool   `json:"isRegExpComplete"`
}

// HeaderRegExp is one header matching rule inside a locale.
type HeaderRegExp struct {
	RegExp     string `json:"regExp"`
	Confidence int    `json:"confidence"`
	Mandatory  bool   `json:"mandatory"`
}

// Locale carries the per-locale rules. The registry contract uses a single
// wildcard locale for generated types.
type Locale struct {
	LocaleTag     string         `json:"localeTag"`
	MatchEntries  []MatchEntry   `json:"matchEntries,omitempty"`
	HeaderRegExps []HeaderRegExp `json:"headerRegExps,omitempty"`
}

// Content is the inline value set for list types.
type Content struct {
	Type   string   `json:"type"`
	Values []string `json:"values"`
}

// Payload is the canonical registry wire form of one semantic type.
type Payload struct {
	SemanticType string   `json:"semanticType"`
	Description  string   `json:"description"`
	PluginType   string   `json:"pluginType"`
	BaseType     string   `json:"baseType"`
	Threshold    int      `json:"threshold"`
	Priority     int      `json:"priority"`
	ValidLocales []Locale `json:"validLocales"`
	Content      *Content `json:"content,omitempty"`
	Backout      string   `json:"backout,omitempty"`

	// Ephemeral marks the entry session-only; the service must not persist
	// it durably.
	Ephemeral bool `json:"ephemeral,omitempty"`
}
