package registry

import (
	"encoding/json"
	"math"
	"strings"
)

const (
	defaultThreshold = 95
	defaultPriority  = 1000
	thresholdFloor   = 80
	thresholdCeil    = 100
)

// BuildPayload converts a validated GeneratedType into its registry wire
// form. Returns a ValidationError when the kind-specific payload is unusable.
func BuildPayload(gt GeneratedType) (*Payload, error) {
	p := &Payload{
		SemanticType: strings.TrimSpace(gt.SemanticType),
		Description:  strings.TrimSpace(gt.Description),
		PluginType:   gt.PluginType,
		BaseType:     determineBaseType(gt),
		Threshold:    resolveThreshold(gt.ConfidenceThreshold),
		Priority:     defaultPriority,
		ValidLocales: []Locale{{LocaleTag: "*"}},
	}
	if gt.Priority != nil {
		p.Priority = *gt.Priority
	}

	switch gt.PluginType {
	case "list":
		if err := addListContent(p, gt); err != nil {
			return nil, err
		}
	case "regex":
		if err := addRegexContent(p, gt); err != nil {
			return nil, err
		}
	}

	addHeaderPatterns(p, gt)
	return p, nil
}

// resolveThreshold normalizes a raw confidence value to the [80,100]
// registry range. A value <= 1.0 is read as a fraction and scaled; note
// this makes a literal 1.0 mean 100%, which is the historical behavior.
// Anything below 80 is treated as a sentinel for "too aggressive" and
// replaced with the safe default.
func resolveThreshold(raw *float64) int {
	t := defaultThreshold
	if raw != nil {
		if *raw <= 1.0 {
			t = int(math.Round(*raw * 100))
		} else {
			t = int(*raw)
		}
	}
	if t < thresholdFloor {
		t = defaultThreshold
	}
	if t > thresholdCeil {
		t = thresholdCeil
	}
	return t
}

// determineBaseType picks the base data type: an explicit one wins, then a
// numeric-looking regex or an all-digit value list infers LONG, else STRING.
func determineBaseType(gt GeneratedType) string {
	if bt := strings.TrimSpace(gt.BaseType); bt != "" {
		if strings.EqualFold(bt, "string") {
			return "STRING"
		}
		return bt
	}

	if gt.PluginType == "regex" {
		stripped := strings.NewReplacer("^", "", "$", "").Replace(gt.RegexPattern)
		numericLike := stripped != ""
		for _, ch := range stripped {
			if !strings.ContainsRune(`\d{}0123456789`, ch) {
				numericLike = false
				break
			}
		}
		if numericLike {
			return "LONG"
		}
		return "STRING"
	}

	if gt.PluginType == "list" && len(gt.ListValues) > 0 {
		allDigits := true
		for _, v := range gt.ListValues {
			if v == "" || !isDigits(v) {
				allDigits = false
				break
			}
		}
		if allDigits {
			return "LONG"
		}
	}

	return "STRING"
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return true
}

func addListContent(p *Payload, gt GeneratedType) error {
	if len(gt.ListValues) == 0 {
		return &ValidationError{Name: gt.SemanticType, Reason: "list type missing listValues"}
	}

	// Dedupe case-insensitively, keeping the upper-cased form.
	seen := make(map[string]bool, len(gt.ListValues))
	members := make([]string, 0, len(gt.ListValues))
	for _, v := range gt.ListValues {
		s := strings.TrimSpace(v)
		if s == "" {
			continue
		}
		u := strings.ToUpper(s)
		if seen[u] {
			continue
		}
		seen[u] = true
		members = append(members, u)
	}
	p.Content = &Content{Type: "inline", Values: members}

	backout := strings.TrimSpace(gt.Backout)
	if backout == "" {
		return &ValidationError{Name: gt.SemanticType, Reason: "list type missing backout pattern"}
	}
	p.Backout = backout
	return nil
}

func addRegexContent(p *Payload, gt GeneratedType) error {
	pattern := strings.TrimSpace(gt.RegexPattern)
	if pattern == "" {
		return &ValidationError{Name: gt.SemanticType, Reason: "regex type missing regexPattern"}
	}
	p.ValidLocales[0].MatchEntries = []MatchEntry{{
		RegExpReturned:   pattern,
		IsRegExpComplete: true,
	}}
	return nil
}

func addHeaderPatterns(p *Payload, gt GeneratedType) {
	var rules []HeaderRegExp
	for _, hp := range gt.HeaderPatterns {
		reg := strings.TrimSpace(hp.RegExp)
		if reg == "" {
			continue
		}
		confidence := defaultThreshold
		if hp.Confidence != nil {
			confidence = *hp.Confidence
		}
		rules = append(rules, HeaderRegExp{
			RegExp:     reg,
			Confidence: confidence,
			Mandatory:  hp.Mandatory,
		})
	}
	if len(rules) > 0 {
		p.ValidLocales[0].HeaderRegExps = rules
	}
}

// sameType reports whether an existing registry entry and a candidate
// payload are structurally identical after normalization. Only the fields
// that affect classification behavior are compared; key order and shape
// noise from the service are canonicalized away.
func sameType(existing map[string]any, candidate *Payload) bool {
	candMap, err := toMap(candidate)
	if err != nil {
		return false
	}
	a, errA := json.Marshal(normalizeType(existing))
	b, errB := json.Marshal(normalizeType(candMap))
	if errA != nil || errB != nil {
		return false
	}
	return string(a) == string(b)
}

func toMap(p *Payload) (map[string]any, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func normalizeType(t map[string]any) map[string]any {
	out := map[string]any{
		"pluginType": t["pluginType"],
		"baseType":   t["baseType"],
		"threshold":  asFloat(t["threshold"]),
		"priority":   asFloat(t["priority"]),
		"backout":    t["backout"],
	}

	var locales []map[string]any
	if raw, ok := t["validLocales"].([]any); ok {
		for _, lv := range raw {
			loc, ok := lv.(map[string]any)
			if !ok {
				continue
			}
			norm := map[string]any{
				"localeTag":     stringOr(loc["localeTag"], "*"),
				"headerRegExps": normalizeHeaderRules(loc["headerRegExps"]),
				"matchEntries":  normalizeMatchEntries(loc["matchEntries"]),
			}
			locales = append(locales, norm)
		}
	}
	out["validLocales"] = locales

	content := map[string]any{"type": nil, "values": nil}
	if c, ok := t["content"].(map[string]any); ok {
		content["type"] = c["type"]
		content["values"] = c["values"]
	}
	out["content"] = content

	return out
}

func normalizeHeaderRules(v any) []map[string]any {
	raw, ok := v.([]any)
	if !ok {
		return []map[string]any{}
	}
	out := make([]map[string]any, 0, len(raw))
	for _, hv := range raw {
		h, ok := hv.(map[string]any)
		if !ok {
			continue
		}
		confidence := float64(defaultThreshold)
		if f, ok := h["confidence"].(float64); ok {
			confidence = f
		}
		mandatory := false
		if b, ok := h["mandatory"].(bool); ok {
			mandatory = b
		}
		out = append(out, map[string]any{
			"regExp":     h["regExp"],
			"confidence": confidence,
			"mandatory":  mandatory,
		})
	}
	return out
}

func normalizeMatchEntries(v any) []map[string]any {
	raw, ok := v.([]any)
	if !ok {
		return []map[string]any{}
	}
	out := make([]map[string]any, 0, len(raw))
	for _, mv := range raw {
		m, ok := mv.(map[string]any)
		if !ok {
			continue
		}
		complete := true
		if b, ok := m["isRegExpComplete"].(bool); ok {
			complete = b
		}
		out = append(out, map[string]any{
			"regExpReturned":   m["regExpReturned"],
			"isRegExpComplete": complete,
		})
	}
	return out
}

func asFloat(v any) any {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return v
	}
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}
