// Package gemini generates candidate semantic-type definitions with the
// Gemini API, using structured JSON output constrained to the generated-type
// schema.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/typegauge/typegauge/internal/gen"
	"github.com/typegauge/typegauge/pkg/registry"
	"github.com/typegauge/typegauge/pkg/worker"
	"google.golang.org/genai"
)

type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string
}

type Generator struct {
	client *genai.Client
	model  string
}

func New(ctx context.Context, cfg Config) (*Generator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("GEMINI_MODEL is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	return &Generator{
		client: client,
		model:  strings.TrimSpace(cfg.Model),
	}, nil
}

var typeSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"semanticType":        {Type: genai.TypeString},
		"description":         {Type: genai.TypeString},
		"pluginType":          {Type: genai.TypeString},
		"baseType":            {Type: genai.TypeString},
		"confidenceThreshold": {Type: genai.TypeNumber},
		"regexPattern":        {Type: genai.TypeString},
		"listValues":          {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"backout":             {Type: genai.TypeString},
	},
	Required: []string{
		"semanticType",
		"description",
		"pluginType",
	},
}

// GenerateType asks the model for one candidate definition. The response is
// constrained to the generated-type JSON schema; missing identity fields are
// backfilled from the request.
func (g *Generator) GenerateType(ctx context.Context, req gen.Request) (registry.GeneratedType, error) {
	resp, err := g.client.Models.GenerateContent(
		ctx,
		g.model,
		genai.Text(buildPrompt(req)),
		&genai.GenerateContentConfig{
			CandidateCount:   1,
			ResponseMIMEType: "application/json",
			ResponseSchema:   typeSchema,
		},
	)
	if err != nil {
		return registry.GeneratedType{}, classifyErr(err)
	}

	var gt registry.GeneratedType
	if err := json.Unmarshal([]byte(resp.Text()), &gt); err != nil {
		return registry.GeneratedType{}, fmt.Errorf("gemini: parse structured json: %w", err)
	}
	if strings.TrimSpace(gt.SemanticType) == "" {
		gt.SemanticType = strings.ToUpper(strings.TrimSpace(req.Column))
	}
	if strings.TrimSpace(gt.Description) == "" {
		gt.Description = req.Description
	}
	return gt, nil
}

func buildPrompt(req gen.Request) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(`
You define semantic-type classifiers for tabular column data.

Return ONLY a single JSON object with these keys:
- semanticType (string; UPPER_SNAKE_CASE name)
- description (string)
- pluginType (string; "regex" or "list")
- baseType (string; "STRING" or "LONG", optional)
- confidenceThreshold (number; match percentage 80-100, optional)
- regexPattern (string; required when pluginType is "regex"; RE2-compatible, anchored with ^ and $)
- listValues (array of strings; required when pluginType is "list")
- backout (string; required when pluginType is "list"; fallback pattern for near-miss values)

Rules:
- Prefer "list" only for small closed vocabularies; otherwise use "regex".
- The pattern must match every positive example and sample, and none of the negative examples.
`))
	fmt.Fprintf(&b, "\n\nColumn: %s\nIntent: %s\n", req.Column, req.Description)
	writeValues(&b, "Sample values", req.Samples)
	writeValues(&b, "Must match", req.PositiveExamples)
	writeValues(&b, "Must NOT match", req.NegativeExamples)
	return b.String()
}

func writeValues(b *strings.Builder, label string, values []string) {
	if len(values) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", label)
	for _, v := range values {
		fmt.Fprintf(b, "- %s\n", v)
	}
}

func classifyErr(err error) error {
	// Wrap transient failures so the worker pool will retry with backoff.
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code/100 == 5 {
			return &worker.TransientError{Err: err}
		}
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && (ne.Timeout() || ne.Temporary()) {
		return &worker.TransientError{Err: err}
	}
	return err
}
