package gemini

import (
	"errors"
	"strings"
	"testing"

	"github.com/typegauge/typegauge/internal/gen"
	"github.com/typegauge/typegauge/pkg/worker"
	"google.golang.org/genai"
)

type tempNetErr struct{}

func (tempNetErr) Error() string   { return "temp net err" }
func (tempNetErr) Timeout() bool   { return false }
func (tempNetErr) Temporary() bool { return true }

func TestClassifyErr(t *testing.T) {
	tests := []struct {
		name          string
		in            error
		wantTransient bool
	}{
		{name: "nil", in: nil, wantTransient: false},
		{name: "api_429", in: genai.APIError{Code: 429}, wantTransient: true},
		{name: "api_503", in: genai.APIError{Code: 503}, wantTransient: true},
		{name: "api_400", in: genai.APIError{Code: 400}, wantTransient: false},
		{name: "net_temporary", in: tempNetErr{}, wantTransient: true},
		{name: "wrapped_api_429", in: errors.New(genai.APIError{Code: 429}.Error()), wantTransient: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyErr(tt.in)
			var te *worker.TransientError
			isTransient := errors.As(got, &te)
			if isTransient != tt.wantTransient {
				t.Fatalf("transient=%v want=%v (err=%T %v)", isTransient, tt.wantTransient, got, got)
			}
		})
	}
}

func TestBuildPromptIncludesEvidence(t *testing.T) {
	prompt := buildPrompt(gen.Request{
		Column:           "emp",
		Description:      "employee ids prefixed with E",
		Samples:          []string{"E-1234", "E-5678"},
		PositiveExamples: []string{"E-9999"},
		NegativeExamples: []string{"1234"},
	})

	for _, want := range []string{
		"Column: emp",
		"employee ids prefixed with E",
		"E-1234",
		"Must match",
		"E-9999",
		"Must NOT match",
		"- 1234",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}
