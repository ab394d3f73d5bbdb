package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func fptr(f float64) *float64 { return &f }
func iptr(i int) *int         { return &i }

func TestResolveThresholdClamps(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   *float64
		want int
	}{
		{"missing defaults", nil, 95},
		{"fraction scales", fptr(0.88), 88},
		{"fraction below floor defaults", fptr(0.5), 95},
		{"absolute kept", fptr(88), 88},
		{"above ceiling clamps", fptr(120), 100},
		{"below floor defaults", fptr(42), 95},
		// Historical quirk: exactly 1.0 reads as a fraction, so 100%.
		{"exactly one scales to hundred", fptr(1.0), 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, resolveThreshold(tc.in))
		})
	}
}

func TestBuildPayloadRegex(t *testing.T) {
	t.Parallel()

	p, err := BuildPayload(GeneratedType{
		SemanticType: "ZIP_CODE",
		Description:  "US zip codes",
		PluginType:   "regex",
		RegexPattern: `^\d{5}$`,
	})
	require.NoError(t, err)

	require.Equal(t, "LONG", p.BaseType)
	require.Equal(t, 95, p.Threshold)
	require.Equal(t, 1000, p.Priority)
	require.Len(t, p.ValidLocales, 1)
	require.Equal(t, "*", p.ValidLocales[0].LocaleTag)
	require.Equal(t, []MatchEntry{{RegExpReturned: `^\d{5}$`, IsRegExpComplete: true}}, p.ValidLocales[0].MatchEntries)
}

func TestBuildPayloadRegexAlphaIsString(t *testing.T) {
	t.Parallel()

	p, err := BuildPayload(GeneratedType{
		SemanticType: "STATE",
		Description:  "state codes",
		PluginType:   "regex",
		RegexPattern: `^[A-Z]{2}$`,
	})
	require.NoError(t, err)
	require.Equal(t, "STRING", p.BaseType)
}

func TestBuildPayloadListDedupesAndUppercases(t *testing.T) {
	t.Parallel()

	p, err := BuildPayload(GeneratedType{
		SemanticType: "US_STATE",
		Description:  "states",
		PluginType:   "list",
		ListValues:   []string{"ca", "CA", " ny ", "", "Ca"},
		Backout:      `\p{IsAlphabetic}{2}`,
	})
	require.NoError(t, err)
	require.NotNil(t, p.Content)
	require.Equal(t, "inline", p.Content.Type)
	require.Equal(t, []string{"CA", "NY"}, p.Content.Values)
	require.Equal(t, `\p{IsAlphabetic}{2}`, p.Backout)
	require.Equal(t, "STRING", p.BaseType)
}

func TestBuildPayloadListAllDigitsIsLong(t *testing.T) {
	t.Parallel()

	p, err := BuildPayload(GeneratedType{
		SemanticType: "AREA",
		Description:  "area codes",
		PluginType:   "list",
		ListValues:   []string{"415", "510"},
		Backout:      `\d{3}`,
	})
	require.NoError(t, err)
	require.Equal(t, "LONG", p.BaseType)
}

func TestBuildPayloadListRequiresBackout(t *testing.T) {
	t.Parallel()

	_, err := BuildPayload(GeneratedType{
		SemanticType: "US_STATE",
		Description:  "states",
		PluginType:   "list",
		ListValues:   []string{"CA", "NY"},
	})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Contains(t, ve.Reason, "backout")
}

func TestBuildPayloadRegexRequiresPattern(t *testing.T) {
	t.Parallel()

	_, err := BuildPayload(GeneratedType{
		SemanticType: "ZIP",
		Description:  "zips",
		PluginType:   "regex",
	})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
}

func TestBuildPayloadHeaderPatterns(t *testing.T) {
	t.Parallel()

	p, err := BuildPayload(GeneratedType{
		SemanticType: "EMAIL_ADDR",
		Description:  "emails",
		PluginType:   "regex",
		RegexPattern: `.+@.+`,
		HeaderPatterns: []HeaderPattern{
			{RegExp: "(?i)email"},
			{RegExp: "(?i)e_mail", Confidence: iptr(80), Mandatory: true},
			{RegExp: "   "},
		},
	})
	require.NoError(t, err)
	require.Equal(t, []HeaderRegExp{
		{RegExp: "(?i)email", Confidence: 95},
		{RegExp: "(?i)e_mail", Confidence: 80, Mandatory: true},
	}, p.ValidLocales[0].HeaderRegExps)
}

func TestBuildPayloadExplicitBaseType(t *testing.T) {
	t.Parallel()

	p, err := BuildPayload(GeneratedType{
		SemanticType:        "AGE",
		Description:         "ages",
		PluginType:          "regex",
		RegexPattern:        `\d{1,3}`,
		BaseType:            "string",
		ConfidenceThreshold: fptr(0.9),
		Priority:            iptr(500),
	})
	require.NoError(t, err)
	require.Equal(t, "STRING", p.BaseType)
	require.Equal(t, 90, p.Threshold)
	require.Equal(t, 500, p.Priority)
}

func TestSameTypeNormalizesShapeNoise(t *testing.T) {
	t.Parallel()

	p, err := BuildPayload(GeneratedType{
		SemanticType: "ZIP",
		Description:  "zips",
		PluginType:   "regex",
		RegexPattern: `^\d{5}$`,
	})
	require.NoError(t, err)

	// Service responses carry extra fields, float numbers, and implicit
	// defaults; none of that should defeat the diff.
	existing := map[string]any{
		"semanticType": "ZIP",
		"description":  "a stale description is ignored",
		"pluginType":   "regex",
		"baseType":     "LONG",
		"threshold":    float64(95),
		"priority":     float64(1000),
		"createdBy":    "someone-else",
		"validLocales": []any{
			map[string]any{
				"localeTag": "*",
				"matchEntries": []any{
					map[string]any{"regExpReturned": `^\d{5}$`},
				},
			},
		},
	}
	require.True(t, sameType(existing, p))

	existing["threshold"] = float64(90)
	require.False(t, sameType(existing, p))
}
