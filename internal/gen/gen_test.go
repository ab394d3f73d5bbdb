package gen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/typegauge/typegauge/pkg/dataset"
	"github.com/typegauge/typegauge/pkg/registry"
)

const inputsCSV = `name,Generation Description 1,Generation Description 2,Positive Examples,Negative Examples
emp,employee id codes,employee ids prefixed with E,E-1234;E-9999,1234;EMP
state,,two-letter US state codes,CA;NY,California
`

func TestParseInputs(t *testing.T) {
	t.Parallel()

	in, err := ParseInputs(strings.NewReader(inputsCSV), "inputs.csv")
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, in.DescriptionNumbers())

	ds := &dataset.Dataset{
		Headers: []string{"emp", "state", "unlisted"},
		Rows:    []dataset.Row{},
	}

	reqs := in.Requests(1, ds)
	require.Len(t, reqs, 1)
	require.Equal(t, "emp", reqs[0].Column)
	require.Equal(t, "employee id codes", reqs[0].Description)
	require.Equal(t, []string{"E-1234", "E-9999"}, reqs[0].PositiveExamples)
	require.Equal(t, []string{"1234", "EMP"}, reqs[0].NegativeExamples)

	reqs = in.Requests(2, ds)
	require.Len(t, reqs, 2)
	require.Equal(t, "emp", reqs[0].Column)
	require.Equal(t, "state", reqs[1].Column)
}

func TestParseInputsRequiresDescriptionColumns(t *testing.T) {
	t.Parallel()

	_, err := ParseInputs(strings.NewReader("name,notes\nemp,whatever\n"), "inputs.csv")
	require.Error(t, err)
}

func TestSampleColumnCaps(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 65)
	rows := make([]dataset.Row, 0, 40)
	for i := 0; i < 40; i++ {
		v := fmt.Sprintf("value-%02d", i)
		rows = append(rows, dataset.Row{"col": &v, "other": &long})
	}
	// Duplicate of the first value and an over-length value never count.
	dup := "value-00"
	rows = append(rows, dataset.Row{"col": &dup}, dataset.Row{"col": &long}, dataset.Row{"col": nil})

	samples := sampleColumn(rows, "col")
	require.Len(t, samples, 30)
	require.Equal(t, "value-00", samples[0])
	require.Equal(t, "value-29", samples[29])
	require.NotContains(t, samples, long)
}

type scriptedGenerator struct {
	fail map[string]error
}

func (g scriptedGenerator) GenerateType(_ context.Context, req Request) (registry.GeneratedType, error) {
	if err := g.fail[req.Column]; err != nil {
		return registry.GeneratedType{}, err
	}
	return registry.GeneratedType{
		SemanticType: strings.ToUpper(req.Column),
		Description:  req.Description,
		PluginType:   "regex",
		RegexPattern: "^x$",
	}, nil
}

func TestRunRecordsFailuresAsErrorEntries(t *testing.T) {
	t.Parallel()

	reqs := []Request{
		{Column: "emp", Description: "ids"},
		{Column: "state", Description: "codes"},
	}
	g := scriptedGenerator{fail: map[string]error{"state": errors.New("model refused")}}

	types, err := Run(context.Background(), g, reqs, RunOptions{
		Workers: 2,
		Logger:  log.New(io.Discard, "", 0),
	})
	require.NoError(t, err)
	require.Len(t, types, 2)

	require.Equal(t, "EMP", types[0].SemanticType)
	require.Empty(t, types[0].ResultType)

	require.Equal(t, "STATE", types[1].SemanticType)
	require.Equal(t, "error", types[1].ResultType)
}
