// Package gen turns generation-input rows and dataset samples into
// candidate-type generation requests and fans them out to a Generator.
package gen

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/typegauge/typegauge/pkg/dataset"
)

const (
	// maxSamples caps how many column values accompany a request.
	maxSamples = 30
	// maxSampleLen drops pathological values; long free text does not help
	// pattern generation.
	maxSampleLen = 64
)

// Request is one column/description pair submitted to the generator.
type Request struct {
	Column      string
	Description string
	Samples     []string

	// PositiveExamples and NegativeExamples are curator-provided values the
	// generated type must and must not match.
	PositiveExamples []string
	NegativeExamples []string
}

// Inputs holds the parsed generation-inputs table: per-column description
// text for each description number, plus optional example lists.
type Inputs struct {
	descriptions map[string]map[int]string
	positive     map[string][]string
	negative     map[string][]string
}

var descColRe = regexp.MustCompile(`(?i)^generation description (\d+)$`)

// LoadInputs parses the generation-inputs CSV. The first column carries the
// dataset column name; "Generation Description <n>" columns carry the prompt
// text per description number; optional "Positive Examples" and "Negative
// Examples" columns hold semicolon-separated values.
func LoadInputs(path string) (*Inputs, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open generation inputs: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	return ParseInputs(f, path)
}

// ParseInputs reads the generation-inputs layout from r.
func ParseInputs(r io.Reader, name string) (*Inputs, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read generation inputs %s: %w", name, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("generation inputs %s: expected a header row and at least one column row", name)
	}

	header := records[0]
	descCols := make(map[int]int) // column index -> description number
	posCol, negCol := -1, -1
	for i, h := range header {
		h = strings.TrimSpace(h)
		if m := descColRe.FindStringSubmatch(h); m != nil {
			n, err := strconv.Atoi(m[1])
			if err == nil && n > 0 {
				descCols[i] = n
			}
			continue
		}
		switch strings.ToLower(h) {
		case "positive examples":
			posCol = i
		case "negative examples":
			negCol = i
		}
	}
	if len(descCols) == 0 {
		return nil, fmt.Errorf("generation inputs %s: no \"Generation Description <n>\" columns", name)
	}

	in := &Inputs{
		descriptions: make(map[string]map[int]string),
		positive:     make(map[string][]string),
		negative:     make(map[string][]string),
	}
	for _, rec := range records[1:] {
		if len(rec) == 0 {
			continue
		}
		col := strings.TrimSpace(rec[0])
		if col == "" {
			continue
		}
		for idx, n := range descCols {
			if idx >= len(rec) {
				continue
			}
			text := strings.TrimSpace(rec[idx])
			if text == "" {
				continue
			}
			if in.descriptions[col] == nil {
				in.descriptions[col] = make(map[int]string)
			}
			in.descriptions[col][n] = text
		}
		if posCol >= 0 && posCol < len(rec) {
			in.positive[col] = splitExamples(rec[posCol])
		}
		if negCol >= 0 && negCol < len(rec) {
			in.negative[col] = splitExamples(rec[negCol])
		}
	}
	return in, nil
}

func splitExamples(cell string) []string {
	var out []string
	for _, v := range strings.Split(cell, ";") {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// DescriptionNumbers returns the description numbers present in the inputs,
// ascending.
func (in *Inputs) DescriptionNumbers() []int {
	seen := make(map[int]bool)
	for _, byNum := range in.descriptions {
		for n := range byNum {
			seen[n] = true
		}
	}
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

// Requests builds one request per dataset column that has description text
// for the given description number. Samples are the column's distinct
// non-null values in row order, capped in count and length.
func (in *Inputs) Requests(descNum int, ds *dataset.Dataset) []Request {
	var out []Request
	for _, col := range ds.Headers {
		text := ""
		if byNum, ok := in.descriptions[col]; ok {
			text = byNum[descNum]
		}
		if text == "" {
			continue
		}
		out = append(out, Request{
			Column:           col,
			Description:      text,
			Samples:          sampleColumn(ds.Rows, col),
			PositiveExamples: in.positive[col],
			NegativeExamples: in.negative[col],
		})
	}
	return out
}

func sampleColumn(rows []dataset.Row, col string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, row := range rows {
		v, ok := row[col]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(*v)
		if s == "" || len(s) > maxSampleLen || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if len(out) == maxSamples {
			break
		}
	}
	return out
}
