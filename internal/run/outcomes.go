package run

import (
	"sort"

	"github.com/typegauge/typegauge/pkg/metrics"
)

// Outcome classifies one labeled column by which evaluation tracks got every
// occurrence of it right across all files.
type Outcome string

const (
	OutcomeBoth         Outcome = "both"
	OutcomeCustomOnly   Outcome = "custom-only"
	OutcomeBaselineOnly Outcome = "baseline-only"
	OutcomeNeither      Outcome = "neither"
)

// classifyOutcomes compares per-column detail from the baseline and custom
// evaluations. A track counts as correct for a column only when every
// occurrence of that column across files was correct; a column absent from a
// track counts as incorrect there.
func classifyOutcomes(baseline, custom []metrics.ColumnOutcome) map[string]Outcome {
	base := allCorrectByColumn(baseline)
	cust := allCorrectByColumn(custom)

	cols := make(map[string]bool, len(base)+len(cust))
	for col := range base {
		cols[col] = true
	}
	for col := range cust {
		cols[col] = true
	}

	out := make(map[string]Outcome, len(cols))
	for col := range cols {
		switch {
		case base[col] && cust[col]:
			out[col] = OutcomeBoth
		case cust[col]:
			out[col] = OutcomeCustomOnly
		case base[col]:
			out[col] = OutcomeBaselineOnly
		default:
			out[col] = OutcomeNeither
		}
	}
	return out
}

func allCorrectByColumn(details []metrics.ColumnOutcome) map[string]bool {
	out := make(map[string]bool)
	for _, d := range details {
		if prev, seen := out[d.Column]; seen {
			out[d.Column] = prev && d.Correct
		} else {
			out[d.Column] = d.Correct
		}
	}
	return out
}

// sortedOutcomeColumns returns the column names of an outcome map in stable
// order for logging.
func sortedOutcomeColumns(m map[string]Outcome) []string {
	cols := make([]string, 0, len(m))
	for col := range m {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}
