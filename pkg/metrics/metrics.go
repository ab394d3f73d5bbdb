// Package metrics scores column classification predictions against a
// ground-truth map and aggregates per-file results.
package metrics

import "sort"

// NoPrediction is the label used when the service returned no semantic type
// for a column.
const NoPrediction = "NONE"

// ColumnOutcome is the per-column comparison detail.
type ColumnOutcome struct {
	Column    string `json:"column"`
	Predicted string `json:"predicted"`
	Actual    string `json:"actual"`
	Correct   bool   `json:"correct"`
}

// MetricSet holds the scores for one evaluation. Instances are computed
// fresh per run and never mutated afterwards.
type MetricSet struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1_score"`

	TotalColumns       int `json:"total_columns"`
	ExcludedColumns    int `json:"excluded_columns"`
	CorrectPredictions int `json:"correct_predictions"`
	TruePositives      int `json:"true_positives"`
	FalsePositives     int `json:"false_positives"`
	FalseNegatives     int `json:"false_negatives"`

	Details []ColumnOutcome `json:"details,omitempty"`
}

// MetricDelta is the per-metric difference between two MetricSets.
type MetricDelta struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1_score"`
}

// Score compares predicted labels against ground truth. Predicted columns
// with no ground-truth entry are excluded, not scored. A column counts as a
// true positive when correct with a real prediction, a false positive when
// incorrect with a real prediction, and a false negative when incorrect
// while the truth expected a real type.
func Score(predictions map[string]string, truth map[string]string) MetricSet {
	cols := make([]string, 0, len(predictions))
	for col := range predictions {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	var ms MetricSet
	for _, col := range cols {
		actual, ok := truth[col]
		if !ok || actual == "" {
			ms.ExcludedColumns++
			continue
		}
		predicted := predictions[col]
		if predicted == "" {
			predicted = NoPrediction
		}
		correct := predicted == actual
		ms.Details = append(ms.Details, ColumnOutcome{
			Column:    col,
			Predicted: predicted,
			Actual:    actual,
			Correct:   correct,
		})
		if correct {
			ms.CorrectPredictions++
			if predicted != NoPrediction {
				ms.TruePositives++
			}
		} else {
			if predicted != NoPrediction {
				ms.FalsePositives++
			}
			if actual != NoPrediction {
				ms.FalseNegatives++
			}
		}
	}
	ms.TotalColumns = len(ms.Details)
	ms.recompute()
	return ms
}

// Aggregate combines per-file MetricSets by summing the integer counts and
// recomputing ratios from the sums. Averaging the per-file ratios directly
// would weight small files equally with large ones.
func Aggregate(sets []MetricSet) MetricSet {
	var agg MetricSet
	for _, ms := range sets {
		agg.TotalColumns += ms.TotalColumns
		agg.ExcludedColumns += ms.ExcludedColumns
		agg.CorrectPredictions += ms.CorrectPredictions
		agg.TruePositives += ms.TruePositives
		agg.FalsePositives += ms.FalsePositives
		agg.FalseNegatives += ms.FalseNegatives
		agg.Details = append(agg.Details, ms.Details...)
	}
	agg.recompute()
	return agg
}

// Delta returns custom minus baseline for each ratio metric.
func Delta(custom, baseline MetricSet) MetricDelta {
	return MetricDelta{
		Accuracy:  custom.Accuracy - baseline.Accuracy,
		Precision: custom.Precision - baseline.Precision,
		Recall:    custom.Recall - baseline.Recall,
		F1:        custom.F1 - baseline.F1,
	}
}

func (ms *MetricSet) recompute() {
	ms.Accuracy = ratio(ms.CorrectPredictions, ms.TotalColumns)
	ms.Precision = ratio(ms.TruePositives, ms.TruePositives+ms.FalsePositives)
	ms.Recall = ratio(ms.TruePositives, ms.TruePositives+ms.FalseNegatives)
	if ms.Precision+ms.Recall > 0 {
		ms.F1 = 2 * ms.Precision * ms.Recall / (ms.Precision + ms.Recall)
	} else {
		ms.F1 = 0
	}
}

func ratio(num, den int) float64 {
	if den <= 0 {
		return 0
	}
	return float64(num) / float64(den)
}
