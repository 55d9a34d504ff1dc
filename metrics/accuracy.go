// Package metrics scores classifier outputs on the host.
package metrics

import (
	"errors"
	"fmt"
	"math"

	"github.com/knights-analytics/claimnli/datasets"
)

// MultiAcc is the percentage of rows whose highest scoring class matches the gold label, rounded half
// to even, in [0, 100]. Scores are unnormalised [batch, classes] outputs.
func MultiAcc(scores [][]float32, labels []datasets.Label) (float64, error) {
	if len(scores) == 0 {
		return 0, errors.New("accuracy of an empty batch is undefined")
	}
	if len(scores) != len(labels) {
		return 0, fmt.Errorf("%d score rows for %d labels", len(scores), len(labels))
	}
	correct := 0
	for i, row := range scores {
		if len(row) == 0 {
			return 0, fmt.Errorf("row %d has no scores", i)
		}
		if Predict(row) == int(labels[i]) {
			correct++
		}
	}
	return math.RoundToEven(100 * float64(correct) / float64(len(scores))), nil
}

// Predict returns the arg-max of the row's log-softmax, the first class on ties.
func Predict(row []float32) int {
	logProbs := LogSoftmax(row)
	best := 0
	for c, v := range logProbs {
		if v > logProbs[best] {
			best = c
		}
	}
	return best
}

// LogSoftmax is computed against the row maximum so large scores do not overflow.
func LogSoftmax(row []float32) []float64 {
	out := make([]float64, len(row))
	if len(row) == 0 {
		return out
	}
	maxValue := math.Inf(-1)
	for _, v := range row {
		maxValue = math.Max(maxValue, float64(v))
	}
	var sum float64
	for _, v := range row {
		sum += math.Exp(float64(v) - maxValue)
	}
	logSum := maxValue + math.Log(sum)
	for i, v := range row {
		out[i] = float64(v) - logSum
	}
	return out
}
