package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knights-analytics/claimnli/datasets"
)

var diagonal = [][]float32{{5, 1, 1}, {1, 5, 1}, {1, 1, 5}}

func TestMultiAccPerfect(t *testing.T) {
	acc, err := MultiAcc(diagonal, []datasets.Label{0, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, 100.0, acc)
}

func TestMultiAccAllWrong(t *testing.T) {
	acc, err := MultiAcc(diagonal, []datasets.Label{1, 2, 0})
	require.NoError(t, err)
	assert.Equal(t, 0.0, acc)
}

func TestMultiAccRounding(t *testing.T) {
	acc, err := MultiAcc(diagonal, []datasets.Label{0, 1, 0})
	require.NoError(t, err)
	assert.Equal(t, 67.0, acc)

	// 50% stays 50, halves round to even.
	acc, err = MultiAcc(diagonal[:2], []datasets.Label{0, 0})
	require.NoError(t, err)
	assert.Equal(t, 50.0, acc)
	acc, err = MultiAcc([][]float32{{1, 0, 0}, {1, 0, 0}, {1, 0, 0}, {1, 0, 0}, {1, 0, 0}, {1, 0, 0}, {1, 0, 0}, {1, 0, 0}},
		[]datasets.Label{0, 0, 0, 1, 1, 1, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, 38.0, acc) // 37.5
}

func TestMultiAccLargeScores(t *testing.T) {
	acc, err := MultiAcc([][]float32{{1e30, 3e30, -1e30}}, []datasets.Label{1})
	require.NoError(t, err)
	assert.Equal(t, 100.0, acc)
}

func TestMultiAccErrors(t *testing.T) {
	_, err := MultiAcc(nil, nil)
	assert.Error(t, err)
	_, err = MultiAcc(diagonal, []datasets.Label{0})
	assert.Error(t, err)
	_, err = MultiAcc([][]float32{{}}, []datasets.Label{0})
	assert.Error(t, err)
}

func TestLogSoftmax(t *testing.T) {
	out := LogSoftmax([]float32{1, 1})
	assert.InDelta(t, math.Log(0.5), out[0], 1e-9)
	assert.InDelta(t, math.Log(0.5), out[1], 1e-9)

	var total float64
	for _, v := range LogSoftmax([]float32{1000, 0, -1000}) {
		assert.False(t, math.IsNaN(v))
		total += math.Exp(v)
	}
	assert.InDelta(t, 1, total, 1e-9)
}
