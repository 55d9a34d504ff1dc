package backends

import (
	"errors"

	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gopjrt/dtypes"
)

// PoolingModes selects how token embeddings are reduced to a sentence embedding. Enabled modes are
// concatenated in the order CLS, max, mean, so three modes over a 768-wide encoder give 2304 values.
type PoolingModes struct {
	CLS  bool `json:"cls"`
	Max  bool `json:"max"`
	Mean bool `json:"mean"`
}

// DefaultPooling enables all three modes.
func DefaultPooling() PoolingModes {
	return PoolingModes{CLS: true, Max: true, Mean: true}
}

func (p PoolingModes) Count() int {
	n := 0
	for _, on := range []bool{p.CLS, p.Max, p.Mean} {
		if on {
			n++
		}
	}
	return n
}

func (p PoolingModes) Validate() error {
	if p.Count() == 0 {
		return errors.New("at least one pooling mode (cls, max, mean) must be enabled")
	}
	return nil
}

// Pool reduces tokenEmbeddings [batch, sequence, hidden] under attentionMask [batch, sequence]
// to [batch, hidden * p.Count()].
func Pool(tokenEmbeddings, attentionMask *graph.Node, p PoolingModes) *graph.Node {
	shape := tokenEmbeddings.Shape()
	batchSize := shape.Dim(0)
	mask := graph.ConvertDType(graph.BroadcastToShape(graph.Reshape(attentionMask, batchSize, -1, 1), shape), dtypes.Bool)

	var parts []*graph.Node
	if p.CLS {
		parts = append(parts, firstToken(tokenEmbeddings))
	}
	if p.Max {
		// padded positions are pushed far below any real activation before the max.
		floor := graph.MulScalar(graph.OnesLike(tokenEmbeddings), -1e9)
		parts = append(parts, graph.ReduceMax(graph.Where(mask, tokenEmbeddings, floor), 1))
	}
	if p.Mean {
		parts = append(parts, graph.MaskedReduceMean(tokenEmbeddings, mask, 1))
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return graph.Concatenate(parts, -1)
}

// firstToken selects position 0 with a one-hot product. Slice is avoided: its gradient needs Pad,
// which the pure Go backend lacks.
func firstToken(tokenEmbeddings *graph.Node) *graph.Node {
	shape := tokenEmbeddings.Shape()
	selector := make([]float32, shape.Dim(1))
	selector[0] = 1
	oneHot := graph.ConvertDType(graph.Const(tokenEmbeddings.Graph(), selector), shape.DType)
	oneHot = graph.BroadcastToShape(graph.Reshape(oneHot, 1, -1, 1), shape)
	return graph.ReduceSum(graph.Mul(tokenEmbeddings, oneHot), 1)
}
