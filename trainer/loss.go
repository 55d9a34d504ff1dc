package trainer

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/train/losses"
)

// WeightedCrossEntropy returns a loss over unnormalised scores [batch, classes] and one-hot labels of
// the same shape. Each example's negative log-likelihood is scaled by the weight of its gold class and
// the batch loss is the weighted mean: sum(w[y]*nll) / sum(w[y]).
func WeightedCrossEntropy(classWeights []float32) losses.LossFn {
	weights := append([]float32(nil), classWeights...)
	return func(labels, predictions []*graph.Node) *graph.Node {
		if len(labels) != 1 || len(predictions) < 1 {
			exceptions.Panicf("weighted cross entropy needs one label and one prediction, got %d and %d", len(labels), len(predictions))
		}
		scores, oneHot := predictions[0], labels[0]
		g := scores.Graph()
		if oneHot.DType() != scores.DType() {
			oneHot = graph.ConvertDType(oneHot, scores.DType())
		}
		logProbs := graph.LogSoftmax(scores, -1)
		w := graph.Const(g, weights)
		if w.DType() != scores.DType() {
			w = graph.ConvertDType(w, scores.DType())
		}
		w = graph.BroadcastToShape(graph.Reshape(w, 1, len(weights)), scores.Shape())

		exampleWeights := graph.ReduceSum(graph.Mul(oneHot, w), -1)
		nll := graph.Neg(graph.ReduceSum(graph.Mul(oneHot, logProbs), -1))
		return graph.Div(graph.ReduceAllSum(graph.Mul(exampleWeights, nll)), graph.ReduceAllSum(exampleWeights))
	}
}

// UniformWeights weighs every class equally.
func UniformWeights(numClasses int) []float32 {
	w := make([]float32, numClasses)
	for i := range w {
		w[i] = 1
	}
	return w
}
