package backends

import (
	"fmt"
	"strings"

	"github.com/gomlx/gomlx/graph"
)

// Activation is applied to the class scores produced by the linear head.
type Activation string

const (
	// ActivationRawLogits leaves the linear outputs untouched; the loss applies log-softmax itself.
	ActivationRawLogits Activation = "raw-logits"
	ActivationSoftmax   Activation = "softmax"
	// ActivationSigmoid squashes each score independently. Needed to reproduce checkpoints trained with it.
	ActivationSigmoid Activation = "sigmoid"
)

func ParseActivation(s string) (Activation, error) {
	switch a := Activation(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return ActivationRawLogits, nil
	case ActivationRawLogits, ActivationSoftmax, ActivationSigmoid:
		return a, nil
	default:
		return "", fmt.Errorf("activation %q not supported, use one of raw-logits, softmax, sigmoid", s)
	}
}

func (a Activation) apply(x *graph.Node) *graph.Node {
	switch a {
	case ActivationSoftmax:
		return graph.Softmax(x, -1)
	case ActivationSigmoid:
		return graph.Sigmoid(x)
	default:
		return x
	}
}
