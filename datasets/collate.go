package datasets

import (
	"github.com/gomlx/gomlx/types/tensors"

	"github.com/knights-analytics/claimnli/backends"
)

// Batch keeps the two sides of the pairs as parallel lists; only the labels become a tensor.
type Batch struct {
	Sentence1 []backends.Encoding
	Sentence2 []backends.Encoding
	Labels    []Label
}

func (b Batch) Size() int {
	return len(b.Labels)
}

// Collate turns items into a Batch, keeping their order.
func Collate(items []Item) Batch {
	b := Batch{
		Sentence1: make([]backends.Encoding, len(items)),
		Sentence2: make([]backends.Encoding, len(items)),
		Labels:    make([]Label, len(items)),
	}
	for i, item := range items {
		b.Sentence1[i] = item.Sentence1
		b.Sentence2[i] = item.Sentence2
		b.Labels[i] = item.Label
	}
	return b
}

// LabelTensor returns the labels as an int32 tensor of shape [batch].
func (b Batch) LabelTensor() *tensors.Tensor {
	labels := make([]int32, len(b.Labels))
	for i, l := range b.Labels {
		labels[i] = int32(l)
	}
	return tensors.FromFlatDataAndDimensions(labels, len(labels))
}

// OneHotTensor returns the labels one-hot encoded as a float32 tensor of shape [batch, NumLabels].
func (b Batch) OneHotTensor() *tensors.Tensor {
	oneHot := make([]float32, len(b.Labels)*NumLabels)
	for i, l := range b.Labels {
		oneHot[i*NumLabels+int(l)] = 1
	}
	return tensors.FromFlatDataAndDimensions(oneHot, len(b.Labels), NumLabels)
}
