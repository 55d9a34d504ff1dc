package datasets

import (
	"fmt"
	"io"

	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/types/tensors"

	"github.com/knights-analytics/claimnli/backends"
)

var _ train.Dataset = (*Loader)(nil)

// Loader walks a ClassifierDataset in order, batchSize examples at a time; the last batch may be shorter.
// It implements GoMLX's train.Dataset: the spec of each yielded batch is the collated Batch, inputs are
// the six encoder tensors of the pair and the single label is the one-hot [batch, NumLabels] tensor.
type Loader struct {
	name      string
	dataset   *ClassifierDataset
	batchSize int
	next      int
}

func NewLoader(name string, dataset *ClassifierDataset, batchSize int) (*Loader, error) {
	if dataset == nil {
		return nil, fmt.Errorf("loader %s: dataset is required", name)
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("loader %s: batch size must be positive, got %d", name, batchSize)
	}
	return &Loader{name: name, dataset: dataset, batchSize: batchSize}, nil
}

func (l *Loader) Name() string {
	return l.name
}

func (l *Loader) BatchSize() int {
	return l.batchSize
}

// NumBatches in one pass over the dataset.
func (l *Loader) NumBatches() int {
	return (l.dataset.Len() + l.batchSize - 1) / l.batchSize
}

// Next collates the next batch on the host, without building tensors. It returns io.EOF at the end of
// the pass.
func (l *Loader) Next() (Batch, error) {
	if l.next >= l.dataset.Len() {
		return Batch{}, io.EOF
	}
	end := min(l.next+l.batchSize, l.dataset.Len())
	items := make([]Item, 0, end-l.next)
	for i := l.next; i < end; i++ {
		item, err := l.dataset.Item(i)
		if err != nil {
			return Batch{}, err
		}
		items = append(items, item)
	}
	l.next = end
	return Collate(items), nil
}

func (l *Loader) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	batch, err := l.Next()
	if err != nil {
		return nil, nil, nil, err
	}
	inputs, err = backends.InputTensors(batch.Sentence1, batch.Sentence2)
	if err != nil {
		return nil, nil, nil, err
	}
	return batch, inputs, []*tensors.Tensor{batch.OneHotTensor()}, nil
}

// Reset rewinds to the first batch.
func (l *Loader) Reset() {
	l.next = 0
}
