package datasets

import (
	"errors"
	"fmt"

	"github.com/knights-analytics/claimnli/backends"
)

// DefaultMaxLength is the number of tokens every sentence is truncated or padded to.
const DefaultMaxLength = 512

// Item is one tokenized example.
type Item struct {
	Sentence1 backends.Encoding
	Sentence2 backends.Encoding
	Label     Label
}

// ClassifierDataset wraps labelled sentence pairs and tokenizes them on access.
type ClassifierDataset struct {
	examples  []Example
	tokenizer backends.Tokenizer
	maxLength int
}

// NewClassifierDataset validates the examples: the dataset must be non-empty and every label must be
// one of the canonical classes.
func NewClassifierDataset(examples []Example, tokenizer backends.Tokenizer, maxLength int) (*ClassifierDataset, error) {
	if tokenizer == nil {
		return nil, errors.New("tokenizer is required")
	}
	if len(examples) == 0 {
		return nil, ErrEmptyDataset
	}
	if maxLength == 0 {
		maxLength = DefaultMaxLength
	}
	if maxLength < 2 {
		return nil, fmt.Errorf("max length must be at least 2, got %d", maxLength)
	}
	for i, ex := range examples {
		if !ex.Label.Valid() {
			return nil, fmt.Errorf("example %d: %w: %d", i, ErrInvalidLabel, int(ex.Label))
		}
	}
	return &ClassifierDataset{examples: examples, tokenizer: tokenizer, maxLength: maxLength}, nil
}

func (d *ClassifierDataset) Len() int {
	return len(d.examples)
}

// Example returns the raw example at index i.
func (d *ClassifierDataset) Example(i int) Example {
	return d.examples[i]
}

// Item tokenizes both sentences of example i to exactly the dataset's max length.
func (d *ClassifierDataset) Item(i int) (Item, error) {
	if i < 0 || i >= len(d.examples) {
		return Item{}, fmt.Errorf("index %d out of range [0, %d)", i, len(d.examples))
	}
	ex := d.examples[i]
	s1, err := d.tokenize(ex.Sentence1)
	if err != nil {
		return Item{}, fmt.Errorf("example %d sentence1: %w", i, err)
	}
	s2, err := d.tokenize(ex.Sentence2)
	if err != nil {
		return Item{}, fmt.Errorf("example %d sentence2: %w", i, err)
	}
	return Item{Sentence1: s1, Sentence2: s2, Label: ex.Label}, nil
}

func (d *ClassifierDataset) tokenize(text string) (backends.Encoding, error) {
	e, err := d.tokenizer.Encode(text)
	if err != nil {
		return backends.Encoding{}, err
	}
	return e.Fit(d.maxLength, d.tokenizer.PadID()), nil
}

// ClassCounts returns the number of examples of each class.
func (d *ClassifierDataset) ClassCounts() [NumLabels]int {
	var counts [NumLabels]int
	for _, ex := range d.examples {
		counts[ex.Label]++
	}
	return counts
}

// ClassWeights returns N/count[c] for each class, normalised to sum to 1, so that rare classes weigh
// more in the loss. A class without examples has no defined weight and yields ErrMissingClass.
func (d *ClassifierDataset) ClassWeights() ([NumLabels]float32, error) {
	var weights [NumLabels]float32
	counts := d.ClassCounts()
	n := float64(len(d.examples))
	raw := make([]float64, NumLabels)
	var sum float64
	for c, count := range counts {
		if count == 0 {
			return weights, fmt.Errorf("%w: %s", ErrMissingClass, Label(c))
		}
		raw[c] = n / float64(count)
		sum += raw[c]
	}
	for c := range weights {
		weights[c] = float32(raw[c] / sum)
	}
	return weights, nil
}
