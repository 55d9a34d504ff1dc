package datasets

import (
	"errors"
	"io"
	"testing"

	"github.com/gomlx/gomlx/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knights-analytics/claimnli/backends"
)

var fivePairs = []Example{
	{Sentence1: "masks work", Sentence2: "masks fail", Label: Contradiction},
	{Sentence1: "the drug helps", Sentence2: "patients were old", Label: Neutral},
	{Sentence1: "the trial ran", Sentence2: "it was spring", Label: Neutral},
	{Sentence1: "vaccines work", Sentence2: "vaccines are effective", Label: Entailment},
	{Sentence1: "smoking harms", Sentence2: "smoking damages the lungs and the heart", Label: Neutral},
}

func wordTokenizer(examples []Example) *backends.WordTokenizer {
	var texts []string
	for _, ex := range examples {
		texts = append(texts, ex.Sentence1, ex.Sentence2)
	}
	return backends.NewWordTokenizer(backends.BuildWordVocabulary(texts, 0))
}

func TestNewClassifierDataset(t *testing.T) {
	tok := wordTokenizer(fivePairs)
	_, err := NewClassifierDataset(nil, tok, 8)
	assert.ErrorIs(t, err, ErrEmptyDataset)

	_, err = NewClassifierDataset([]Example{{Sentence1: "a", Sentence2: "b", Label: Label(3)}}, tok, 8)
	assert.ErrorIs(t, err, ErrInvalidLabel)

	_, err = NewClassifierDataset(fivePairs, nil, 8)
	assert.Error(t, err)
	_, err = NewClassifierDataset(fivePairs, tok, 1)
	assert.Error(t, err)

	ds, err := NewClassifierDataset(fivePairs, tok, 0)
	require.NoError(t, err)
	item, err := ds.Item(0)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxLength, item.Sentence1.Len())
}

func TestItem(t *testing.T) {
	tok := wordTokenizer(fivePairs)
	ds, err := NewClassifierDataset(fivePairs, tok, 6)
	require.NoError(t, err)
	assert.Equal(t, 5, ds.Len())
	assert.Equal(t, fivePairs[4], ds.Example(4))

	item, err := ds.Item(0)
	require.NoError(t, err)
	assert.Equal(t, Contradiction, item.Label)
	assert.Len(t, item.Sentence1.IDs, 6)
	assert.Equal(t, []int64{1, 1, 1, 1, 0, 0}, item.Sentence1.AttentionMask)
	assert.Equal(t, tok.PadID(), item.Sentence1.IDs[5])

	// truncated to 6 tokens, the separator stays last.
	long, err := ds.Item(4)
	require.NoError(t, err)
	assert.Len(t, long.Sentence2.IDs, 6)
	sep, err := tok.Encode("")
	require.NoError(t, err)
	assert.Equal(t, sep.IDs[1], long.Sentence2.IDs[5])

	_, err = ds.Item(5)
	assert.Error(t, err)
}

func TestClassWeights(t *testing.T) {
	ds, err := NewClassifierDataset(fivePairs, wordTokenizer(fivePairs), 8)
	require.NoError(t, err)
	assert.Equal(t, [NumLabels]int{1, 3, 1}, ds.ClassCounts())

	weights, err := ds.ClassWeights()
	require.NoError(t, err)
	// raw weights 5, 5/3, 5 normalised by 35/3.
	assert.InDelta(t, 3.0/7, weights[Contradiction], 1e-6)
	assert.InDelta(t, 1.0/7, weights[Neutral], 1e-6)
	assert.InDelta(t, 3.0/7, weights[Entailment], 1e-6)
	var sum float32
	for _, w := range weights {
		sum += w
	}
	assert.InDelta(t, 1, sum, 1e-6)

	missing, err := NewClassifierDataset(fivePairs[1:3], wordTokenizer(fivePairs), 8)
	require.NoError(t, err)
	_, err = missing.ClassWeights()
	assert.ErrorIs(t, err, ErrMissingClass)
}

func TestCollate(t *testing.T) {
	ds, err := NewClassifierDataset(fivePairs, wordTokenizer(fivePairs), 8)
	require.NoError(t, err)
	var items []Item
	for i := 3; i >= 0; i-- {
		item, err := ds.Item(i)
		require.NoError(t, err)
		items = append(items, item)
	}
	batch := Collate(items)
	assert.Equal(t, 4, batch.Size())
	assert.Equal(t, []Label{Entailment, Neutral, Neutral, Contradiction}, batch.Labels)
	assert.Equal(t, items[0].Sentence1, batch.Sentence1[0])
	assert.Equal(t, items[3].Sentence2, batch.Sentence2[3])

	labels := batch.LabelTensor()
	assert.Equal(t, []int{4}, labels.Shape().Dimensions)
	assert.Equal(t, []int32{2, 1, 1, 0}, tensors.CopyFlatData[int32](labels))

	oneHot := batch.OneHotTensor()
	assert.Equal(t, []int{4, NumLabels}, oneHot.Shape().Dimensions)
	assert.Equal(t, []float32{0, 0, 1, 0, 1, 0, 0, 1, 0, 1, 0, 0}, tensors.CopyFlatData[float32](oneHot))
}

func TestLoader(t *testing.T) {
	ds, err := NewClassifierDataset(fivePairs, wordTokenizer(fivePairs), 8)
	require.NoError(t, err)
	_, err = NewLoader("bad", ds, 0)
	assert.Error(t, err)
	_, err = NewLoader("bad", nil, 2)
	assert.Error(t, err)

	loader, err := NewLoader("train", ds, 2)
	require.NoError(t, err)
	assert.Equal(t, "train", loader.Name())
	assert.Equal(t, 2, loader.BatchSize())
	assert.Equal(t, 3, loader.NumBatches())

	var labels []Label
	var sizes []int
	for {
		batch, err := loader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, batch.Size())
		labels = append(labels, batch.Labels...)
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, []Label{Contradiction, Neutral, Neutral, Entailment, Neutral}, labels)

	loader.Reset()
	spec, inputs, targets, err := loader.Yield()
	require.NoError(t, err)
	defer backends.FinalizeTensors(inputs)
	require.IsType(t, Batch{}, spec)
	require.Len(t, inputs, 6)
	for _, input := range inputs {
		assert.Equal(t, []int{2, 8}, input.Shape().Dimensions)
	}
	require.Len(t, targets, 1)
	assert.Equal(t, []int{2, NumLabels}, targets[0].Shape().Dimensions)
}
