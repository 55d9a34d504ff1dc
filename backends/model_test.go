package backends

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knights-analytics/claimnli/options"
)

var testSentences = []string{
	"masks reduce transmission", "masks do not reduce transmission",
	"the drug lowers fever", "the drug raises fever",
	"vitamin d was studied", "patients were older",
	"the vaccine is effective", "the vaccine works",
}

func newTestModel(t *testing.T, hidden int, configure func(*ModelConfig)) *SBERTPredictor {
	t.Helper()
	tok := NewWordTokenizer(BuildWordVocabulary(testSentences, 0))
	encoder, err := NewEmbeddingEncoder(tok.VocabSize(), hidden, 3)
	require.NoError(t, err)
	config := DefaultModelConfig()
	config.MaxLength = 8
	if configure != nil {
		configure(&config)
	}
	model, err := NewSBERTPredictor(encoder, tok, config, options.WithDevice(options.DeviceCPU))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, model.Destroy()) })
	return model
}

func batchOf(n int) ([]string, []string) {
	s1 := make([]string, n)
	s2 := make([]string, n)
	for i := range n {
		s1[i] = testSentences[(2*i)%len(testSentences)]
		s2[i] = testSentences[(2*i+1)%len(testSentences)]
	}
	return s1, s2
}

func TestForwardShapes(t *testing.T) {
	model := newTestModel(t, 4, nil)
	assert.Equal(t, 12, model.Config.EmbeddingDim())
	assert.Equal(t, 36, model.Config.FeatureDim())

	for _, n := range []int{1, 2, 8} {
		t.Run(fmt.Sprintf("batch %d", n), func(t *testing.T) {
			s1, s2 := batchOf(n)
			enc1, err := model.Tokenize(s1)
			require.NoError(t, err)
			enc2, err := model.Tokenize(s2)
			require.NoError(t, err)
			scores, err := model.Forward(enc1, enc2)
			require.NoError(t, err)
			require.Len(t, scores, n)
			for _, row := range scores {
				assert.Len(t, row, 3)
			}
		})
	}
}

func TestForwardIsDeterministicPerPair(t *testing.T) {
	model := newTestModel(t, 4, nil)
	s1, s2 := batchOf(4)
	all, err := model.Classify(s1, s2)
	require.NoError(t, err)
	for i := range s1 {
		single, err := model.Classify(s1[i:i+1], s2[i:i+1])
		require.NoError(t, err)
		assert.InDeltaSlice(t, all[i].Scores, single[0].Scores, 1e-5)
	}
}

func TestActivations(t *testing.T) {
	s1, s2 := batchOf(3)
	softmax := newTestModel(t, 4, func(c *ModelConfig) { c.Activation = ActivationSoftmax })
	predictions, err := softmax.Classify(s1, s2)
	require.NoError(t, err)
	for _, p := range predictions {
		var sum float64
		for _, s := range p.Scores {
			sum += float64(s)
		}
		assert.InDelta(t, 1, sum, 1e-5)
	}

	sigmoid := newTestModel(t, 4, func(c *ModelConfig) { c.Activation = ActivationSigmoid })
	predictions, err = sigmoid.Classify(s1, s2)
	require.NoError(t, err)
	for _, p := range predictions {
		for _, s := range p.Scores {
			assert.Greater(t, s, float32(0))
			assert.Less(t, s, float32(1))
		}
	}

	raw := newTestModel(t, 4, nil)
	assert.Equal(t, ActivationRawLogits, raw.Config.Activation)
	rawPredictions, err := raw.Classify(s1, s2)
	require.NoError(t, err)
	for i, p := range rawPredictions {
		// same seeds, so sigmoid scores are the sigmoid of the raw logits.
		for j, s := range p.Scores {
			assert.InDelta(t, 1/(1+math.Exp(-float64(s))), predictions[i].Scores[j], 1e-5)
		}
	}
}

func TestMeanOnlyPooling(t *testing.T) {
	model := newTestModel(t, 5, func(c *ModelConfig) { c.Pooling = PoolingModes{Mean: true} })
	assert.Equal(t, 15, model.Config.FeatureDim())
	s1, s2 := batchOf(2)
	scores, err := model.Classify(s1, s2)
	require.NoError(t, err)
	assert.Len(t, scores, 2)
}

func TestHeadRoundTrip(t *testing.T) {
	model := newTestModel(t, 4, func(c *ModelConfig) { c.Labels = []string{"contradiction", "neutral", "entailment"} })
	head, err := model.Head()
	require.NoError(t, err)
	assert.Len(t, head.Weights, 36*3)
	assert.Len(t, head.Biases, 3)
	bound := float32(1 / math.Sqrt(36))
	for _, w := range head.Weights {
		assert.LessOrEqual(t, w, bound)
		assert.GreaterOrEqual(t, w, -bound)
	}

	// zero weights with a large entailment bias always predict entailment.
	zero := HeadParams{Weights: make([]float32, 36*3), Biases: []float32{0, 0, 5}}
	require.NoError(t, model.SetHead(zero))
	s1, s2 := batchOf(3)
	predictions, err := model.Classify(s1, s2)
	require.NoError(t, err)
	for _, p := range predictions {
		assert.Equal(t, 2, p.Class)
		assert.Equal(t, "entailment", p.Label)
		assert.Equal(t, []float32{0, 0, 5}, p.Scores)
	}

	assert.Error(t, model.SetHead(HeadParams{Weights: []float32{1}, Biases: []float32{0, 0, 0}}))
}

func TestNewSBERTPredictorValidation(t *testing.T) {
	tok := NewWordTokenizer([]string{"a"})
	encoder, err := NewEmbeddingEncoder(tok.VocabSize(), 4, 1)
	require.NoError(t, err)

	_, err = NewSBERTPredictor(nil, tok, DefaultModelConfig())
	assert.Error(t, err)

	for name, configure := range map[string]func(*ModelConfig){
		"hidden size": func(c *ModelConfig) { c.HiddenSize = 7 },
		"classes":     func(c *ModelConfig) { c.NumClasses = 1 },
		"max length":  func(c *ModelConfig) { c.MaxLength = 1 },
		"labels":      func(c *ModelConfig) { c.Labels = []string{"a", "b"} },
		"activation":  func(c *ModelConfig) { c.Activation = "relu" },
		"pooling":     func(c *ModelConfig) { c.Pooling = PoolingModes{} },
	} {
		config := DefaultModelConfig()
		configure(&config)
		_, err = NewSBERTPredictor(encoder, tok, config, options.WithDevice(options.DeviceCPU))
		assert.Error(t, err, name)
	}
}

func TestClassifyErrors(t *testing.T) {
	model := newTestModel(t, 4, nil)
	_, err := model.Classify([]string{"a"}, nil)
	assert.Error(t, err)
	predictions, err := model.Classify(nil, nil)
	assert.NoError(t, err)
	assert.Empty(t, predictions)
	assert.Equal(t, "LABEL_1", model.LabelName(1))
}

func TestInputTensors(t *testing.T) {
	_, err := InputTensors(nil, nil)
	assert.Error(t, err)
	e := Encoding{IDs: []int64{1, 2}, AttentionMask: []int64{1, 1}, TypeIDs: []int64{0, 0}}
	short := Encoding{IDs: []int64{1}, AttentionMask: []int64{1}, TypeIDs: []int64{0}}
	_, err = InputTensors([]Encoding{e}, nil)
	assert.Error(t, err)
	_, err = InputTensors([]Encoding{e, short}, []Encoding{e, e})
	assert.Error(t, err)

	inputs, err := InputTensors([]Encoding{e, e}, []Encoding{e, e})
	require.NoError(t, err)
	defer FinalizeTensors(inputs)
	require.Len(t, inputs, 6)
	for _, input := range inputs {
		assert.Equal(t, []int{2, 2}, input.Shape().Dimensions)
	}
}

func TestEncodingFit(t *testing.T) {
	e := Encoding{IDs: []int64{2, 10, 11, 12, 3}, AttentionMask: []int64{1, 1, 1, 1, 1}, TypeIDs: []int64{0, 0, 0, 0, 0}}
	padded := e.Fit(7, 0)
	assert.Equal(t, []int64{2, 10, 11, 12, 3, 0, 0}, padded.IDs)
	assert.Equal(t, []int64{1, 1, 1, 1, 1, 0, 0}, padded.AttentionMask)

	truncated := e.Fit(3, 0)
	assert.Equal(t, []int64{2, 10, 3}, truncated.IDs)
	assert.Equal(t, []int64{1, 1, 1}, truncated.AttentionMask)
	assert.Len(t, truncated.TypeIDs, 3)
}

func TestParseActivation(t *testing.T) {
	for raw, want := range map[string]Activation{
		"":           ActivationRawLogits,
		"raw-logits": ActivationRawLogits,
		" Softmax":   ActivationSoftmax,
		"SIGMOID":    ActivationSigmoid,
	} {
		got, err := ParseActivation(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}
	_, err := ParseActivation("tanh")
	assert.Error(t, err)
}
