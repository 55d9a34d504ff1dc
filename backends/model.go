package backends

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
	gomlxbackends "github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"

	"github.com/knights-analytics/claimnli/options"

	_ "github.com/gomlx/gomlx/backends/simplego"
)

const headScope = "nli_head"

// ModelConfig is the architecture of an SBERTPredictor. It is persisted with the model.
type ModelConfig struct {
	// HiddenSize of the encoder. Zero means take it from the encoder.
	HiddenSize int          `json:"hiddenSize"`
	Pooling    PoolingModes `json:"pooling"`
	NumClasses int          `json:"numClasses"`
	Activation Activation   `json:"activation"`
	// MaxLength every sentence is truncated or padded to.
	MaxLength int `json:"maxLength"`
	// Labels names the output classes by index.
	Labels []string `json:"labels,omitempty"`
	Seed   uint64   `json:"seed"`
}

func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Pooling:    DefaultPooling(),
		NumClasses: 3,
		Activation: ActivationRawLogits,
		MaxLength:  512,
		Seed:       42,
	}
}

// EmbeddingDim is the width of one pooled sentence embedding.
func (c ModelConfig) EmbeddingDim() int {
	return c.HiddenSize * c.Pooling.Count()
}

// FeatureDim is the width of [u, v, |u-v|].
func (c ModelConfig) FeatureDim() int {
	return 3 * c.EmbeddingDim()
}

func (c ModelConfig) Validate() error {
	var errs []error
	if c.HiddenSize <= 0 {
		errs = append(errs, fmt.Errorf("hidden size must be positive, got %d", c.HiddenSize))
	}
	if c.NumClasses < 2 {
		errs = append(errs, fmt.Errorf("at least 2 classes are needed, got %d", c.NumClasses))
	}
	if c.MaxLength < 2 {
		errs = append(errs, fmt.Errorf("max length must be at least 2, got %d", c.MaxLength))
	}
	if len(c.Labels) > 0 && len(c.Labels) != c.NumClasses {
		errs = append(errs, fmt.Errorf("%d label names given for %d classes", len(c.Labels), c.NumClasses))
	}
	if _, err := ParseActivation(string(c.Activation)); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, c.Pooling.Validate())
	return errors.Join(errs...)
}

// HeadParams are the linear classification head's parameters.
type HeadParams struct {
	// Weights is [FeatureDim, NumClasses], row-major.
	Weights []float32 `json:"weights"`
	Biases  []float32 `json:"biases"`
}

// Prediction is the classification of one sentence pair.
type Prediction struct {
	Class  int       `json:"class"`
	Label  string    `json:"label"`
	Scores []float32 `json:"scores"`
}

// SBERTPredictor classifies sentence pairs: both sentences go through the same encoder and pooling,
// the embeddings u and v are combined as [u, v, |u-v|] and projected to class scores.
type SBERTPredictor struct {
	Config    ModelConfig
	Encoder   Encoder
	Tokenizer Tokenizer
	Options   *options.Options

	backend     gomlxbackends.Backend
	ctx         *context.Context
	weights     *context.Variable
	biases      *context.Variable
	mu          sync.Mutex
	forwardExec *context.Exec
}

// NewSBERTPredictor builds the model on the device selected by the options. The encoder's pretrained
// variables are loaded and a new head is initialised uniformly in ±1/sqrt(FeatureDim) from Config.Seed.
// tokenizer may be nil when the caller only feeds pre-tokenized encodings.
func NewSBERTPredictor(encoder Encoder, tokenizer Tokenizer, config ModelConfig, opts ...options.WithOption) (*SBERTPredictor, error) {
	if encoder == nil {
		return nil, errors.New("encoder is required")
	}
	if config.HiddenSize == 0 {
		config.HiddenSize = encoder.HiddenSize()
	}
	if config.HiddenSize != encoder.HiddenSize() {
		return nil, fmt.Errorf("config hidden size %d does not match encoder hidden size %d", config.HiddenSize, encoder.HiddenSize())
	}
	if config.Activation == "" {
		config.Activation = ActivationRawLogits
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	o, err := options.Apply(opts...)
	if err != nil {
		return nil, err
	}

	m := &SBERTPredictor{
		Config:    config,
		Encoder:   encoder,
		Tokenizer: tokenizer,
		Options:   o,
	}

	// GoMLX reports most failures by panicking; the caller gets them as errors.
	var insideErr error
	recoverErr := exceptions.TryCatch[error](func() {
		m.backend, insideErr = gomlxbackends.NewWithConfig(o.BackendConfig())
		if insideErr != nil {
			return
		}
		m.ctx = context.New()
		if insideErr = encoder.InitVariables(m.ctx); insideErr != nil {
			return
		}
		m.initHead()
		m.forwardExec = context.NewExec(m.backend, m.ctx, func(ctx *context.Context, inputs []*graph.Node) []*graph.Node {
			return []*graph.Node{m.ScoresGraph(ctx, inputs)}
		})
		m.forwardExec.SetMaxCache(-1)
	})
	if err = errors.Join(insideErr, recoverErr); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *SBERTPredictor) initHead() {
	featureDim, numClasses := m.Config.FeatureDim(), m.Config.NumClasses
	bound := 1 / math.Sqrt(float64(featureDim))
	rng := rand.New(rand.NewPCG(m.Config.Seed, m.Config.Seed+1))
	uniform := func(n int) []float32 {
		values := make([]float32, n)
		for i := range values {
			values[i] = float32((rng.Float64()*2 - 1) * bound)
		}
		return values
	}
	head := m.ctx.In(headScope)
	m.weights = head.VariableWithValue("weights", tensors.FromFlatDataAndDimensions(uniform(featureDim*numClasses), featureDim, numClasses))
	m.biases = head.VariableWithValue("biases", tensors.FromFlatDataAndDimensions(uniform(numClasses), numClasses))
}

// Backend is the GoMLX backend the model was built on.
func (m *SBERTPredictor) Backend() gomlxbackends.Backend {
	return m.backend
}

// Context holds all the model's variables: encoder and head.
func (m *SBERTPredictor) Context() *context.Context {
	return m.ctx
}

// Embed returns the pooled sentence embedding [batch, EmbeddingDim] for one side of the pair.
func (m *SBERTPredictor) Embed(ctx *context.Context, inputIDs, attentionMask, typeIDs *graph.Node) *graph.Node {
	tokenEmbeddings := m.Encoder.Encode(ctx, inputIDs, attentionMask, typeIDs)
	return Pool(tokenEmbeddings, attentionMask, m.Config.Pooling)
}

// ScoresGraph builds the forward pass. inputs are the six tensors from InputTensors:
// input ids, attention mask and type ids for sentence1, then the same for sentence2.
// The result is [batch, NumClasses].
func (m *SBERTPredictor) ScoresGraph(ctx *context.Context, inputs []*graph.Node) *graph.Node {
	if len(inputs) < 6 {
		exceptions.Panicf("SBERTPredictor needs 6 inputs, got %d", len(inputs))
	}
	u := m.Embed(ctx, inputs[0], inputs[1], inputs[2])
	v := m.Embed(ctx, inputs[3], inputs[4], inputs[5])
	features := graph.Concatenate([]*graph.Node{u, v, graph.Abs(graph.Sub(u, v))}, -1)

	g := features.Graph()
	logits := graph.Dot(features, m.weights.ValueGraph(g))
	bias := graph.Reshape(m.biases.ValueGraph(g), 1, m.Config.NumClasses)
	logits = graph.Add(logits, graph.BroadcastToShape(bias, logits.Shape()))
	return m.Config.Activation.apply(logits)
}

// Tokenize encodes texts and fits each to Config.MaxLength.
func (m *SBERTPredictor) Tokenize(texts []string) ([]Encoding, error) {
	if m.Tokenizer == nil {
		return nil, errors.New("model has no tokenizer")
	}
	encodings := make([]Encoding, len(texts))
	for i, text := range texts {
		e, err := m.Tokenizer.Encode(text)
		if err != nil {
			return nil, fmt.Errorf("tokenizing %q: %w", text, err)
		}
		encodings[i] = e.Fit(m.Config.MaxLength, m.Tokenizer.PadID())
	}
	return encodings, nil
}

// Forward runs the model on a batch of tokenized pairs and returns the [batch, NumClasses] scores.
// Parameters are not modified.
func (m *SBERTPredictor) Forward(sentence1, sentence2 []Encoding) ([][]float32, error) {
	inputs, err := InputTensors(sentence1, sentence2)
	if err != nil {
		return nil, err
	}
	defer FinalizeTensors(inputs)

	m.mu.Lock()
	defer m.mu.Unlock()
	var outputs []*tensors.Tensor
	if err = exceptions.TryCatch[error](func() {
		outputs = m.forwardExec.Call(inputs)
	}); err != nil {
		return nil, err
	}
	defer FinalizeTensors(outputs)
	return TensorToMatrix(outputs[0]), nil
}

// Classify tokenizes and classifies sentence pairs.
func (m *SBERTPredictor) Classify(sentence1, sentence2 []string) ([]Prediction, error) {
	if len(sentence1) != len(sentence2) {
		return nil, fmt.Errorf("%d first sentences but %d second sentences", len(sentence1), len(sentence2))
	}
	if len(sentence1) == 0 {
		return nil, nil
	}
	enc1, err := m.Tokenize(sentence1)
	if err != nil {
		return nil, err
	}
	enc2, err := m.Tokenize(sentence2)
	if err != nil {
		return nil, err
	}
	scores, err := m.Forward(enc1, enc2)
	if err != nil {
		return nil, err
	}
	predictions := make([]Prediction, len(scores))
	for i, row := range scores {
		class := ArgMax(row)
		predictions[i] = Prediction{Class: class, Label: m.LabelName(class), Scores: row}
	}
	return predictions, nil
}

// LabelName returns the configured name of a class index.
func (m *SBERTPredictor) LabelName(class int) string {
	if class >= 0 && class < len(m.Config.Labels) {
		return m.Config.Labels[class]
	}
	return fmt.Sprintf("LABEL_%d", class)
}

// Head returns a copy of the current head parameters.
func (m *SBERTPredictor) Head() (HeadParams, error) {
	var head HeadParams
	err := exceptions.TryCatch[error](func() {
		tensors.ConstFlatData(m.weights.Value(), func(flat []float32) {
			head.Weights = append([]float32(nil), flat...)
		})
		tensors.ConstFlatData(m.biases.Value(), func(flat []float32) {
			head.Biases = append([]float32(nil), flat...)
		})
	})
	return head, err
}

// SetHead replaces the head parameters, e.g. when restoring a saved model.
func (m *SBERTPredictor) SetHead(head HeadParams) error {
	featureDim, numClasses := m.Config.FeatureDim(), m.Config.NumClasses
	if len(head.Weights) != featureDim*numClasses || len(head.Biases) != numClasses {
		return fmt.Errorf("head has %d weights and %d biases, model needs %dx%d and %d",
			len(head.Weights), len(head.Biases), featureDim, numClasses, numClasses)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return exceptions.TryCatch[error](func() {
		m.weights.SetValue(tensors.FromFlatDataAndDimensions(append([]float32(nil), head.Weights...), featureDim, numClasses))
		m.biases.SetValue(tensors.FromFlatDataAndDimensions(append([]float32(nil), head.Biases...), numClasses))
	})
}

// FreezeEncoder stops gradient updates to the encoder; only the head is trained afterwards.
func (m *SBERTPredictor) FreezeEncoder() {
	m.ctx.EnumerateVariables(func(v *context.Variable) {
		if !strings.HasPrefix(v.Scope(), "/"+headScope) {
			v.Trainable = false
		}
	})
}

// Destroy releases the executors, variables and backend.
func (m *SBERTPredictor) Destroy() error {
	var err error
	if m.Tokenizer != nil {
		err = m.Tokenizer.Close()
	}
	err = errors.Join(err, exceptions.TryCatch[error](func() {
		if m.forwardExec != nil {
			m.forwardExec.Finalize()
		}
		if m.ctx != nil {
			m.ctx.Finalize()
		}
		if m.backend != nil {
			m.backend.Finalize()
		}
	}))
	return err
}

// ArgMax returns the index of the largest value, the first one on ties.
func ArgMax(row []float32) int {
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	return best
}
