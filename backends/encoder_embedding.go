package backends

import (
	"fmt"
	"math/rand/v2"

	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"

	"github.com/knights-analytics/claimnli/util/fileutil"
)

const embeddingSaveFilename = "word_embeddings.json"

// EmbeddingEncoder is a word embedding table used in place of a transformer: each token id is looked
// up independently. With WordTokenizer it gives the average/max word-embedding SBERT variant.
type EmbeddingEncoder struct {
	VocabSize int
	Hidden    int
	seed      uint64
	initial   []float32
	table     *context.Variable
}

type embeddingFile struct {
	VocabSize  int       `json:"vocabSize"`
	HiddenSize int       `json:"hiddenSize"`
	Values     []float32 `json:"values"`
}

// NewEmbeddingEncoder creates a randomly initialised embedding table; seed makes it reproducible.
func NewEmbeddingEncoder(vocabSize, hiddenSize int, seed uint64) (*EmbeddingEncoder, error) {
	if vocabSize <= 0 || hiddenSize <= 0 {
		return nil, fmt.Errorf("embedding encoder needs positive vocabulary and hidden sizes, got %d and %d", vocabSize, hiddenSize)
	}
	return &EmbeddingEncoder{VocabSize: vocabSize, Hidden: hiddenSize, seed: seed}, nil
}

// LoadEmbeddingEncoder reads a table written by EmbeddingEncoder.Save.
func LoadEmbeddingEncoder(dir string) (*EmbeddingEncoder, error) {
	data, err := fileutil.ReadFileBytes(fileutil.PathJoinSafe(dir, embeddingSaveFilename))
	if err != nil {
		return nil, err
	}
	var f embeddingFile
	if err = json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", embeddingSaveFilename, err)
	}
	if len(f.Values) != f.VocabSize*f.HiddenSize {
		return nil, fmt.Errorf("%s holds %d values, expected %dx%d", embeddingSaveFilename, len(f.Values), f.VocabSize, f.HiddenSize)
	}
	e, err := NewEmbeddingEncoder(f.VocabSize, f.HiddenSize, 0)
	if err != nil {
		return nil, err
	}
	e.initial = f.Values
	return e, nil
}

func (e *EmbeddingEncoder) Kind() string {
	return EncoderEmbedding
}

func (e *EmbeddingEncoder) HiddenSize() int {
	return e.Hidden
}

func (e *EmbeddingEncoder) InitVariables(ctx *context.Context) error {
	values := e.initial
	if values == nil {
		rng := rand.New(rand.NewPCG(e.seed, e.seed^0x9e3779b97f4a7c15))
		values = make([]float32, e.VocabSize*e.Hidden)
		for i := range values {
			values[i] = float32(rng.NormFloat64() * 0.1)
		}
	}
	e.table = ctx.In("word_embeddings").VariableWithValue("embeddings", tensors.FromFlatDataAndDimensions(values, e.VocabSize, e.Hidden))
	return nil
}

func (e *EmbeddingEncoder) Encode(_ *context.Context, inputIDs, _, _ *graph.Node) *graph.Node {
	g := inputIDs.Graph()
	dims := inputIDs.Shape().Dimensions
	indices := graph.Reshape(inputIDs, dims[0], dims[1], 1)
	return graph.Gather(e.table.ValueGraph(g), indices)
}

func (e *EmbeddingEncoder) Save(_ *context.Context, dir string) error {
	if e.table == nil {
		return fmt.Errorf("embedding encoder has no variables: InitVariables was never called")
	}
	f := embeddingFile{VocabSize: e.VocabSize, HiddenSize: e.Hidden}
	tensors.ConstFlatData(e.table.Value(), func(flat []float32) {
		f.Values = append([]float32(nil), flat...)
	})
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return fileutil.WriteFile(fileutil.PathJoinSafe(dir, embeddingSaveFilename), data)
}
