package backends

import (
	"fmt"

	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Encoder kinds recorded in saved models.
const (
	EncoderONNX      = "onnx"
	EncoderEmbedding = "embedding"
)

// Encoder is the pretrained backbone: it maps token ids to contextual token embeddings.
type Encoder interface {
	Kind() string
	HiddenSize() int
	// InitVariables creates the encoder's (pretrained) variables in ctx.
	InitVariables(ctx *context.Context) error
	// Encode returns token embeddings shaped [batch, sequence, hidden].
	Encode(ctx *context.Context, inputIDs, attentionMask, typeIDs *graph.Node) *graph.Node
	// Save writes the encoder, with the current values of its variables in ctx, into dir.
	Save(ctx *context.Context, dir string) error
}

// LoadEncoder reads an encoder previously written with Encoder.Save.
func LoadEncoder(kind string, dir string) (Encoder, error) {
	switch kind {
	case EncoderONNX:
		return NewOnnxEncoder(dir, onnxSaveFilename)
	case EncoderEmbedding:
		return LoadEmbeddingEncoder(dir)
	default:
		return nil, fmt.Errorf("encoder kind %s not recognized", kind)
	}
}
