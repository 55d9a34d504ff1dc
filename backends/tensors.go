package backends

import (
	"fmt"

	"github.com/gomlx/gomlx/types/tensors"
)

// InputTensors converts two parallel batches of encodings into the six [batch, sequence] int64 tensors
// expected by SBERTPredictor.ScoresGraph. Every encoding on a side must have the same length.
func InputTensors(sentence1, sentence2 []Encoding) ([]*tensors.Tensor, error) {
	if len(sentence1) != len(sentence2) {
		return nil, fmt.Errorf("batch sides differ: %d first sentences, %d second sentences", len(sentence1), len(sentence2))
	}
	if len(sentence1) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	left, err := encodingTensors(sentence1)
	if err != nil {
		return nil, err
	}
	right, err := encodingTensors(sentence2)
	if err != nil {
		FinalizeTensors(left)
		return nil, err
	}
	return append(left, right...), nil
}

func encodingTensors(encodings []Encoding) ([]*tensors.Tensor, error) {
	batchSize := len(encodings)
	seqLen := encodings[0].Len()
	ids := make([]int64, 0, batchSize*seqLen)
	mask := make([]int64, 0, batchSize*seqLen)
	typeIDs := make([]int64, 0, batchSize*seqLen)
	for i, e := range encodings {
		if e.Len() != seqLen || len(e.AttentionMask) != seqLen || len(e.TypeIDs) != seqLen {
			return nil, fmt.Errorf("encoding %d has length %d, expected %d: fit encodings to a fixed length first", i, e.Len(), seqLen)
		}
		ids = append(ids, e.IDs...)
		mask = append(mask, e.AttentionMask...)
		typeIDs = append(typeIDs, e.TypeIDs...)
	}
	return []*tensors.Tensor{
		tensors.FromFlatDataAndDimensions(ids, batchSize, seqLen),
		tensors.FromFlatDataAndDimensions(mask, batchSize, seqLen),
		tensors.FromFlatDataAndDimensions(typeIDs, batchSize, seqLen),
	}, nil
}

// TensorToMatrix copies a rank 2 float32 tensor into a [][]float32.
func TensorToMatrix(t *tensors.Tensor) [][]float32 {
	dims := t.Shape().Dimensions
	rows, cols := dims[0], 1
	if len(dims) > 1 {
		cols = dims[1]
	}
	out := make([][]float32, rows)
	tensors.ConstFlatData(t, func(flat []float32) {
		for i := range out {
			out[i] = append([]float32(nil), flat[i*cols:(i+1)*cols]...)
		}
	})
	return out
}

// TensorToScalar reads a float32 scalar tensor.
func TensorToScalar(t *tensors.Tensor) float32 {
	var v float32
	tensors.ConstFlatData(t, func(flat []float32) {
		v = flat[0]
	})
	return v
}

func FinalizeTensors(ts []*tensors.Tensor) {
	for _, t := range ts {
		if t != nil {
			t.FinalizeAll()
		}
	}
}
