//go:build RUST || ALL

package backends

import (
	"fmt"

	"github.com/daulet/tokenizers"
)

// RustTokenizer runs a huggingface tokenizer.json through the daulet/tokenizers bindings.
type RustTokenizer struct {
	Tokenizer *tokenizers.Tokenizer
	Options   []tokenizers.EncodeOption
	path      string
	raw       []byte
	padID     int64
}

func loadRustTokenizer(tokenizerBytes []byte, path string, padID int64) (Tokenizer, error) {
	tk, err := tokenizers.FromBytes(tokenizerBytes)
	if err != nil {
		return nil, fmt.Errorf("loading rust tokenizer from %s: %w", path, err)
	}
	return &RustTokenizer{
		Tokenizer: tk,
		Options: []tokenizers.EncodeOption{
			tokenizers.WithReturnTypeIDs(),
			tokenizers.WithReturnAttentionMask(),
		},
		path:  path,
		raw:   tokenizerBytes,
		padID: padID,
	}, nil
}

func (t *RustTokenizer) Kind() string {
	return TokenizerHuggingFace
}

func (t *RustTokenizer) Encode(text string) (Encoding, error) {
	output := t.Tokenizer.EncodeWithOptions(text, true, t.Options...)
	return Encoding{
		IDs:           uint32ToInt64(output.IDs),
		AttentionMask: uint32ToInt64(output.AttentionMask),
		TypeIDs:       uint32ToInt64(output.TypeIDs),
	}, nil
}

func (t *RustTokenizer) PadID() int64 {
	return t.padID
}

func (t *RustTokenizer) Save(dir string) error {
	return saveTokenizerFiles(t.raw, t.path, dir)
}

func (t *RustTokenizer) Close() error {
	return t.Tokenizer.Close()
}
