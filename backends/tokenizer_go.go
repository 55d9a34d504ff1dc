package backends

import (
	"bytes"
	"fmt"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// GoTokenizer runs a huggingface tokenizer.json with the pure Go sugarme/tokenizer port.
type GoTokenizer struct {
	Tokenizer *tokenizer.Tokenizer
	path      string
	raw       []byte
	padID     int64
}

func loadGoTokenizer(tokenizerBytes []byte, path string, padID int64) (Tokenizer, error) {
	tk, err := pretrained.FromReader(bytes.NewReader(tokenizerBytes))
	if err != nil {
		return nil, fmt.Errorf("loading go tokenizer from %s: %w", path, err)
	}
	return &GoTokenizer{Tokenizer: tk, path: path, raw: tokenizerBytes, padID: padID}, nil
}

func (t *GoTokenizer) Kind() string {
	return TokenizerHuggingFace
}

func (t *GoTokenizer) Encode(text string) (Encoding, error) {
	output, err := t.Tokenizer.EncodeSingle(text, true)
	if err != nil {
		return Encoding{}, err
	}
	return Encoding{
		IDs:           toInt64(output.Ids),
		AttentionMask: toInt64(output.AttentionMask),
		TypeIDs:       toInt64(output.TypeIds),
	}, nil
}

func (t *GoTokenizer) PadID() int64 {
	return t.padID
}

func (t *GoTokenizer) Save(dir string) error {
	return saveTokenizerFiles(t.raw, t.path, dir)
}

func (t *GoTokenizer) Close() error {
	return nil
}
