//go:build !RUST && !ALL

package backends

import "errors"

func loadRustTokenizer(_ []byte, _ string, _ int64) (Tokenizer, error) {
	return nil, errors.New("rust tokenizer is not enabled, build with -tags RUST")
}
