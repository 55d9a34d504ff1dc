package backends

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/knights-analytics/claimnli/options"
	"github.com/knights-analytics/claimnli/util/fileutil"
)

// Tokenizer kinds recorded in saved models.
const (
	TokenizerHuggingFace = "huggingface"
	TokenizerWord        = "word"
)

// Encoding is a tokenized sentence.
type Encoding struct {
	IDs           []int64
	AttentionMask []int64
	TypeIDs       []int64
}

func (e Encoding) Len() int {
	return len(e.IDs)
}

// Fit truncates or pads the encoding to exactly maxLength tokens.
// On truncation the final (separator) token is kept in the last position.
func (e Encoding) Fit(maxLength int, padID int64) Encoding {
	n := len(e.IDs)
	out := Encoding{
		IDs:           make([]int64, maxLength),
		AttentionMask: make([]int64, maxLength),
		TypeIDs:       make([]int64, maxLength),
	}
	keep := min(n, maxLength)
	copy(out.IDs, e.IDs[:keep])
	copy(out.AttentionMask, e.AttentionMask[:min(keep, len(e.AttentionMask))])
	copy(out.TypeIDs, e.TypeIDs[:min(keep, len(e.TypeIDs))])
	if n > maxLength && maxLength > 1 {
		out.IDs[maxLength-1] = e.IDs[n-1]
	}
	for i := keep; i < maxLength; i++ {
		out.IDs[i] = padID
	}
	return out
}

// Tokenizer turns text into token ids for the encoder.
type Tokenizer interface {
	Kind() string
	Encode(text string) (Encoding, error)
	PadID() int64
	// Save writes whatever is needed to rebuild the tokenizer into dir.
	Save(dir string) error
	Close() error
}

// LoadTokenizer loads the tokenizer stored at path. For huggingface tokenizers the runtime
// (Go or Rust) is chosen by the options.
func LoadTokenizer(kind string, path string, opts *options.Options) (Tokenizer, error) {
	switch kind {
	case TokenizerWord:
		return LoadWordTokenizer(path)
	case TokenizerHuggingFace, "":
		tokenizerBytes, err := fileutil.ReadFileBytes(fileutil.PathJoinSafe(path, "tokenizer.json"))
		if err != nil {
			return nil, fmt.Errorf("reading tokenizer.json at %s: %w", path, err)
		}
		padID, err := padTokenID(tokenizerBytes)
		if err != nil {
			return nil, err
		}
		switch opts.Tokenizer {
		case options.TokenizerRust:
			return loadRustTokenizer(tokenizerBytes, path, padID)
		case options.TokenizerGo, "":
			return loadGoTokenizer(tokenizerBytes, path, padID)
		default:
			return nil, fmt.Errorf("tokenizer runtime %s not recognized", opts.Tokenizer)
		}
	default:
		return nil, fmt.Errorf("tokenizer kind %s not recognized", kind)
	}
}

var padTokens = []string{"[PAD]", "<pad>", "<|padding|>"}

// padTokenID finds the padding token in a huggingface tokenizer.json. Defaults to 0.
func padTokenID(tokenizerBytes []byte) (int64, error) {
	var spec struct {
		Padding *struct {
			PadID int64 `json:"pad_id"`
		} `json:"padding"`
		AddedTokens []struct {
			ID      int64  `json:"id"`
			Content string `json:"content"`
		} `json:"added_tokens"`
	}
	if err := json.Unmarshal(tokenizerBytes, &spec); err != nil {
		return 0, fmt.Errorf("parsing tokenizer.json: %w", err)
	}
	if spec.Padding != nil {
		return spec.Padding.PadID, nil
	}
	for _, candidate := range padTokens {
		for _, t := range spec.AddedTokens {
			if t.Content == candidate {
				return t.ID, nil
			}
		}
	}
	return 0, nil
}

// saveTokenizerFiles writes tokenizer.json from memory, since the source directory may be gone by the
// time a model is saved, then copies the companion vocabulary files still found next to the original.
func saveTokenizerFiles(tokenizerBytes []byte, from, to string) error {
	if err := fileutil.WriteFile(fileutil.PathJoinSafe(to, "tokenizer.json"), tokenizerBytes); err != nil {
		return err
	}
	if from == "" || from == to {
		return nil
	}
	exists, err := fileutil.FileExists(from)
	if err != nil || !exists {
		return err
	}
	toCopy := map[string]bool{
		"special_tokens_map.json": true,
		"tokenizer_config.json":   true,
		"vocab.txt":               true,
		"vocab.json":              true,
		"merges.txt":              true,
	}
	walker := func(ctx context.Context, _ string, parent string, info os.FileInfo, _ io.Reader) (toContinue bool, err error) {
		if parent == "" && toCopy[info.Name()] {
			if err = fileutil.CopyFile(ctx, fileutil.PathJoinSafe(from, info.Name()), fileutil.PathJoinSafe(to, info.Name())); err != nil {
				return false, err
			}
		}
		return true, nil
	}
	return fileutil.WalkDir()(context.Background(), from, walker)
}

func toInt64(input []int) []int64 {
	output := make([]int64, len(input))
	for i, x := range input {
		output[i] = int64(x)
	}
	return output
}

func uint32ToInt64(input []uint32) []int64 {
	output := make([]int64, len(input))
	for i, x := range input {
		output[i] = int64(x)
	}
	return output
}
