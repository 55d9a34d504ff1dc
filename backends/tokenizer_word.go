package backends

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/knights-analytics/claimnli/util/fileutil"
)

const wordVocabFile = "vocab.txt"

var wordSpecialTokens = []string{"[PAD]", "[UNK]", "[CLS]", "[SEP]"}

// WordTokenizer is a lowercase word-level tokenizer over a fixed vocabulary. It pairs with
// EmbeddingEncoder for small word-embedding SBERT models.
type WordTokenizer struct {
	vocab []string
	index map[string]int64
}

// NewWordTokenizer builds a tokenizer from a vocabulary. The special tokens [PAD], [UNK], [CLS] and [SEP]
// always occupy ids 0 to 3; duplicates in vocab are ignored.
func NewWordTokenizer(vocab []string) *WordTokenizer {
	t := &WordTokenizer{index: map[string]int64{}}
	for _, token := range slices.Concat(wordSpecialTokens, vocab) {
		if _, ok := t.index[token]; ok || token == "" {
			continue
		}
		t.index[token] = int64(len(t.vocab))
		t.vocab = append(t.vocab, token)
	}
	return t
}

// BuildWordVocabulary returns the maxSize most frequent words in texts, ties broken alphabetically.
func BuildWordVocabulary(texts []string, maxSize int) []string {
	counts := map[string]int{}
	for _, text := range texts {
		for _, w := range splitWords(text) {
			counts[w]++
		}
	}
	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	slices.SortFunc(words, func(a, b string) int {
		if c := cmp.Compare(counts[b], counts[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	if maxSize > 0 && len(words) > maxSize {
		words = words[:maxSize]
	}
	return words
}

func LoadWordTokenizer(dir string) (*WordTokenizer, error) {
	data, err := fileutil.ReadFileBytes(fileutil.PathJoinSafe(dir, wordVocabFile))
	if err != nil {
		return nil, fmt.Errorf("reading word vocabulary: %w", err)
	}
	return NewWordTokenizer(strings.Split(strings.TrimRight(string(data), "\n"), "\n")), nil
}

func (t *WordTokenizer) Kind() string {
	return TokenizerWord
}

func (t *WordTokenizer) VocabSize() int {
	return len(t.vocab)
}

func (t *WordTokenizer) Encode(text string) (Encoding, error) {
	words := splitWords(text)
	e := Encoding{
		IDs:           make([]int64, 0, len(words)+2),
		AttentionMask: make([]int64, len(words)+2),
		TypeIDs:       make([]int64, len(words)+2),
	}
	e.IDs = append(e.IDs, t.index["[CLS]"])
	for _, w := range words {
		id, ok := t.index[w]
		if !ok {
			id = t.index["[UNK]"]
		}
		e.IDs = append(e.IDs, id)
	}
	e.IDs = append(e.IDs, t.index["[SEP]"])
	for i := range e.AttentionMask {
		e.AttentionMask[i] = 1
	}
	return e, nil
}

func (t *WordTokenizer) PadID() int64 {
	return t.index["[PAD]"]
}

func (t *WordTokenizer) Save(dir string) error {
	return fileutil.WriteFile(fileutil.PathJoinSafe(dir, wordVocabFile), []byte(strings.Join(t.vocab, "\n")+"\n"))
}

func (t *WordTokenizer) Close() error {
	return nil
}

func splitWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
