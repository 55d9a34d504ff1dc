package backends

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildWordVocabulary(t *testing.T) {
	vocab := BuildWordVocabulary([]string{"The drug, the DRUG!", "a drug works"}, 0)
	assert.Equal(t, []string{"drug", "the", "a", "works"}, vocab)
	assert.Equal(t, []string{"drug", "the"}, BuildWordVocabulary([]string{"The drug, the DRUG!", "a drug works"}, 2))
}

func TestWordTokenizer(t *testing.T) {
	tok := NewWordTokenizer([]string{"drug", "works", "drug", "[PAD]"})
	assert.Equal(t, 6, tok.VocabSize())
	assert.Equal(t, int64(0), tok.PadID())

	e, err := tok.Encode("Drug works well")
	require.NoError(t, err)
	// [CLS] drug works [UNK] [SEP]
	assert.Equal(t, []int64{2, 4, 5, 1, 3}, e.IDs)
	assert.Equal(t, []int64{1, 1, 1, 1, 1}, e.AttentionMask)
	assert.Equal(t, []int64{0, 0, 0, 0, 0}, e.TypeIDs)

	dir := t.TempDir()
	require.NoError(t, tok.Save(dir))
	loaded, err := LoadWordTokenizer(dir)
	require.NoError(t, err)
	again, err := loaded.Encode("Drug works well")
	require.NoError(t, err)
	assert.Equal(t, e, again)

	tokenizer, err := LoadTokenizer(TokenizerWord, dir, nil)
	require.NoError(t, err)
	assert.Equal(t, TokenizerWord, tokenizer.Kind())
	assert.NoError(t, tokenizer.Close())

	_, err = LoadTokenizer("sentencepiece", dir, nil)
	assert.Error(t, err)
}

func TestEmbeddingEncoderSaveLoad(t *testing.T) {
	_, err := NewEmbeddingEncoder(0, 4, 1)
	assert.Error(t, err)

	model := newTestModel(t, 4, nil)
	dir := t.TempDir()
	require.NoError(t, model.Encoder.Save(model.Context(), dir))
	encoder, err := LoadEncoder(EncoderEmbedding, dir)
	require.NoError(t, err)
	assert.Equal(t, 4, encoder.HiddenSize())
	assert.Equal(t, EncoderEmbedding, encoder.Kind())

	_, err = LoadEncoder("lstm", dir)
	assert.Error(t, err)
}
