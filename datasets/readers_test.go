package datasets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadJSONL(t *testing.T) {
	path := writeFile(t, "train.jsonl", `{"sentence1": "a b", "sentence2": "c", "gold_label": "entailment"}

{"sentence1": "d", "sentence2": "e", "label": 0}
{"sentence1": "f", "sentence2": "g", "label": "-"}
`)
	_, err := ReadExamples(path, ReadOptions{})
	assert.ErrorIs(t, err, ErrInvalidLabel)

	examples, err := ReadExamples(path, ReadOptions{SkipUnlabelled: true})
	require.NoError(t, err)
	assert.Equal(t, []Example{
		{Sentence1: "a b", Sentence2: "c", Label: Entailment},
		{Sentence1: "d", Sentence2: "e", Label: Contradiction},
	}, examples)
}

func TestReadJSONLMalformed(t *testing.T) {
	_, err := ReadExamples(writeFile(t, "bad.jsonl", "{\"sentence1\": \"a\"\n"), ReadOptions{})
	assert.ErrorIs(t, err, ErrMalformedRow)
	_, err = ReadExamples(writeFile(t, "missing.jsonl", `{"sentence1": "a", "label": "neutral"}`), ReadOptions{})
	assert.ErrorIs(t, err, ErrMalformedRow)
}

func TestReadDelimited(t *testing.T) {
	csvPath := writeFile(t, "mancon.csv", "sentence1,sentence2,label\n\"masks, in public\",masks fail,contradiction\nx,y,1\n")
	examples, err := ReadExamples(csvPath, ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []Example{
		{Sentence1: "masks, in public", Sentence2: "masks fail", Label: Contradiction},
		{Sentence1: "x", Sentence2: "y", Label: Neutral},
	}, examples)

	tsvPath := writeFile(t, "mednli.tsv", "gold_label\tsentence1\tsentence2\nentailment\tp\tq\n")
	examples, err = ReadExamples(tsvPath, ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []Example{{Sentence1: "p", Sentence2: "q", Label: Entailment}}, examples)

	_, err = ReadExamples(writeFile(t, "bad.csv", "sentence1,sentence2,label\na,b,5\n"), ReadOptions{})
	assert.ErrorIs(t, err, ErrInvalidLabel)

	_, err = ReadExamples(writeFile(t, "data.parquet", ""), ReadOptions{})
	assert.Error(t, err)
}

func TestReadDelimitedHeader(t *testing.T) {
	for name, content := range map[string]string{
		"renamed.tsv":  "premise\thypothesis\tlabel\nmasks work\tmasks fail\tcontradiction\n",
		"one_side.csv": "sentence1,label\nmasks work,contradiction\n",
		"no_label.csv": "sentence1,sentence2,verdict\nmasks work,masks fail,contradiction\n",
	} {
		t.Run(name, func(t *testing.T) {
			examples, err := ReadExamples(writeFile(t, name, content), ReadOptions{})
			assert.ErrorIs(t, err, ErrMalformedRow)
			assert.ErrorIs(t, err, ErrData)
			assert.Nil(t, examples)
		})
	}

	_, err := ReadExamples(writeFile(t, "renamed.tsv", "premise\thypothesis\tlabel\na\tb\t0\n"), ReadOptions{})
	assert.ErrorContains(t, err, "header lacks sentence1, sentence2")
}

func TestReadWithPreprocess(t *testing.T) {
	path := writeFile(t, "claims.jsonl", `{"sentence1": "[CLS] masks work [SEP] masks fail [SEP]", "sentence2": "", "label": 0}`+"\n")
	examples, err := ReadExamples(path, ReadOptions{Preprocess: StripClaimTokens})
	require.NoError(t, err)
	assert.Equal(t, []Example{{Sentence1: "masks work", Sentence2: "masks fail", Label: Contradiction}}, examples)
}
