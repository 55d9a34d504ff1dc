package datasets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitClaimPair(t *testing.T) {
	s1, s2, err := SplitClaimPair("[CLS] vitamin d  helps [SEP] vitamin d does not help [SEP]")
	require.NoError(t, err)
	assert.Equal(t, "vitamin d helps", s1)
	assert.Equal(t, "vitamin d does not help", s2)

	_, _, err = SplitClaimPair("[CLS] only one claim [SEP]")
	assert.ErrorIs(t, err, ErrMalformedRow)
}

func TestStripClaimTokens(t *testing.T) {
	out, err := StripClaimTokens([]Example{
		{Sentence1: "[CLS] a [SEP]", Sentence2: "b [SEP]", Label: Neutral},
		{Sentence1: "[CLS] c [SEP] d [SEP]", Label: Entailment},
	})
	require.NoError(t, err)
	assert.Equal(t, []Example{
		{Sentence1: "a", Sentence2: "b", Label: Neutral},
		{Sentence1: "c", Sentence2: "d", Label: Entailment},
	}, out)

	_, err = StripClaimTokens([]Example{{Sentence1: "no separator"}})
	assert.ErrorIs(t, err, ErrMalformedRow)
}

func TestExamplesFromClaims(t *testing.T) {
	examples, err := ExamplesFromClaims([]string{"[CLS] a [SEP] b [SEP]"}, []int{2})
	require.NoError(t, err)
	assert.Equal(t, []Example{{Sentence1: "a", Sentence2: "b", Label: Entailment}}, examples)

	_, err = ExamplesFromClaims([]string{"[CLS] a [SEP] b [SEP]"}, []int{3})
	assert.ErrorIs(t, err, ErrInvalidLabel)
	_, err = ExamplesFromClaims([]string{"x"}, nil)
	assert.ErrorIs(t, err, ErrMalformedRow)
}
