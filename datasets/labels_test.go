package datasets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabelMapsAreInverse(t *testing.T) {
	byName := Labels()
	byIndex := LabelNames()
	require.Len(t, byName, NumLabels)
	require.Len(t, byIndex, NumLabels)
	for name, label := range byName {
		assert.Equal(t, name, byIndex[label])
		assert.Equal(t, name, label.String())
	}
	assert.Equal(t, []string{"contradiction", "neutral", "entailment"}, OrderedLabelNames())
	assert.Equal(t, Contradiction, byName["contradiction"])
	assert.Equal(t, Neutral, byName["neutral"])
	assert.Equal(t, Entailment, byName["entailment"])
}

func TestParseLabel(t *testing.T) {
	for raw, want := range map[string]Label{
		"contradiction": Contradiction,
		" Neutral ":     Neutral,
		"ENTAILMENT":    Entailment,
		"0":             Contradiction,
		"2":             Entailment,
		"1.0":           Neutral,
	} {
		got, err := ParseLabel(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
	for _, raw := range []string{"", "-", "3", "-1", "1.5", "maybe"} {
		_, err := ParseLabel(raw)
		assert.ErrorIs(t, err, ErrInvalidLabel, raw)
		assert.ErrorIs(t, err, ErrData, raw)
	}
	assert.Equal(t, "Label(7)", Label(7).String())
}
