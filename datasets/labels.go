package datasets

import (
	"fmt"
	"strconv"
	"strings"
)

// Label is the NLI class of a sentence pair.
type Label int

// The canonical label encoding. Every boundary (readers, class weights, accuracy, saved models)
// goes through this table.
const (
	Contradiction Label = 0
	Neutral       Label = 1
	Entailment    Label = 2
)

// NumLabels is the number of NLI classes.
const NumLabels = 3

var labelNames = [NumLabels]string{
	Contradiction: "contradiction",
	Neutral:       "neutral",
	Entailment:    "entailment",
}

func (l Label) Valid() bool {
	return l >= 0 && int(l) < NumLabels
}

func (l Label) String() string {
	if !l.Valid() {
		return fmt.Sprintf("Label(%d)", int(l))
	}
	return labelNames[l]
}

// Labels returns the label name to index mapping.
func Labels() map[string]Label {
	m := make(map[string]Label, NumLabels)
	for i, name := range labelNames {
		m[name] = Label(i)
	}
	return m
}

// LabelNames returns the index to label name mapping.
func LabelNames() map[Label]string {
	m := make(map[Label]string, NumLabels)
	for i, name := range labelNames {
		m[Label(i)] = name
	}
	return m
}

// OrderedLabelNames lists the label names by index, as a model's class names.
func OrderedLabelNames() []string {
	return append([]string(nil), labelNames[:]...)
}

// ParseLabel accepts a label name (case and surrounding space insensitive) or its index.
func ParseLabel(raw string) (Label, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	for i, name := range labelNames {
		if s == name {
			return Label(i), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil {
		return CheckLabel(n)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int(f)) {
		return CheckLabel(int(f))
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidLabel, raw)
}

// CheckLabel converts a numeric label, rejecting anything outside the canonical range.
func CheckLabel(n int) (Label, error) {
	l := Label(n)
	if !l.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidLabel, n)
	}
	return l, nil
}
