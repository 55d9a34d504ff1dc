package datasets

import (
	"fmt"
	"strings"
)

const (
	clsMarker = "[CLS]"
	sepMarker = "[SEP]"
)

// SplitClaimPair splits text of the form "[CLS] claim one [SEP] claim two [SEP]" into its two claims.
func SplitClaimPair(text string) (string, string, error) {
	text = strings.ReplaceAll(text, clsMarker, " ")
	var parts []string
	for _, p := range strings.Split(text, sepMarker) {
		if p = strings.Join(strings.Fields(p), " "); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: expected two claims separated by %s, found %d", ErrMalformedRow, sepMarker, len(parts))
	}
	return parts[0], parts[1], nil
}

// StripClaimTokens is an ExamplePreprocessFunc for corpora exported with BERT markers.
// Examples with an empty sentence2 have their sentence1 split on [SEP]; otherwise the markers are removed.
func StripClaimTokens(examples []Example) ([]Example, error) {
	out := make([]Example, len(examples))
	for i, ex := range examples {
		if strings.TrimSpace(ex.Sentence2) == "" {
			s1, s2, err := SplitClaimPair(ex.Sentence1)
			if err != nil {
				return nil, fmt.Errorf("example %d: %w", i, err)
			}
			out[i] = Example{Sentence1: s1, Sentence2: s2, Label: ex.Label}
			continue
		}
		out[i] = Example{
			Sentence1: stripMarkers(ex.Sentence1),
			Sentence2: stripMarkers(ex.Sentence2),
			Label:     ex.Label,
		}
	}
	return out, nil
}

// ExamplesFromClaims pairs combined "[CLS] a [SEP] b [SEP]" texts with their labels.
func ExamplesFromClaims(texts []string, labels []int) ([]Example, error) {
	if len(texts) != len(labels) {
		return nil, fmt.Errorf("%w: %d texts but %d labels", ErrMalformedRow, len(texts), len(labels))
	}
	examples := make([]Example, len(texts))
	for i, text := range texts {
		s1, s2, err := SplitClaimPair(text)
		if err != nil {
			return nil, fmt.Errorf("claim %d: %w", i, err)
		}
		label, err := CheckLabel(labels[i])
		if err != nil {
			return nil, fmt.Errorf("claim %d: %w", i, err)
		}
		examples[i] = Example{Sentence1: s1, Sentence2: s2, Label: label}
	}
	return examples, nil
}

func stripMarkers(s string) string {
	s = strings.ReplaceAll(s, clsMarker, " ")
	s = strings.ReplaceAll(s, sepMarker, " ")
	return strings.Join(strings.Fields(s), " ")
}
