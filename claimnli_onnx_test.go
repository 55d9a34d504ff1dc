package claimnli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knights-analytics/claimnli/options"
)

// backbonePath returns a backbone fetched by testData/downloadModels.go, skipping when absent.
func backbonePath(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join("models", name)
	if _, err := os.Stat(filepath.Join(path, "tokenizer.json")); err != nil {
		t.Skipf("backbone %s not downloaded, run go run ./testData", name)
	}
	return path
}

func TestTrainOnnxBackbone(t *testing.T) {
	if testing.Short() {
		t.Skip("onnx backbone training is slow")
	}
	path := backbonePath(t, "deepset_covid_bert_base")

	session, err := NewTrainingSession(TrainingConfig{
		ModelPath: path,
		MaxLength: 16,
		Device:    options.DeviceCPU,
		Corpora:   Corpora{MedNLI: &Corpus{Enabled: true, Train: sixPairs, Test: sixPairs[:3]}},
	})
	require.NoError(t, err)
	defer func() { assert.NoError(t, session.Destroy()) }()
	require.NoError(t, session.Train(context.Background()))
	assert.Equal(t, 768*3*3, session.Model().Config.FeatureDim())

	s1, s2 := pairs()
	before, err := session.Model().Classify(s1, s2)
	require.NoError(t, err)

	dir, err := session.Save(t.TempDir(), true)
	require.NoError(t, err)
	loaded, err := LoadModel(dir, options.WithDevice(options.DeviceCPU))
	require.NoError(t, err)
	defer func() { assert.NoError(t, loaded.Destroy()) }()
	after, err := loaded.Classify(s1, s2)
	require.NoError(t, err)
	for i := range before {
		assert.InDeltaSlice(t, before[i].Scores, after[i].Scores, 1e-4)
	}
}
