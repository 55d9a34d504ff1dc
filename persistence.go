package claimnli

import (
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/knights-analytics/claimnli/backends"
	"github.com/knights-analytics/claimnli/options"
	"github.com/knights-analytics/claimnli/trainer"
	"github.com/knights-analytics/claimnli/util/fileutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SchemaVersion of the saved model layout. LoadModel refuses any other version.
const SchemaVersion = 1

const (
	configFilename     = "nli_config.json"
	headFilename       = "head.json"
	statisticsFilename = "statistics.json"
)

var ErrUnsupportedSchema = fmt.Errorf("%w: unsupported model schema", ErrResource)

// savedConfig is the content of nli_config.json.
type savedConfig struct {
	SchemaVersion int    `json:"schemaVersion"`
	Encoder       string `json:"encoder"`
	Tokenizer     string `json:"tokenizer"`
	backends.ModelConfig
}

type savedHead struct {
	Shape []int `json:"shape"`
	backends.HeadParams
}

var now = time.Now

// TimedDirName is the M-D-YYYY directory a timed save goes to.
func TimedDirName(t time.Time) string {
	return fmt.Sprintf("%d-%d-%d", int(t.Month()), t.Day(), t.Year())
}

// SaveModel writes model into dir, or into dir/M-D-YYYY when timedDirName is set, and returns the
// directory used. The layout is nli_config.json, the encoder (model.onnx or word_embeddings.json),
// head.json and the tokenizer files. dir may be local or s3://.
func SaveModel(model *backends.SBERTPredictor, dir string, timedDirName bool) (string, error) {
	return saveModel(model, dir, timedDirName, nil)
}

func saveModel(model *backends.SBERTPredictor, dir string, timedDirName bool, statistics map[string]trainer.Statistics) (string, error) {
	if model == nil {
		return "", errors.New("model is nil")
	}
	if dir == "" {
		return "", errors.New("save directory is required")
	}
	if model.Tokenizer == nil {
		return "", errors.New("model has no tokenizer, it could not be loaded back")
	}
	target := dir
	if timedDirName {
		target = fileutil.PathJoinSafe(dir, TimedDirName(now()))
	}
	if err := fileutil.CreateDir(target); err != nil {
		return "", err
	}

	config := savedConfig{
		SchemaVersion: SchemaVersion,
		Encoder:       model.Encoder.Kind(),
		Tokenizer:     model.Tokenizer.Kind(),
		ModelConfig:   model.Config,
	}
	if err := writeJSON(fileutil.PathJoinSafe(target, configFilename), config); err != nil {
		return "", err
	}
	if err := model.Encoder.Save(model.Context(), target); err != nil {
		return "", fmt.Errorf("saving encoder: %w", err)
	}
	head, err := model.Head()
	if err != nil {
		return "", err
	}
	if err = writeJSON(fileutil.PathJoinSafe(target, headFilename), savedHead{
		Shape:      []int{model.Config.FeatureDim(), model.Config.NumClasses},
		HeadParams: head,
	}); err != nil {
		return "", err
	}
	if err = model.Tokenizer.Save(target); err != nil {
		return "", fmt.Errorf("saving tokenizer: %w", err)
	}
	if len(statistics) > 0 {
		if err = writeJSON(fileutil.PathJoinSafe(target, statisticsFilename), statistics); err != nil {
			return "", err
		}
	}
	return target, nil
}

// IsSavedModel reports whether dir holds a model written by SaveModel.
func IsSavedModel(dir string) (bool, error) {
	return fileutil.FileExists(fileutil.PathJoinSafe(dir, configFilename))
}

// LoadModel rebuilds a model written by SaveModel. opts choose the device and tokenizer runtime.
func LoadModel(dir string, opts ...options.WithOption) (*backends.SBERTPredictor, error) {
	var config savedConfig
	if err := readJSON(fileutil.PathJoinSafe(dir, configFilename), &config); err != nil {
		return nil, err
	}
	if config.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: %s has version %d, this build reads %d", ErrUnsupportedSchema, dir, config.SchemaVersion, SchemaVersion)
	}
	var head savedHead
	if err := readJSON(fileutil.PathJoinSafe(dir, headFilename), &head); err != nil {
		return nil, err
	}

	o, err := options.Apply(opts...)
	if err != nil {
		return nil, err
	}
	encoder, err := backends.LoadEncoder(config.Encoder, dir)
	if err != nil {
		return nil, fmt.Errorf("%w: loading encoder: %w", ErrResource, err)
	}
	tokenizer, err := backends.LoadTokenizer(config.Tokenizer, dir, o)
	if err != nil {
		return nil, fmt.Errorf("%w: loading tokenizer: %w", ErrResource, err)
	}
	model, err := backends.NewSBERTPredictor(encoder, tokenizer, config.ModelConfig, opts...)
	if err != nil {
		return nil, errors.Join(err, tokenizer.Close())
	}
	if len(head.Shape) != 2 || head.Shape[0] != config.FeatureDim() || head.Shape[1] != config.NumClasses {
		return nil, errors.Join(fmt.Errorf("head shape %v does not match the model config", head.Shape), model.Destroy())
	}
	if err = model.SetHead(head.HeadParams); err != nil {
		return nil, errors.Join(err, model.Destroy())
	}
	return model, nil
}

// LoadStatistics reads the per-corpus training statistics saved with a model, if any.
func LoadStatistics(dir string) (map[string]trainer.Statistics, error) {
	path := fileutil.PathJoinSafe(dir, statisticsFilename)
	exists, err := fileutil.FileExists(path)
	if err != nil || !exists {
		return nil, err
	}
	var statistics map[string]trainer.Statistics
	if err = readJSON(path, &statistics); err != nil {
		return nil, err
	}
	return statistics, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return fileutil.WriteFile(path, data)
}

func readJSON(path string, v any) error {
	data, err := fileutil.ReadFileBytes(path)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %w", ErrResource, path, err)
	}
	if err = json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: parsing %s: %w", ErrResource, path, err)
	}
	return nil
}
