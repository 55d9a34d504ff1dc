package claimnli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/phuslu/log"

	"github.com/knights-analytics/claimnli/backends"
	"github.com/knights-analytics/claimnli/datasets"
	"github.com/knights-analytics/claimnli/options"
	"github.com/knights-analytics/claimnli/trainer"
	"github.com/knights-analytics/claimnli/util/fileutil"
)

// Corpus names, in training order.
const (
	CorpusMultiNLI = "multinli"
	CorpusMedNLI   = "mednli"
	CorpusManCon   = "mancon"
)

// Corpus is one NLI dataset. Splits are given as examples or as files readable by datasets.ReadExamples;
// examples win when both are set. The test split, when present, is used for validation.
type Corpus struct {
	Enabled   bool
	Train     []datasets.Example
	Test      []datasets.Example
	TrainPath string
	TestPath  string
}

type Corpora struct {
	MultiNLI *Corpus
	MedNLI   *Corpus
	ManCon   *Corpus
}

func (c Corpora) ordered() []namedCorpus {
	return []namedCorpus{
		{name: CorpusMultiNLI, corpus: c.MultiNLI},
		{name: CorpusMedNLI, corpus: c.MedNLI},
		{name: CorpusManCon, corpus: c.ManCon},
	}
}

type namedCorpus struct {
	name   string
	corpus *Corpus
}

type TrainingConfig struct {
	// ModelName is a registered backbone or a huggingface repository with an ONNX export.
	ModelName string
	// ModelPath is a local backbone directory, or a directory written by SaveModel to keep training
	// a saved model. It takes precedence over ModelName.
	ModelPath string
	// CacheDir receives downloaded backbones.
	CacheDir string
	Corpora  Corpora

	BatchSize     int
	EvalBatchSize int
	Epochs        int
	LearningRate  float64
	Activation    backends.Activation
	Device        options.Device
	MaxLength     int
	FreezeEncoder bool
	// KeepBackboneFiles leaves a downloaded backbone in CacheDir after the model is built.
	KeepBackboneFiles bool
	Verbose           bool

	ReadOptions datasets.ReadOptions
	Download    DownloadOptions
	Options     []options.WithOption
	Logger      *log.Logger
}

const (
	DefaultBatchSize     = 2
	DefaultEvalBatchSize = 1
	DefaultEpochs        = 1
	DefaultCacheDir      = "models"
)

// TrainingSession fine-tunes one model over MultiNLI, MedNLI and ManCon in that order.
type TrainingSession struct {
	config     TrainingConfig
	logger     *log.Logger
	splits     map[string][2][]datasets.Example
	model      *backends.SBERTPredictor
	statistics map[string]trainer.Statistics
	// set when the caller chose them rather than leaving the defaults.
	activationSet bool
	maxLengthSet  bool
}

// NewTrainingSession validates the configuration and reads every enabled corpus, so malformed data
// fails before any model is built.
func NewTrainingSession(config TrainingConfig) (*TrainingSession, error) {
	if config.ModelPath == "" && config.ModelName == "" {
		return nil, fmt.Errorf("%w: a model name or model path is required", ErrResource)
	}
	activationSet, maxLengthSet := config.Activation != "", config.MaxLength != 0
	if config.BatchSize == 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.EvalBatchSize == 0 {
		config.EvalBatchSize = DefaultEvalBatchSize
	}
	if config.Epochs == 0 {
		config.Epochs = DefaultEpochs
	}
	if config.LearningRate == 0 {
		config.LearningRate = trainer.DefaultLearningRate
	}
	if config.MaxLength == 0 {
		config.MaxLength = datasets.DefaultMaxLength
	}
	if config.CacheDir == "" {
		config.CacheDir = DefaultCacheDir
	}
	if config.Download == (DownloadOptions{}) {
		config.Download = NewDownloadOptions()
	}
	if config.BatchSize < 0 || config.EvalBatchSize < 0 || config.Epochs < 0 {
		return nil, fmt.Errorf("batch sizes and epochs must be positive, got %d, %d and %d", config.BatchSize, config.EvalBatchSize, config.Epochs)
	}
	activation, err := backends.ParseActivation(string(config.Activation))
	if err != nil {
		return nil, err
	}
	config.Activation = activation
	if config.Device != "" {
		config.Options = append(config.Options, options.WithDevice(config.Device))
	}

	s := &TrainingSession{
		config:        config,
		logger:        config.Logger,
		splits:        map[string][2][]datasets.Example{},
		statistics:    map[string]trainer.Statistics{},
		activationSet: activationSet,
		maxLengthSet:  maxLengthSet,
	}
	if s.logger == nil {
		s.logger = NewConsoleLogger(config.Verbose)
	}
	if s.config.Download.Logger == nil {
		s.config.Download.Logger = s.logger
	}

	for _, nc := range config.Corpora.ordered() {
		if nc.corpus == nil || !nc.corpus.Enabled {
			continue
		}
		train, test, err := nc.corpus.load(config.ReadOptions)
		if err != nil {
			return nil, fmt.Errorf("corpus %s: %w", nc.name, err)
		}
		s.splits[nc.name] = [2][]datasets.Example{train, test}
	}
	return s, nil
}

func (c *Corpus) load(opts datasets.ReadOptions) (train, test []datasets.Example, err error) {
	train, err = c.split(c.Train, c.TrainPath, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("train split: %w", err)
	}
	test, err = c.split(c.Test, c.TestPath, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("test split: %w", err)
	}
	return train, test, nil
}

func (c *Corpus) split(examples []datasets.Example, path string, opts datasets.ReadOptions) ([]datasets.Example, error) {
	if len(examples) > 0 {
		if opts.Preprocess != nil {
			return opts.Preprocess(examples)
		}
		return examples, nil
	}
	if path == "" {
		return nil, nil
	}
	exists, err := fileutil.FileExists(path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: corpus file %s not found", ErrResource, path)
	}
	return datasets.ReadExamples(path, opts)
}

// NewConsoleLogger logs to stderr, at debug level when verbose.
func NewConsoleLogger(verbose bool) *log.Logger {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	return &log.Logger{
		Level:  level,
		Writer: &log.ConsoleWriter{Writer: os.Stderr, ColorOutput: true, EndWithMessage: true},
	}
}

// Train builds the model, then runs the trainer on each enabled corpus with a training split.
// The same model is carried from one corpus to the next.
func (s *TrainingSession) Train(ctx context.Context) error {
	if s.model == nil {
		model, err := s.buildModel(ctx)
		if err != nil {
			return err
		}
		s.model = model
	}

	for _, nc := range s.config.Corpora.ordered() {
		split, ok := s.splits[nc.name]
		if !ok {
			continue
		}
		if len(split[0]) == 0 {
			s.logger.Info().Str("corpus", nc.name).Msg("no training split, skipping")
			continue
		}
		stats, err := s.trainCorpus(ctx, nc.name, split[0], split[1])
		if err != nil {
			return fmt.Errorf("corpus %s: %w", nc.name, err)
		}
		s.statistics[nc.name] = stats
	}
	return nil
}

func (s *TrainingSession) trainCorpus(ctx context.Context, name string, trainExamples, testExamples []datasets.Example) (trainer.Statistics, error) {
	maxLength := s.model.Config.MaxLength
	trainDS, err := datasets.NewClassifierDataset(trainExamples, s.model.Tokenizer, maxLength)
	if err != nil {
		return trainer.Statistics{}, err
	}
	weights, err := trainDS.ClassWeights()
	if err != nil {
		return trainer.Statistics{}, err
	}
	s.logger.Info().Str("corpus", name).Int("examples", trainDS.Len()).
		Floats32("class_weights", weights[:]).Msg("class weights")
	trainLoader, err := datasets.NewLoader(name+"-train", trainDS, s.config.BatchSize)
	if err != nil {
		return trainer.Statistics{}, err
	}

	var valLoader *datasets.Loader
	if len(testExamples) > 0 {
		valDS, err := datasets.NewClassifierDataset(testExamples, s.model.Tokenizer, maxLength)
		if err != nil {
			return trainer.Statistics{}, err
		}
		if valLoader, err = datasets.NewLoader(name+"-val", valDS, s.config.EvalBatchSize); err != nil {
			return trainer.Statistics{}, err
		}
	}

	opts := []trainer.Option{trainer.WithLogger(s.logger)}
	if s.config.Verbose {
		opts = append(opts, trainer.WithProgressBar())
	}
	if s.config.FreezeEncoder {
		opts = append(opts, trainer.WithFrozenEncoder())
	}
	t, err := trainer.New(s.model, trainer.Config{
		Epochs:       s.config.Epochs,
		LearningRate: s.config.LearningRate,
		ClassWeights: weights[:],
	}, opts...)
	if err != nil {
		return trainer.Statistics{}, err
	}
	stats, err := t.Run(ctx, trainLoader, valLoader)
	return stats, errors.Join(err, t.Destroy())
}

// buildModel resolves the backbone and builds the model once for all corpora.
func (s *TrainingSession) buildModel(ctx context.Context) (*backends.SBERTPredictor, error) {
	path := s.config.ModelPath
	if path != "" {
		saved, err := IsSavedModel(path)
		if err != nil {
			return nil, err
		}
		if saved {
			s.logger.Info().Str("path", path).Msg("continuing from saved model")
			model, err := LoadModel(path, s.config.Options...)
			if err != nil {
				return nil, err
			}
			s.warnSavedConfig(model.Config)
			return model, nil
		}
		return s.modelFromBackbone(path, s.config.Download.OnnxFilePath)
	}

	backbone, err := ResolveBackbone(s.config.ModelName)
	if err != nil {
		return nil, err
	}
	onnxFilePath := s.config.Download.OnnxFilePath
	if onnxFilePath == "" {
		onnxFilePath = backbone.OnnxFilePath
	}
	exportDir := backbone.ExportDir(s.config.CacheDir)
	exported, err := IsBackboneDir(exportDir)
	if err != nil {
		return nil, err
	}
	if exported {
		s.logger.Info().Str("model", backbone.Repo).Str("path", exportDir).Msg("using local backbone")
		return s.modelFromBackbone(exportDir, onnxFilePath)
	}
	if backbone.NeedsExport {
		return nil, fmt.Errorf("%w: %s publishes no ONNX encoder, export it with: %s", ErrResource, backbone.Repo, backbone.ExportCommand(s.config.CacheDir))
	}

	download := s.config.Download
	download.OnnxFilePath = onnxFilePath
	if err = fileutil.CreateDir(s.config.CacheDir); err != nil {
		return nil, err
	}
	path, err = DownloadModel(ctx, backbone.Repo, s.config.CacheDir, download)
	if err != nil {
		return nil, err
	}
	model, err := s.modelFromBackbone(path, "")
	if !s.config.KeepBackboneFiles {
		// the weights live in the model's variables from here on.
		if deleteErr := fileutil.Delete(path); deleteErr != nil {
			s.logger.Warn().Err(deleteErr).Str("path", path).Msg("removing backbone files")
		}
	}
	return model, err
}

// warnSavedConfig reports configured settings a saved model overrides.
func (s *TrainingSession) warnSavedConfig(saved backends.ModelConfig) {
	if s.activationSet && saved.Activation != s.config.Activation {
		s.logger.Warn().Str("configured", string(s.config.Activation)).Str("saved", string(saved.Activation)).
			Msg("activation ignored, the saved model keeps its own")
	}
	if s.maxLengthSet && saved.MaxLength != s.config.MaxLength {
		s.logger.Warn().Int("configured", s.config.MaxLength).Int("saved", saved.MaxLength).
			Msg("max length ignored, the saved model keeps its own")
	}
}

func (s *TrainingSession) modelFromBackbone(path string, onnxFilename string) (*backends.SBERTPredictor, error) {
	o, err := options.Apply(s.config.Options...)
	if err != nil {
		return nil, err
	}
	tokenizer, err := backends.LoadTokenizer(backends.TokenizerHuggingFace, path, o)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResource, err)
	}
	encoder, err := backends.NewOnnxEncoder(path, onnxFilename)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("%w: %w", ErrResource, err), tokenizer.Close())
	}
	config := backends.DefaultModelConfig()
	config.Activation = s.config.Activation
	config.MaxLength = s.config.MaxLength
	config.Labels = datasets.OrderedLabelNames()
	model, err := backends.NewSBERTPredictor(encoder, tokenizer, config, s.config.Options...)
	if err != nil {
		return nil, errors.Join(err, tokenizer.Close())
	}
	s.logger.Info().Str("path", path).Int("hidden_size", encoder.HiddenSize()).
		Int("feature_dim", config.FeatureDim()).Str("activation", string(config.Activation)).Msg("model built")
	return model, nil
}

// Model returns the trained model, nil before Train.
func (s *TrainingSession) Model() *backends.SBERTPredictor {
	return s.model
}

// Statistics returns the per-epoch statistics of each trained corpus.
func (s *TrainingSession) Statistics() map[string]trainer.Statistics {
	return s.statistics
}

// Save writes the trained model with its statistics, see SaveModel.
func (s *TrainingSession) Save(dir string, timedDirName bool) (string, error) {
	if s.model == nil {
		return "", errors.New("no model to save, call Train first")
	}
	return saveModel(s.model, dir, timedDirName, s.statistics)
}

func (s *TrainingSession) Destroy() error {
	if s.model == nil {
		return nil
	}
	err := s.model.Destroy()
	s.model = nil
	return err
}
