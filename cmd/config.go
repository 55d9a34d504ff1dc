package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/knights-analytics/claimnli"
	"github.com/knights-analytics/claimnli/backends"
	"github.com/knights-analytics/claimnli/datasets"
	"github.com/knights-analytics/claimnli/options"
	"github.com/knights-analytics/claimnli/util/fileutil"
)

// fileConfig is the YAML training configuration. Flags given on the command line override it.
type fileConfig struct {
	Model            string                  `yaml:"model"`
	ModelPath        string                  `yaml:"modelPath"`
	CacheDir         string                  `yaml:"cacheDir"`
	Output           string                  `yaml:"output"`
	Timed            *bool                   `yaml:"timed"`
	BatchSize        int                     `yaml:"batchSize"`
	EvalBatchSize    int                     `yaml:"evalBatchSize"`
	Epochs           int                     `yaml:"epochs"`
	LearningRate     float64                 `yaml:"learningRate"`
	Activation       string                  `yaml:"activation"`
	Device           string                  `yaml:"device"`
	MaxLength        int                     `yaml:"maxLength"`
	FreezeEncoder    bool                    `yaml:"freezeEncoder"`
	KeepBackbone     bool                    `yaml:"keepBackbone"`
	StripClaimTokens bool                    `yaml:"stripClaimTokens"`
	SkipUnlabelled   bool                    `yaml:"skipUnlabelled"`
	Verbose          bool                    `yaml:"verbose"`
	Corpora          map[string]corpusConfig `yaml:"corpora"`
}

type corpusConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Train   string `yaml:"train"`
	Test    string `yaml:"test"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var config fileConfig
	if path == "" {
		return config, nil
	}
	data, err := fileutil.ReadFileBytes(path)
	if err != nil {
		return config, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err = yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("parsing config %s: %w", path, err)
	}
	for name := range config.Corpora {
		switch name {
		case claimnli.CorpusMultiNLI, claimnli.CorpusMedNLI, claimnli.CorpusManCon:
		default:
			return config, fmt.Errorf("config %s: unknown corpus %q, use %s, %s or %s", path, name,
				claimnli.CorpusMultiNLI, claimnli.CorpusMedNLI, claimnli.CorpusManCon)
		}
	}
	return config, nil
}

// trainSettings is everything the train command needs besides the session config.
type trainSettings struct {
	session claimnli.TrainingConfig
	output  string
	timed   bool
}

// resolveTrainSettings layers the command line over the YAML file over the defaults.
func resolveTrainSettings(c *cli.Context) (trainSettings, error) {
	file, err := loadFileConfig(c.String("config"))
	if err != nil {
		return trainSettings{}, err
	}

	str := func(flag string, fromFile string) string {
		if c.IsSet(flag) || fromFile == "" {
			return c.String(flag)
		}
		return fromFile
	}
	integer := func(flag string, fromFile int) int {
		if c.IsSet(flag) || fromFile == 0 {
			return c.Int(flag)
		}
		return fromFile
	}
	boolean := func(flag string, fromFile bool) bool {
		if c.IsSet(flag) {
			return c.Bool(flag)
		}
		return fromFile || c.Bool(flag)
	}

	s := trainSettings{output: str("output", file.Output), timed: c.Bool("timed")}
	if !c.IsSet("timed") && file.Timed != nil {
		s.timed = *file.Timed
	}

	learningRate := c.Float64("learningRate")
	if !c.IsSet("learningRate") && file.LearningRate != 0 {
		learningRate = file.LearningRate
	}
	activation, err := backends.ParseActivation(str("activation", file.Activation))
	if err != nil {
		return s, err
	}
	device, err := options.ParseDevice(str("device", file.Device))
	if err != nil {
		return s, err
	}

	readOptions := datasets.ReadOptions{SkipUnlabelled: boolean("skipUnlabelled", file.SkipUnlabelled)}
	if boolean("stripClaimTokens", file.StripClaimTokens) {
		readOptions.Preprocess = datasets.StripClaimTokens
	}

	verbose := boolean("verbose", file.Verbose)
	s.session = claimnli.TrainingConfig{
		ModelName:         str("model", file.Model),
		ModelPath:         str("modelPath", file.ModelPath),
		CacheDir:          str("cacheDir", file.CacheDir),
		BatchSize:         integer("batchSize", file.BatchSize),
		EvalBatchSize:     integer("evalBatchSize", file.EvalBatchSize),
		Epochs:            integer("epochs", file.Epochs),
		LearningRate:      learningRate,
		Activation:        activation,
		Device:            device,
		MaxLength:         integer("maxLength", file.MaxLength),
		FreezeEncoder:     boolean("freezeEncoder", file.FreezeEncoder),
		KeepBackboneFiles: boolean("keepBackbone", file.KeepBackbone),
		Verbose:           verbose,
		ReadOptions:       readOptions,
		Logger:            claimnli.NewConsoleLogger(verbose),
	}
	if c.Bool("rustTokenizer") {
		s.session.Options = append(s.session.Options, options.WithRustTokenizer())
	}

	corpus := func(name string) *claimnli.Corpus {
		fromFile := file.Corpora[name]
		train := str(name+"Train", fromFile.Train)
		test := str(name+"Test", fromFile.Test)
		enabled := train != ""
		if fromFile.Enabled != nil && !c.IsSet(name+"Train") {
			enabled = *fromFile.Enabled && train != ""
		}
		return &claimnli.Corpus{Enabled: enabled, TrainPath: train, TestPath: test}
	}
	s.session.Corpora = claimnli.Corpora{
		MultiNLI: corpus(claimnli.CorpusMultiNLI),
		MedNLI:   corpus(claimnli.CorpusMedNLI),
		ManCon:   corpus(claimnli.CorpusManCon),
	}
	return s, nil
}
