package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/mattn/go-isatty"
	"github.com/phuslu/log"
	"github.com/urfave/cli/v2"

	"github.com/knights-analytics/claimnli"
	"github.com/knights-analytics/claimnli/backends"
	"github.com/knights-analytics/claimnli/options"
	"github.com/knights-analytics/claimnli/util/fileutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var modelPath string
var inputPath string
var outputPath string
var batchSize int
var device string

func trainFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML training configuration"},
		&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "backbone name, e.g. deepset/covid_bert_base or allenai/biomed_roberta_base"},
		&cli.StringFlag{Name: "modelPath", Usage: "local backbone directory (ONNX export and tokenizer.json) or a saved model to keep training"},
		&cli.StringFlag{Name: "cacheDir", Usage: "where downloaded backbones are stored", Value: claimnli.DefaultCacheDir},
		&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "directory the trained model is saved to", Value: "output/sbert_model"},
		&cli.BoolFlag{Name: "timed", Usage: "save into a M-D-YYYY subdirectory of --output", Value: true},
		&cli.StringFlag{Name: "multinliTrain", Usage: "MultiNLI training split"},
		&cli.StringFlag{Name: "multinliTest", Usage: "MultiNLI validation split"},
		&cli.StringFlag{Name: "mednliTrain", Usage: "MedNLI training split"},
		&cli.StringFlag{Name: "mednliTest", Usage: "MedNLI validation split"},
		&cli.StringFlag{Name: "manconTrain", Usage: "ManConCorpus training split"},
		&cli.StringFlag{Name: "manconTest", Usage: "ManConCorpus validation split"},
		&cli.IntFlag{Name: "batchSize", Aliases: []string{"b"}, Value: claimnli.DefaultBatchSize},
		&cli.IntFlag{Name: "evalBatchSize", Value: claimnli.DefaultEvalBatchSize},
		&cli.IntFlag{Name: "epochs", Aliases: []string{"e"}, Value: claimnli.DefaultEpochs},
		&cli.Float64Flag{Name: "learningRate", Value: 1e-5},
		&cli.StringFlag{Name: "activation", Usage: "raw-logits, softmax or sigmoid", Value: string(backends.ActivationRawLogits)},
		&cli.StringFlag{Name: "device", Usage: "auto, cpu, xla-cpu or cuda", Value: string(options.DeviceAuto)},
		&cli.IntFlag{Name: "maxLength", Usage: "tokens per sentence", Value: 512},
		&cli.BoolFlag{Name: "freezeEncoder", Usage: "train the classification head only"},
		&cli.BoolFlag{Name: "keepBackbone", Usage: "keep downloaded backbone files"},
		&cli.BoolFlag{Name: "stripClaimTokens", Usage: "remove [CLS]/[SEP] markers and split combined claim pairs"},
		&cli.BoolFlag{Name: "skipUnlabelled", Usage: "drop rows labelled '-' instead of failing"},
		&cli.BoolFlag{Name: "rustTokenizer", Usage: "use the Rust tokenizer bindings (build tag RUST)"},
		&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}},
	}
}

// newTrainCommand builds the train command with flags of its own, so no parse sees the state of a
// previous one.
func newTrainCommand() *cli.Command {
	return &cli.Command{
		Name:  "train",
		Usage: "Fine-tune an SBERT NLI classifier on MultiNLI, MedNLI and ManCon",
		Description: `Train builds a [u, v, |u-v|] sentence pair classifier on top of a pretrained encoder and trains it on
					each enabled corpus in turn: MultiNLI, then MedNLI, then ManCon. Corpora are .jsonl, .csv or .tsv files with
					sentence1, sentence2 and label fields. Settings can also come from a YAML file given with --config; flags win.
					`,
		Flags: trainFlags(),
		Action: func(c *cli.Context) (err error) {
			settings, err := resolveTrainSettings(c)
			if err != nil {
				return err
			}
			logger := settings.session.Logger

			session, err := claimnli.NewTrainingSession(settings.session)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, session.Destroy())
			}()

			if err = session.Train(c.Context); err != nil {
				return err
			}
			dir, err := session.Save(settings.output, settings.timed)
			if err != nil {
				return err
			}
			logger.Info().Str("path", dir).Msg("model saved")
			return nil
		},
	}
}

var predictCommand = &cli.Command{
	Name:  "predict",
	Usage: "Classify sentence pairs with a trained model",
	Description: `Predict expects .jsonl input where each line is {"sentence1": "...", "sentence2": "..."}.
				The output repeats each line with a "prediction" holding the class, label and scores.
				`,
	ArgsUsage: `
				--model: directory written by the train command.
				--input: path to a .jsonl file or a folder with .jsonl files to process. If omitted, the input will be read from stdin.
				--output: path to a folder where to write the output. If omitted, the output will be sent to stdout.
				`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Usage:       "Path to the trained model",
			Aliases:     []string{"p"},
			Destination: &modelPath,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "input",
			Usage:       "Path to the input data",
			Aliases:     []string{"i"},
			Destination: &inputPath,
		},
		&cli.StringFlag{
			Name:        "output",
			Usage:       "Path to output",
			Aliases:     []string{"o"},
			Destination: &outputPath,
		},
		&cli.IntFlag{
			Name:        "batchSize",
			Usage:       "Number of pairs to classify in a batch",
			Aliases:     []string{"b"},
			Destination: &batchSize,
			Value:       20,
		},
		&cli.StringFlag{
			Name:        "device",
			Usage:       "auto, cpu, xla-cpu or cuda",
			Destination: &device,
			Value:       string(options.DeviceAuto),
		},
	},
	Action: func(ctx *cli.Context) (err error) {
		d, err := options.ParseDevice(device)
		if err != nil {
			return err
		}
		model, err := claimnli.LoadModel(modelPath, options.WithDevice(d))
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, model.Destroy())
		}()

		inputChannel := make(chan []pair, 1000)
		processedChannel := make(chan []byte, 1000)
		errorsChannel := make(chan error, 1000)
		var processedWg, writeWg sync.WaitGroup

		processedWg.Add(1)
		go classifyPairs(&processedWg, inputChannel, processedChannel, errorsChannel, model)

		var writer io.WriteCloser = os.Stdout
		if outputPath != "" {
			if writer, err = fileutil.NewFileWriter(fileutil.PathJoinSafe(outputPath, "result-0.jsonl")); err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, writer.Close())
			}()
		}
		writeWg.Add(1)
		go writeOutputs(&writeWg, processedChannel, errorsChannel, writer)

		readErr := readAllInputs(ctx.Context, inputChannel)
		close(inputChannel)
		processedWg.Wait()
		close(processedChannel)
		close(errorsChannel)
		writeWg.Wait()
		return readErr
	},
}

func readAllInputs(ctx context.Context, inputChannel chan []pair) error {
	exists := false
	if inputPath != "" {
		var err error
		if exists, err = fileutil.FileExists(inputPath); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("file %s does not exist", inputPath)
		}
	}
	if exists {
		fileWalker := func(_ context.Context, _, _ string, info os.FileInfo, reader io.Reader) (toContinue bool, err error) {
			if filepath.Ext(info.Name()) == ".jsonl" {
				if err = readInputs(reader, inputChannel); err != nil {
					return false, err
				}
			}
			return true, nil
		}
		if filepath.Ext(inputPath) == ".jsonl" {
			reader, err := fileutil.OpenFile(inputPath)
			if err != nil {
				return err
			}
			return errors.Join(readInputs(reader, inputChannel), reader.Close())
		}
		return fileutil.WalkDir()(ctx, inputPath, fileWalker)
	}
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		// there is something to process on stdin
		return readInputs(os.Stdin, inputChannel)
	}
	return nil
}

func main() {
	app := &cli.App{
		Name:     "claimnli",
		Usage:    "Train and run SBERT classifiers for biomedical claim contradiction",
		Commands: []*cli.Command{newTrainCommand(), predictCommand},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("claimnli failed")
	}
}

func writeOutputs(wg *sync.WaitGroup, processedChannel chan []byte, errorChannel chan error, writeTarget io.Writer) {
	defer wg.Done()
	for processedChannel != nil || errorChannel != nil {
		select {
		case output, ok := <-processedChannel:
			if !ok {
				processedChannel = nil
				continue
			}
			if _, err := writeTarget.Write(append(output, '\n')); err != nil {
				panic(err)
			}
		case err, ok := <-errorChannel:
			if !ok {
				errorChannel = nil
				continue
			}
			if _, writeErr := os.Stderr.WriteString(err.Error() + "\n"); writeErr != nil {
				panic(writeErr)
			}
		}
	}
}

func classifyPairs(wg *sync.WaitGroup, inputChannel chan []pair, processedChannel chan []byte, errorsChannel chan error, model *backends.SBERTPredictor) {
	defer wg.Done()
	for inputBatch := range inputChannel {
		sentence1 := make([]string, len(inputBatch))
		sentence2 := make([]string, len(inputBatch))
		for i, p := range inputBatch {
			sentence1[i], sentence2[i] = p.Sentence1, p.Sentence2
		}
		predictions, err := model.Classify(sentence1, sentence2)
		if err != nil {
			errorsChannel <- err
			continue
		}
		for i, prediction := range predictions {
			out := inputBatch[i]
			out.Prediction = &prediction
			outputBytes, marshallErr := json.Marshal(out)
			if marshallErr != nil {
				errorsChannel <- marshallErr
			} else {
				processedChannel <- outputBytes
			}
		}
	}
}

func readInputs(inputSource io.Reader, inputChannel chan []pair) error {
	inputBatch := make([]pair, 0, batchSize)

	scanner := bufio.NewScanner(inputSource)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var line pair
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			return err
		}
		inputBatch = append(inputBatch, line)
		if len(inputBatch) == batchSize {
			inputChannel <- inputBatch
			inputBatch = make([]pair, 0, batchSize)
		}
	}
	if len(inputBatch) > 0 {
		inputChannel <- inputBatch
	}
	return scanner.Err()
}

type pair struct {
	Sentence1  string               `json:"sentence1"`
	Sentence2  string               `json:"sentence2"`
	Prediction *backends.Prediction `json:"prediction,omitempty"`
}
