// Package trainer fine-tunes an SBERTPredictor with a class-weighted cross entropy loss.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/graph"
	mlctx "github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train/losses"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/mattn/go-isatty"
	"github.com/phuslu/log"
	"github.com/schollz/progressbar/v3"

	"github.com/knights-analytics/claimnli/backends"
	"github.com/knights-analytics/claimnli/datasets"
	"github.com/knights-analytics/claimnli/metrics"
)

const DefaultLearningRate = 1e-5

type Config struct {
	Epochs       int
	LearningRate float64
	// ClassWeights scale each class in the loss. Empty means uniform.
	ClassWeights []float32
}

// Statistics holds one value per epoch. Validation slices stay nil when no validation loader is given.
type Statistics struct {
	TrainLoss []float64 `json:"trainLoss"`
	TrainAcc  []float64 `json:"trainAcc"`
	ValLoss   []float64 `json:"valLoss,omitempty"`
	ValAcc    []float64 `json:"valAcc,omitempty"`
}

// Append adds the epochs of other, e.g. when one model is trained on several corpora in turn.
func (s *Statistics) Append(other Statistics) {
	s.TrainLoss = append(s.TrainLoss, other.TrainLoss...)
	s.TrainAcc = append(s.TrainAcc, other.TrainAcc...)
	s.ValLoss = append(s.ValLoss, other.ValLoss...)
	s.ValAcc = append(s.ValAcc, other.ValAcc...)
}

type Trainer struct {
	model  *backends.SBERTPredictor
	config Config

	logger        *log.Logger
	progress      bool
	freezeEncoder bool
	optimizer     optimizers.Interface
	loss          losses.LossFn

	trainExec *mlctx.Exec
	evalExec  *mlctx.Exec
}

// New prepares the train and eval executors on the model's backend and variables. Nothing is compiled
// until the first batch.
func New(model *backends.SBERTPredictor, config Config, opts ...Option) (*Trainer, error) {
	if model == nil {
		return nil, errors.New("model is required")
	}
	if config.Epochs < 0 {
		return nil, fmt.Errorf("epochs must not be negative, got %d", config.Epochs)
	}
	if config.LearningRate == 0 {
		config.LearningRate = DefaultLearningRate
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", config.LearningRate)
	}
	numClasses := model.Config.NumClasses
	if len(config.ClassWeights) == 0 {
		config.ClassWeights = UniformWeights(numClasses)
	}
	if len(config.ClassWeights) != numClasses {
		return nil, fmt.Errorf("%d class weights for %d classes", len(config.ClassWeights), numClasses)
	}

	t := &Trainer{model: model, config: config, logger: &log.DefaultLogger}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	if t.loss == nil {
		t.loss = WeightedCrossEntropy(config.ClassWeights)
	}
	if t.freezeEncoder {
		model.FreezeEncoder()
	}

	err := exceptions.TryCatch[error](func() {
		if t.optimizer == nil {
			t.optimizer = optimizers.Adam().LearningRate(config.LearningRate).Done()
		}
		// moments left by a previous run on the same model start from zero again.
		t.optimizer.Clear(model.Context())
		// the optimizer creates its own variables while the train graph is built.
		ctx := model.Context().Checked(false)
		t.trainExec = mlctx.NewExec(model.Backend(), ctx, func(ctx *mlctx.Context, inputs []*graph.Node) []*graph.Node {
			loss, scores := t.lossGraph(ctx, inputs)
			t.optimizer.UpdateGraph(ctx, loss.Graph(), loss)
			return []*graph.Node{loss, scores}
		})
		t.evalExec = mlctx.NewExec(model.Backend(), ctx, func(ctx *mlctx.Context, inputs []*graph.Node) []*graph.Node {
			loss, scores := t.lossGraph(ctx, inputs)
			return []*graph.Node{loss, scores}
		})
		// the last batch of an epoch usually has a different size.
		t.trainExec.SetMaxCache(-1)
		t.evalExec.SetMaxCache(-1)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// lossGraph takes the six encoder inputs followed by the one-hot labels.
func (t *Trainer) lossGraph(ctx *mlctx.Context, inputs []*graph.Node) (loss, scores *graph.Node) {
	scores = t.model.ScoresGraph(ctx, inputs[:6])
	loss = t.loss([]*graph.Node{inputs[6]}, []*graph.Node{scores})
	return loss, scores
}

// TrainStep runs forward and backward passes on one batch and applies the optimizer update.
func (t *Trainer) TrainStep(batch datasets.Batch) (float64, [][]float32, error) {
	return t.step(t.trainExec, batch)
}

// EvalStep computes the loss and scores of one batch without changing any parameter.
func (t *Trainer) EvalStep(batch datasets.Batch) (float64, [][]float32, error) {
	return t.step(t.evalExec, batch)
}

func (t *Trainer) step(exec *mlctx.Exec, batch datasets.Batch) (float64, [][]float32, error) {
	inputs, err := backends.InputTensors(batch.Sentence1, batch.Sentence2)
	if err != nil {
		return 0, nil, err
	}
	inputs = append(inputs, batch.OneHotTensor())
	defer backends.FinalizeTensors(inputs)

	var outputs []*tensors.Tensor
	if err = exceptions.TryCatch[error](func() {
		outputs = exec.Call(inputs)
	}); err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrTraining, err)
	}
	defer backends.FinalizeTensors(outputs)

	loss := float64(backends.TensorToScalar(outputs[0]))
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return loss, nil, ErrNonFiniteLoss
	}
	return loss, backends.TensorToMatrix(outputs[1]), nil
}

// Run trains for Config.Epochs passes over trainLoader. After each training pass the model is scored on
// valLoader, if given, without updates. Per-epoch loss and accuracy are the means over batches.
// ctx is checked between batches.
func (t *Trainer) Run(ctx context.Context, trainLoader, valLoader *datasets.Loader) (Statistics, error) {
	var stats Statistics
	if trainLoader == nil {
		return stats, errors.New("training loader is required")
	}
	t.logger.Info().Str("dataset", trainLoader.Name()).Int("epochs", t.config.Epochs).
		Int("batches", trainLoader.NumBatches()).Msg("training starts")

	for epoch := 0; epoch < t.config.Epochs; epoch++ {
		start := time.Now()
		trainLoss, trainAcc, err := t.runPhase(ctx, trainLoader, true, epoch)
		if err != nil {
			return stats, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		stats.TrainLoss = append(stats.TrainLoss, trainLoss)
		stats.TrainAcc = append(stats.TrainAcc, trainAcc)

		entry := t.logger.Info().Int("epoch", epoch).
			Float64("train_loss", trainLoss).Float64("train_acc", trainAcc)
		if valLoader != nil {
			valLoss, valAcc, err := t.runPhase(ctx, valLoader, false, epoch)
			if err != nil {
				return stats, fmt.Errorf("epoch %d validation: %w", epoch, err)
			}
			stats.ValLoss = append(stats.ValLoss, valLoss)
			stats.ValAcc = append(stats.ValAcc, valAcc)
			entry = entry.Float64("val_loss", valLoss).Float64("val_acc", valAcc)
		}
		entry.Dur("elapsed", time.Since(start)).Msg("epoch done")
	}
	t.logger.Info().Str("dataset", trainLoader.Name()).Msg("training ended")
	return stats, nil
}

func (t *Trainer) runPhase(ctx context.Context, loader *datasets.Loader, training bool, epoch int) (float64, float64, error) {
	loader.Reset()
	defer loader.Reset()

	phase := "val"
	if training {
		phase = "train"
	}
	bar := t.newProgressBar(loader.NumBatches(), fmt.Sprintf("epoch %d %s", epoch, phase))
	if bar != nil {
		defer func() { _ = bar.Close() }()
	}

	var sumLoss, sumAcc float64
	batches := 0
	for {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		batch, err := loader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, 0, err
		}
		var loss float64
		var scores [][]float32
		if training {
			loss, scores, err = t.TrainStep(batch)
		} else {
			loss, scores, err = t.EvalStep(batch)
		}
		if err != nil {
			return 0, 0, fmt.Errorf("%s batch %d: %w", phase, batches, err)
		}
		acc, err := metrics.MultiAcc(scores, batch.Labels)
		if err != nil {
			return 0, 0, err
		}
		sumLoss += loss
		sumAcc += acc
		batches++
		t.logger.Debug().Str("phase", phase).Int("epoch", epoch).Int("batch", batches).
			Float64("loss", loss).Float64("acc", acc).Msg("batch")
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if batches == 0 {
		return 0, 0, fmt.Errorf("%s loader %s yielded no batches", phase, loader.Name())
	}
	return sumLoss / float64(batches), sumAcc / float64(batches), nil
}

func (t *Trainer) newProgressBar(total int, description string) *progressbar.ProgressBar {
	if !t.progress || !(isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())) {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

// Destroy releases the compiled executors. The model is left to its owner.
func (t *Trainer) Destroy() error {
	return exceptions.TryCatch[error](func() {
		if t.trainExec != nil {
			t.trainExec.Finalize()
		}
		if t.evalExec != nil {
			t.evalExec.Finalize()
		}
	})
}
