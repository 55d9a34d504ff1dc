package trainer

import (
	"errors"

	"github.com/gomlx/gomlx/ml/train/losses"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/phuslu/log"
)

type Option func(t *Trainer) error

// WithLogger sets the logger for the per-epoch summaries. The default is log.DefaultLogger.
func WithLogger(logger *log.Logger) Option {
	return func(t *Trainer) error {
		if logger == nil {
			return errors.New("logger is nil")
		}
		t.logger = logger
		return nil
	}
}

// WithProgressBar shows a per-batch progress bar on stderr when it is a terminal.
func WithProgressBar() Option {
	return func(t *Trainer) error {
		t.progress = true
		return nil
	}
}

// WithFrozenEncoder only trains the classification head.
func WithFrozenEncoder() Option {
	return func(t *Trainer) error {
		t.freezeEncoder = true
		return nil
	}
}

// WithOptimizer replaces Adam at Config.LearningRate.
func WithOptimizer(optimizer optimizers.Interface) Option {
	return func(t *Trainer) error {
		if optimizer == nil {
			return errors.New("optimizer is nil")
		}
		t.optimizer = optimizer
		return nil
	}
}

// WithLoss replaces the class-weighted cross entropy. The loss receives the one-hot labels and the
// model scores.
func WithLoss(loss losses.LossFn) Option {
	return func(t *Trainer) error {
		if loss == nil {
			return errors.New("loss is nil")
		}
		t.loss = loss
		return nil
	}
}
