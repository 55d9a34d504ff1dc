package trainer

import (
	"errors"
	"fmt"
)

var (
	ErrTraining      = errors.New("training error")
	ErrNonFiniteLoss = fmt.Errorf("%w: loss is not finite", ErrTraining)
)
