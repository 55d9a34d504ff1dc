package datasets

import (
	"errors"
	"fmt"
)

// ErrData is the parent of every error caused by the input data rather than the pipeline.
var ErrData = errors.New("data error")

var (
	ErrInvalidLabel = fmt.Errorf("%w: invalid label", ErrData)
	ErrEmptyDataset = fmt.Errorf("%w: empty dataset", ErrData)
	ErrMalformedRow = fmt.Errorf("%w: malformed row", ErrData)
	ErrMissingClass = fmt.Errorf("%w: class has no examples", ErrData)
)
