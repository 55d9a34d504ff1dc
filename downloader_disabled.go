//go:build NODOWNLOAD

package claimnli

import (
	"context"
	"fmt"

	"github.com/phuslu/log"
)

type DownloadOptions struct {
	AuthToken             string
	OnnxFilePath          string
	ExternalDataPath      string
	Branch                string
	MaxRetries            int
	RetryInterval         int
	ConcurrentConnections int
	Verbose               bool
	Logger                *log.Logger
}

func NewDownloadOptions() DownloadOptions {
	return DownloadOptions{}
}

// DownloadModel is excluded from NODOWNLOAD builds; backbones must be given as local paths.
func DownloadModel(_ context.Context, modelName string, _ string, _ DownloadOptions) (string, error) {
	return "", fmt.Errorf("%w: %s: built with NODOWNLOAD, set a local model path instead", ErrResource, modelName)
}
