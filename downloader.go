//go:build !NODOWNLOAD

package claimnli

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gomlx/go-huggingface/hub"
	"github.com/phuslu/log"

	"github.com/knights-analytics/claimnli/util/fileutil"
)

// DownloadOptions is a struct of options that can be passed to DownloadModel.
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

// NewDownloadOptions creates new DownloadOptions struct with default values.
// Override the values to specify different download options.
func NewDownloadOptions() DownloadOptions {
	return DownloadOptions{
		Branch:                "main",
		MaxRetries:            5,
		RetryInterval:         5,
		ConcurrentConnections: 5,
	}
}

// DownloadModel fetches a backbone from the huggingface hub into destination and returns its local
// directory. The repository must hold an .onnx export of the encoder and a tokenizer.json; config.json,
// vocabulary files and external ONNX data are fetched when present.
func DownloadModel(ctx context.Context, modelName string, destination string, options DownloadOptions) (string, error) {
	logger := options.Logger
	if logger == nil {
		logger = &log.DefaultLogger
	}
	if options.MaxRetries <= 0 {
		options.MaxRetries = 1
	}

	modelP := modelName
	if strings.Contains(modelP, ":") {
		modelP = strings.Split(modelName, ":")[0]
	}
	modelPath := path.Join(destination, localModelDir(modelP))

	repo := hub.New(modelName)
	if options.AuthToken != "" {
		repo = repo.WithAuth(options.AuthToken)
	}
	if options.ConcurrentConnections > 0 {
		repo.MaxParallelDownload = options.ConcurrentConnections
	}
	if options.Verbose {
		repo.Verbosity = 1
		repo.WithProgressBar(true)
	} else {
		repo.Verbosity = 0
		repo.WithProgressBar(false)
	}
	if options.Branch != "" {
		repo.WithRevision(options.Branch)
	}

	downloadFiles, err := validateDownloadHfModel(ctx, repo, options, logger)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrResource, modelName, err)
	}

	var downloadErr error
	for i := 0; i < options.MaxRetries; i++ {
		var downloadPaths []string
		downloadPaths, downloadErr = repo.DownloadFiles(downloadFiles...)
		if downloadErr != nil {
			logger.Warn().Int("attempt", i+1).Int("max_retries", options.MaxRetries).Err(downloadErr).Msg("download failed")
			if err = sleepContext(ctx, options.RetryInterval); err != nil {
				return "", err
			}
			continue
		}

		for j, downloadPath := range downloadPaths {
			truePath, symErr := filepath.EvalSymlinks(downloadPath)
			if symErr != nil {
				return "", symErr
			}
			if copyErr := fileutil.CopyFile(ctx, truePath, fileutil.PathJoinSafe(modelPath, path.Base(downloadFiles[j]))); copyErr != nil {
				return "", copyErr
			}
		}
		logger.Info().Str("model", modelName).Str("path", modelPath).Msg("download completed")
		return modelPath, nil
	}
	return "", fmt.Errorf("%w: failed to download %s after %d attempts: %w", ErrResource, modelName, options.MaxRetries, downloadErr)
}

func validateDownloadHfModel(ctx context.Context, repo *hub.Repo, options DownloadOptions, logger *log.Logger) ([]string, error) {
	for i := 0; i < options.MaxRetries; i++ {
		err := repo.DownloadInfo(false)
		if err == nil {
			break
		}
		logger.Warn().Int("attempt", i+1).Int("max_retries", options.MaxRetries).Err(err).Msg("listing repository failed")
		if i+1 == options.MaxRetries {
			return nil, err
		}
		if err = sleepContext(ctx, options.RetryInterval); err != nil {
			return nil, err
		}
	}

	var fileNames []string
	for fileName, err := range repo.IterFileNames() {
		if err != nil {
			return nil, err
		}
		fileNames = append(fileNames, fileName)
	}
	return selectRepoFiles(fileNames, options)
}

// selectRepoFiles picks the files to fetch from a repository listing. The .onnx export and the
// tokenizer.json are required and come last.
func selectRepoFiles(fileNames []string, options DownloadOptions) ([]string, error) {
	tokenizerPath := ""
	onnxPath := ""
	var toDownload []string
	var allOnnx []string
	for _, fileName := range fileNames {
		baseFileName := filepath.Base(fileName)
		switch {
		case baseFileName == "tokenizer.json":
			tokenizerPath = fileName
		case baseFileName == "special_tokens_map.json",
			baseFileName == "tokenizer_config.json",
			baseFileName == "config.json",
			baseFileName == "vocab.txt",
			baseFileName == "vocab.json",
			baseFileName == "merges.txt":
			toDownload = append(toDownload, fileName)
		case filepath.Ext(baseFileName) == ".onnx":
			if options.OnnxFilePath == "" || fileName == options.OnnxFilePath {
				onnxPath = fileName
			}
			allOnnx = append(allOnnx, fileName)
		case options.ExternalDataPath != "" && fileName == options.ExternalDataPath:
			toDownload = append(toDownload, fileName)
		}
	}

	var errs []error
	if tokenizerPath == "" {
		errs = append(errs, errors.New("model does not have a tokenizer.json"))
	}
	if options.OnnxFilePath != "" {
		if onnxPath == "" {
			errs = append(errs, fmt.Errorf("model .onnx file not found at %s", options.OnnxFilePath))
		}
	} else {
		switch len(allOnnx) {
		case 0:
			errs = append(errs, errors.New("model does not have a .onnx file, export the encoder with optimum-cli export onnx first"))
		case 1:
		default:
			errs = append(errs, fmt.Errorf("model has multiple .onnx files, please specify one of the following onnxFilePaths: %s", strings.Join(allOnnx, " ")))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return append(toDownload, onnxPath, tokenizerPath), nil
}

func sleepContext(ctx context.Context, seconds int) error {
	timer := time.NewTimer(time.Duration(seconds) * time.Second)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
