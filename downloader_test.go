//go:build !NODOWNLOAD

package claimnli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectRepoFiles(t *testing.T) {
	// checkpoints published as PyTorch weights, like the registered backbones.
	bertCheckpoint := []string{"README.md", "config.json", "pytorch_model.bin", "tokenizer_config.json", "vocab.txt"}
	robertaCheckpoint := []string{"config.json", "pytorch_model.bin", "vocab.json", "merges.txt"}
	// an optimum-cli export of the same checkpoint.
	exported := []string{"config.json", "model.onnx", "special_tokens_map.json", "tokenizer.json", "tokenizer_config.json", "vocab.txt"}

	_, err := selectRepoFiles(bertCheckpoint, NewDownloadOptions())
	assert.ErrorContains(t, err, "does not have a .onnx file")
	assert.ErrorContains(t, err, "optimum-cli export onnx")

	_, err = selectRepoFiles(robertaCheckpoint, NewDownloadOptions())
	assert.ErrorContains(t, err, "does not have a .onnx file")
	assert.ErrorContains(t, err, "tokenizer.json")

	files, err := selectRepoFiles(exported, NewDownloadOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"config.json", "special_tokens_map.json", "tokenizer_config.json", "vocab.txt", "model.onnx", "tokenizer.json"}, files)

	several := append([]string{"onnx/model_quantized.onnx"}, exported...)
	_, err = selectRepoFiles(several, NewDownloadOptions())
	assert.ErrorContains(t, err, "multiple .onnx files")

	options := NewDownloadOptions()
	options.OnnxFilePath = "onnx/model_quantized.onnx"
	files, err = selectRepoFiles(several, options)
	require.NoError(t, err)
	assert.Equal(t, "onnx/model_quantized.onnx", files[len(files)-2])

	options.OnnxFilePath = "onnx/missing.onnx"
	_, err = selectRepoFiles(several, options)
	assert.ErrorContains(t, err, "not found at onnx/missing.onnx")
}
