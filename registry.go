package claimnli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/knights-analytics/claimnli/util/fileutil"
)

// ErrResource marks failures to find or fetch a model, tokenizer or corpus file.
var ErrResource = errors.New("resource error")

// Backbone describes a pretrained encoder the pipeline knows how to fetch.
type Backbone struct {
	// Repo is the huggingface repository of the pretrained weights.
	Repo string
	// OnnxFilePath picks the export when the repository holds several.
	OnnxFilePath string
	// NeedsExport is set when Repo publishes PyTorch weights only. The encoder is then read from
	// ExportDir, which ExportCommand fills.
	NeedsExport bool
}

var backbones = map[string]Backbone{
	"deepset/covid_bert_base":     {Repo: "deepset/covid_bert_base", NeedsExport: true},
	"allenai/biomed_roberta_base": {Repo: "allenai/biomed_roberta_base", NeedsExport: true},
}

// ResolveBackbone maps a model name to its Backbone. Names outside the registry are used as
// huggingface repositories as they are.
func ResolveBackbone(modelName string) (Backbone, error) {
	name := strings.TrimSpace(modelName)
	if name == "" {
		return Backbone{}, fmt.Errorf("%w: model name is empty", ErrResource)
	}
	if b, ok := backbones[name]; ok {
		return b, nil
	}
	return Backbone{Repo: name}, nil
}

// KnownBackbones lists the registered model names.
func KnownBackbones() []string {
	return slices.Sorted(maps.Keys(backbones))
}

// ExportDir is where the backbone is looked up under cacheDir, and where DownloadModel puts it.
func (b Backbone) ExportDir(cacheDir string) string {
	return fileutil.PathJoinSafe(cacheDir, localModelDir(b.Repo))
}

// ExportArgs is the optimum-cli invocation converting the PyTorch checkpoint to an ONNX encoder,
// with its tokenizer.json, in ExportDir(cacheDir).
func (b Backbone) ExportArgs(cacheDir string) []string {
	return []string{"optimum-cli", "export", "onnx", "--model", b.Repo, "--task", "feature-extraction", b.ExportDir(cacheDir)}
}

func (b Backbone) ExportCommand(cacheDir string) string {
	return strings.Join(b.ExportArgs(cacheDir), " ")
}

func localModelDir(repo string) string {
	return strings.ReplaceAll(repo, "/", "_")
}

// IsBackboneDir reports whether dir holds a tokenizer.json and at least one .onnx file.
func IsBackboneDir(dir string) (bool, error) {
	exists, err := fileutil.FileExists(dir)
	if err != nil || !exists {
		return false, err
	}
	exists, err = fileutil.FileExists(fileutil.PathJoinSafe(dir, "tokenizer.json"))
	if err != nil || !exists {
		return false, err
	}
	found := false
	walker := func(_ context.Context, _ string, _ string, info os.FileInfo, _ io.Reader) (bool, error) {
		if strings.HasSuffix(info.Name(), ".onnx") {
			found = true
			return false, nil
		}
		return true, nil
	}
	if err = fileutil.WalkDir()(context.Background(), dir, walker); err != nil {
		return false, err
	}
	return found, nil
}
