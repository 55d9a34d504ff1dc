package backends

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/graph"
	mlctx "github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/onnx-gomlx/onnx"

	"github.com/knights-analytics/claimnli/util/fileutil"
)

const onnxSaveFilename = "model.onnx"

// OnnxEncoder is a transformer encoder imported from an ONNX export of a huggingface model.
// Its weights become GoMLX variables, so they are fine-tuned along with the classification head.
type OnnxEncoder struct {
	Path         string
	OnnxFilename string
	Model        *onnx.Model
	hiddenSize   int
	outputName   string
}

// NewOnnxEncoder loads the .onnx file found in path. If there are several, onnxFilename picks one.
// The hidden size is read from config.json when present.
func NewOnnxEncoder(path string, onnxFilename string) (*OnnxEncoder, error) {
	onnxPath, err := findOnnxFile(path, onnxFilename)
	if err != nil {
		return nil, err
	}
	onnxBytes, err := fileutil.ReadFileBytes(onnxPath)
	if err != nil {
		return nil, err
	}
	model, err := onnx.Parse(onnxBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", onnxPath, err)
	}
	if err = loadExternalData(path, model); err != nil {
		return nil, err
	}

	e := &OnnxEncoder{
		Path:         path,
		OnnxFilename: onnxFilename,
		Model:        model,
		outputName:   tokenEmbeddingsOutput(model.OutputsNames),
	}
	for _, name := range model.InputsNames {
		switch name {
		case "input_ids", "attention_mask", "token_type_ids":
		default:
			return nil, fmt.Errorf("onnx encoder input %q not supported: expected input_ids, attention_mask and optionally token_type_ids", name)
		}
	}
	if e.hiddenSize, err = readHiddenSize(path); err != nil {
		return nil, err
	}
	if e.hiddenSize == 0 {
		for i, name := range model.OutputsNames {
			if name == e.outputName {
				if dims := model.OutputsShapes[i].Dimensions; len(dims) > 0 && dims[len(dims)-1] > 0 {
					e.hiddenSize = dims[len(dims)-1]
				}
			}
		}
	}
	if e.hiddenSize == 0 {
		return nil, fmt.Errorf("cannot determine hidden size of %s: no config.json hidden_size and dynamic output shape", onnxPath)
	}
	return e, nil
}

func (e *OnnxEncoder) Kind() string {
	return EncoderONNX
}

func (e *OnnxEncoder) HiddenSize() int {
	return e.hiddenSize
}

func (e *OnnxEncoder) InitVariables(ctx *mlctx.Context) error {
	return e.Model.VariablesToContext(ctx)
}

func (e *OnnxEncoder) Encode(ctx *mlctx.Context, inputIDs, attentionMask, typeIDs *graph.Node) *graph.Node {
	inputsMap := map[string]*graph.Node{}
	for _, name := range e.Model.InputsNames {
		switch name {
		case "input_ids":
			inputsMap[name] = inputIDs
		case "attention_mask":
			inputsMap[name] = attentionMask
		case "token_type_ids":
			inputsMap[name] = typeIDs
		}
	}
	output := e.Model.CallGraph(ctx, inputIDs.Graph(), inputsMap, e.outputName)[0]
	if output.Shape().Rank() != 3 {
		exceptions.Panicf("onnx encoder output %q must be [batch, sequence, hidden], got %s", e.outputName, output.Shape())
	}
	return output
}

// Save writes the encoder graph with the fine-tuned weights from ctx as dir/model.onnx,
// next to the backbone's config.json.
func (e *OnnxEncoder) Save(ctx *mlctx.Context, dir string) (err error) {
	if err = e.saveConfig(dir); err != nil {
		return err
	}
	if err = e.Model.ContextToONNX(ctx); err != nil {
		return err
	}
	w, err := fileutil.NewFileWriter(fileutil.PathJoinSafe(dir, onnxSaveFilename))
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, w.Close())
	}()
	return e.Model.Write(w)
}

func (e *OnnxEncoder) saveConfig(dir string) error {
	source := fileutil.PathJoinSafe(e.Path, "config.json")
	target := fileutil.PathJoinSafe(dir, "config.json")
	if source == target {
		return nil
	}
	exists, err := fileutil.FileExists(source)
	if err != nil {
		return err
	}
	if exists {
		return fileutil.CopyFile(context.Background(), source, target)
	}
	configBytes, err := json.Marshal(map[string]int{"hidden_size": e.hiddenSize})
	if err != nil {
		return err
	}
	return fileutil.WriteFile(target, configBytes)
}

func tokenEmbeddingsOutput(names []string) string {
	for _, name := range names {
		if name == "last_hidden_state" || name == "token_embeddings" {
			return name
		}
	}
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

func findOnnxFile(path string, onnxFilename string) (string, error) {
	var onnxFiles [][]string
	walker := func(_ context.Context, _ string, parent string, info os.FileInfo, _ io.Reader) (toContinue bool, err error) {
		if strings.HasSuffix(info.Name(), ".onnx") {
			onnxFiles = append(onnxFiles, []string{fileutil.PathJoinSafe(path, parent), info.Name()})
		}
		return true, nil
	}
	if err := fileutil.WalkDir()(context.Background(), path, walker); err != nil {
		return "", err
	}
	switch {
	case len(onnxFiles) == 0:
		return "", fmt.Errorf("no .onnx file detected at %s", path)
	case len(onnxFiles) == 1:
		return fileutil.PathJoinSafe(onnxFiles[0]...), nil
	case onnxFilename == "":
		return "", fmt.Errorf("multiple .onnx files detected at %s and no onnx filename specified", path)
	}
	for _, f := range onnxFiles {
		if f[1] == onnxFilename {
			return fileutil.PathJoinSafe(f...), nil
		}
	}
	return "", fmt.Errorf("file %s not found at %s", onnxFilename, path)
}

func readHiddenSize(path string) (int, error) {
	configPath := fileutil.PathJoinSafe(path, "config.json")
	exists, err := fileutil.FileExists(configPath)
	if err != nil || !exists {
		return 0, err
	}
	configBytes, err := fileutil.ReadFileBytes(configPath)
	if err != nil {
		return 0, err
	}
	var config struct {
		HiddenSize int `json:"hidden_size"`
		Dim        int `json:"dim"` // distilbert
	}
	if err = json.Unmarshal(configBytes, &config); err != nil {
		return 0, fmt.Errorf("parsing %s: %w", configPath, err)
	}
	if config.HiddenSize == 0 {
		return config.Dim, nil
	}
	return config.HiddenSize, nil
}

// loadExternalData resolves initializers stored outside the .onnx file (models above 2GB, or exported
// with external data) from the same directory.
func loadExternalData(path string, model *onnx.Model) error {
	externalMap := map[string][]byte{}
	for _, proto := range model.Proto.Graph.Initializer {
		// DataLocation 1 is EXTERNAL
		if proto.DataLocation != 1 {
			continue
		}
		externalPath := ""
		offset := int64(0)
		length := int64(-1)
		for _, entry := range proto.ExternalData {
			var parseErr error
			switch entry.Key {
			case "location":
				externalPath = entry.Value
			case "offset":
				offset, parseErr = strconv.ParseInt(entry.Value, 10, 64)
			case "length":
				length, parseErr = strconv.ParseInt(entry.Value, 10, 64)
			}
			if parseErr != nil {
				return fmt.Errorf("parsing external data %s of %s: %w", entry.Key, proto.Name, parseErr)
			}
		}
		if _, ok := externalMap[externalPath]; !ok {
			data, err := fileutil.ReadFileBytes(fileutil.PathJoinSafe(path, externalPath))
			if err != nil {
				return err
			}
			externalMap[externalPath] = data
		}
		fullBytes := externalMap[externalPath]
		end := int64(len(fullBytes))
		if length >= 0 && offset+length <= end {
			end = offset + length
		}
		proto.RawData = fullBytes[offset:end]
		// inlined, so a saved model.onnx is self-contained.
		proto.DataLocation = 0
		proto.ExternalData = nil
	}
	return nil
}
