package datasets

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"
	jsoniter "github.com/json-iterator/go"

	"github.com/knights-analytics/claimnli/util/fileutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Example is a single labelled sentence pair.
type Example struct {
	Sentence1 string `json:"sentence1"`
	Sentence2 string `json:"sentence2"`
	Label     Label  `json:"label"`
}

// ExamplePreprocessFunc transforms examples after reading and before tokenization.
type ExamplePreprocessFunc func([]Example) ([]Example, error)

// ReadOptions controls how corpus files are parsed.
type ReadOptions struct {
	// SkipUnlabelled drops rows whose label is empty or "-" (no annotator consensus in MultiNLI/SNLI)
	// instead of failing with ErrInvalidLabel.
	SkipUnlabelled bool
	Preprocess     ExamplePreprocessFunc
}

type jsonlRow struct {
	Sentence1 *string `json:"sentence1"`
	Sentence2 *string `json:"sentence2"`
	Label     any     `json:"label"`
	GoldLabel any     `json:"gold_label"`
}

type csvRow struct {
	Sentence1 string `csv:"sentence1"`
	Sentence2 string `csv:"sentence2"`
	Label     string `csv:"label"`
	GoldLabel string `csv:"gold_label"`
}

// ReadExamples loads a corpus file, picking the parser from its extension:
// .jsonl/.json are JSON lines, .csv is comma separated and .tsv/.txt are tab separated.
// Tabular files need a header with sentence1, sentence2 and label (or gold_label) columns.
func ReadExamples(path string, opts ReadOptions) ([]Example, error) {
	var examples []Example
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".json":
		examples, err = ReadJSONL(path, opts)
	case ".csv":
		examples, err = ReadDelimited(path, ',', opts)
	case ".tsv", ".txt":
		examples, err = ReadDelimited(path, '\t', opts)
	default:
		return nil, fmt.Errorf("unsupported corpus file %s: expected .jsonl, .csv or .tsv", path)
	}
	if err != nil {
		return nil, err
	}
	if opts.Preprocess != nil {
		if examples, err = opts.Preprocess(examples); err != nil {
			return nil, err
		}
	}
	return examples, nil
}

// ReadJSONL reads lines of the form {"sentence1": "...", "sentence2": "...", "label": "neutral"}.
// The label may be a name or a number.
func ReadJSONL(path string, opts ReadOptions) (examples []Example, err error) {
	source, err := fileutil.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, source.Close())
	}()

	reader := bufio.NewReader(source)
	for lineN := 1; ; lineN++ {
		lineBytes, readErr := fileutil.ReadLine(reader)
		if readErr != nil && readErr != io.EOF {
			return nil, readErr
		}
		if len(strings.TrimSpace(string(lineBytes))) > 0 {
			var row jsonlRow
			if e := json.Unmarshal(lineBytes, &row); e != nil {
				return nil, fmt.Errorf("%w: %s line %d: %w", ErrMalformedRow, path, lineN, e)
			}
			if row.Sentence1 == nil || row.Sentence2 == nil {
				return nil, fmt.Errorf("%w: %s line %d: missing sentence1 or sentence2", ErrMalformedRow, path, lineN)
			}
			rawLabel := row.Label
			if rawLabel == nil {
				rawLabel = row.GoldLabel
			}
			example, keep, e := newExample(*row.Sentence1, *row.Sentence2, labelText(rawLabel), opts)
			if e != nil {
				return nil, fmt.Errorf("%s line %d: %w", path, lineN, e)
			}
			if keep {
				examples = append(examples, example)
			}
		}
		if readErr == io.EOF {
			return examples, nil
		}
	}
}

// ReadDelimited reads a CSV or TSV file with a header row.
func ReadDelimited(path string, separator rune, opts ReadOptions) (examples []Example, err error) {
	source, err := fileutil.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, source.Close())
	}()

	csvReader := &headerReader{Reader: csv.NewReader(source)}
	csvReader.Comma = separator
	csvReader.LazyQuotes = true
	csvReader.FieldsPerRecord = -1

	var rows []csvRow
	if err = gocsv.UnmarshalCSV(csvReader, &rows); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedRow, path, err)
	}
	if missing := missingColumns(csvReader.header); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s: header lacks %s", ErrMalformedRow, path, strings.Join(missing, ", "))
	}
	for i, row := range rows {
		rawLabel := row.Label
		if rawLabel == "" {
			rawLabel = row.GoldLabel
		}
		example, keep, e := newExample(row.Sentence1, row.Sentence2, rawLabel, opts)
		if e != nil {
			// +2: header line and 1-based numbering
			return nil, fmt.Errorf("%s line %d: %w", path, i+2, e)
		}
		if keep {
			examples = append(examples, example)
		}
	}
	return examples, nil
}

// headerReader keeps the header row that gocsv consumes.
type headerReader struct {
	*csv.Reader
	header []string
}

func (r *headerReader) Read() ([]string, error) {
	row, err := r.Reader.Read()
	if r.header == nil && err == nil {
		r.header = row
	}
	return row, err
}

func (r *headerReader) ReadAll() ([][]string, error) {
	rows, err := r.Reader.ReadAll()
	if r.header == nil && len(rows) > 0 {
		r.header = rows[0]
	}
	return rows, err
}

func missingColumns(header []string) []string {
	columns := map[string]bool{}
	for _, name := range header {
		columns[strings.TrimSpace(name)] = true
	}
	var missing []string
	for _, name := range []string{"sentence1", "sentence2"} {
		if !columns[name] {
			missing = append(missing, name)
		}
	}
	if !columns["label"] && !columns["gold_label"] {
		missing = append(missing, "label or gold_label")
	}
	return missing
}

func newExample(sentence1, sentence2, rawLabel string, opts ReadOptions) (Example, bool, error) {
	trimmed := strings.TrimSpace(rawLabel)
	if opts.SkipUnlabelled && (trimmed == "" || trimmed == "-") {
		return Example{}, false, nil
	}
	label, err := ParseLabel(trimmed)
	if err != nil {
		return Example{}, false, err
	}
	return Example{Sentence1: sentence1, Sentence2: sentence2, Label: label}, true, nil
}

func labelText(v any) string {
	switch l := v.(type) {
	case nil:
		return ""
	case string:
		return l
	case float64:
		return fmt.Sprintf("%g", l)
	default:
		return fmt.Sprint(l)
	}
}
