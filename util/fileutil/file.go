package fileutil

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/option"
	"github.com/viant/afs/storage"
	_ "github.com/viant/afsc/s3"
)

var fileSystem = afs.New()

const partSize = 64 * 1024 * 1024

func ReadFileBytes(filename string) ([]byte, error) {
	file, err := fileSystem.OpenURL(context.Background(), filename)
	if err != nil {
		return nil, err
	}
	return readAndClose(file)
}

// readAndClose fails when either the read or the close does.
func readAndClose(file io.ReadCloser) (data []byte, err error) {
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			data, err = nil, errors.Join(err, closeErr)
		}
	}()

	buf := &bytes.Buffer{}
	if _, err = io.Copy(buf, file); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func GetPathType(path string) string {
	if strings.HasPrefix(path, "s3://") {
		return "S3"
	}
	return "os"
}

func OpenFile(filename string) (io.ReadCloser, error) {
	return fileSystem.OpenURL(context.Background(), filename)
}

// ReadLine returns a single line (without the ending \n) from the input buffered reader.
// Lines longer than the bufio buffer are reassembled, corpora with long premises exceed the 64K default.
func ReadLine(r *bufio.Reader) ([]byte, error) {
	var (
		isPrefix = true
		err      error
		line, ln []byte
	)
	for isPrefix && err == nil {
		line, isPrefix, err = r.ReadLine()
		ln = append(ln, line...)
	}
	return ln, err
}

// PathJoinSafe wraps filepath.Join so that s3:// prefixes keep their double slash.
func PathJoinSafe(elem ...string) string {
	switch GetPathType(elem[0]) {
	case "S3":
		basePath := strings.TrimSuffix(elem[0], "/")
		return basePath + "/" + filepath.ToSlash(filepath.Join(elem[1:]...))
	default:
		return filepath.Join(elem...)
	}
}

func CopyFile(ctx context.Context, from string, to string) error {
	return fileSystem.Copy(ctx, from, to, option.NewSource(option.NewStream(partSize, 0)), option.NewDest(option.NewSkipChecksum(true)))
}

func WalkDir() func(ctx context.Context, URL string, handler storage.OnVisit, options ...storage.Option) error {
	return fileSystem.Walk
}

// Delete removes a file or a whole directory tree.
func Delete(filename string) error {
	return fileSystem.Delete(context.Background(), filename)
}

func CreateDir(dirName string) error {
	exists, err := FileExists(dirName)
	if err != nil || exists {
		return err
	}
	return fileSystem.Create(context.Background(), dirName, os.ModePerm, true)
}

func FileExists(filename string) (bool, error) {
	return fileSystem.Exists(context.Background(), filename)
}

// NewFileWriter opens filename for writing, replacing any existing object.
func NewFileWriter(filename string) (io.WriteCloser, error) {
	exists, err := FileExists(filename)
	if err != nil {
		return nil, err
	}
	if exists {
		if err = fileSystem.Delete(context.Background(), filename); err != nil {
			return nil, err
		}
	}
	return fileSystem.NewWriter(context.Background(), filename, 0o644, option.NewSkipChecksum(true))
}

// WriteFile writes data to filename in one go.
func WriteFile(filename string, data []byte) (err error) {
	w, err := NewFileWriter(filename)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, w.Close())
	}()
	_, err = w.Write(data)
	return err
}
