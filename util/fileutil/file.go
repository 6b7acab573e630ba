package fileutil

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/storage"
	_ "github.com/viant/afsc/s3"
)

// fileSystem resolves local paths and s3:// URLs.
var fileSystem = afs.New()

// ReadFileBytes downloads the whole object at filename, usually a serialized model.
func ReadFileBytes(filename string) ([]byte, error) {
	return fileSystem.DownloadWithURL(context.Background(), filename)
}

// WriteFileBytes replaces filename with data.
func WriteFileBytes(filename string, data []byte) error {
	return fileSystem.Upload(context.Background(), filename, 0o644, bytes.NewReader(data))
}

func isS3(path string) bool {
	return strings.HasPrefix(path, "s3://")
}

// PathJoinSafe joins path elements. S3 URLs keep their double slash.
func PathJoinSafe(elem ...string) string {
	if len(elem) == 0 {
		return ""
	}
	if isS3(elem[0]) {
		return strings.TrimSuffix(elem[0], "/") + "/" + filepath.ToSlash(filepath.Join(elem[1:]...))
	}
	return filepath.Join(elem...)
}

// WalkDir visits every object below a directory or URL.
func WalkDir() func(ctx context.Context, URL string, handler storage.OnVisit, options ...storage.Option) error {
	return fileSystem.Walk
}

func DeleteFile(filename string) error {
	return fileSystem.Delete(context.Background(), filename)
}

// CreateFile creates an empty file, or a directory with its parents when isDir is set.
func CreateFile(fileName string, isDir bool) error {
	return fileSystem.Create(context.Background(), fileName, os.ModePerm, isDir)
}

func FileExists(filename string) (bool, error) {
	return fileSystem.Exists(context.Background(), filename)
}

// FileStats returns the object at filename, which reports its size and
// whether it is a directory.
func FileStats(filename string) (storage.Object, error) {
	return fileSystem.Object(context.Background(), filename)
}
