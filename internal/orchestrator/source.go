package orchestrator

import (
	"io"
	"os"
	"path/filepath"
)

// Source is the input a job is created from: a remote link or a file upload
type Source interface {
	kind() string
}

// LinkSource submits a remote video link
type LinkSource struct {
	URL string
}

func (LinkSource) kind() string { return "link" }

// FileSource submits an uploaded file. Open is called once per submission.
type FileSource struct {
	Name string
	Open func() (io.ReadCloser, error)
}

func (FileSource) kind() string { return "file" }

// LocalFile returns a FileSource reading from the local filesystem
func LocalFile(path string) FileSource {
	return FileSource{
		Name: filepath.Base(path),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}
}
