package logsource

import (
	"context"
	"io"
	"os"
	"time"
)

// FileSource reads log lines from local files, plain or gzip-compressed.
// The window is not applied: every line of every file is returned.
type FileSource struct {
	Paths []string
}

// NewFileSource returns a FileSource over paths, read in order.
func NewFileSource(paths ...string) *FileSource {
	return &FileSource{Paths: paths}
}

// Open implements Source.
func (s *FileSource) Open(ctx context.Context, _, _ time.Time) (Scanner, error) {
	streams := make([]opener, 0, len(s.Paths))
	for _, p := range s.Paths {
		streams = append(streams, opener{
			name: p,
			open: func(context.Context) (io.ReadCloser, error) { return os.Open(p) },
		})
	}
	return newLineScanner(ctx, streams, nil), nil
}
