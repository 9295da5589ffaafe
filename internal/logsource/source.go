// Package logsource streams admin log lines for a time window.
package logsource

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrExportFailed is returned when a log export task ends unsuccessfully.
	ErrExportFailed = errors.New("log export failed")

	// ErrInvalidWindow is returned when the window end is not after its start.
	ErrInvalidWindow = errors.New("invalid log window")
)

// Scanner yields log lines in order. Close releases the underlying
// resources and must be called once the scanner is no longer needed.
type Scanner interface {
	Scan() bool
	Text() string
	Err() error
	Close() error
}

// Source opens a Scanner over the lines logged in [start, end).
type Source interface {
	Open(ctx context.Context, start, end time.Time) (Scanner, error)
}

func validateWindow(start, end time.Time) error {
	if !end.After(start) {
		return ErrInvalidWindow
	}
	return nil
}
