// Package report turns a stream of admin log lines into the audit CSV.
package report

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aburke/highgarden/internal/auditlog"
)

// Scanner yields log lines in order.
type Scanner interface {
	Scan() bool
	Text() string
	Err() error
}

// Report is the assembled CSV with counts describing how it was built.
type Report struct {
	Body            []byte
	LinesScanned    int
	LinesRecognized int
	Rows            int
	// UnsafeValues counts values containing a comma, quote or line break.
	UnsafeValues int
	// Actions counts recognized lines per action kind.
	Actions map[auditlog.Kind]int
}

// Options configures an Assembler.
type Options struct {
	Encoding Encoding
	Logger   *slog.Logger
}

// Assembler builds reports. It holds no per-run state and may be reused.
type Assembler struct {
	dispatcher *auditlog.Dispatcher
	encoding   Encoding
	logger     *slog.Logger
}

// NewAssembler returns an Assembler that resolves ids through lookup.
func NewAssembler(lookup auditlog.Lookup, opts Options) *Assembler {
	if opts.Encoding == "" {
		opts.Encoding = EncodingLegacy
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Assembler{
		dispatcher: auditlog.NewDispatcher(lookup),
		encoding:   opts.Encoding,
		logger:     opts.Logger,
	}
}

// Assemble consumes sc once and returns the report. Action ids start at 1
// and advance once per recognized line. Unrecognized lines add nothing.
func (a *Assembler) Assemble(ctx context.Context, sc Scanner) (*Report, error) {
	var buf bytes.Buffer
	w := newRowWriter(a.encoding, &buf)
	if err := w.Write(auditlog.Columns()); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	rep := &Report{Actions: make(map[auditlog.Kind]int)}
	nextID := 1
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rep.LinesScanned++
		line := sc.Text()

		kind, records, err := a.dispatcher.Dispatch(ctx, line, strconv.Itoa(nextID))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", rep.LinesScanned, err)
		}
		if kind == auditlog.Unrecognized {
			continue
		}
		nextID++
		rep.LinesRecognized++
		rep.Actions[kind]++

		for _, r := range records {
			fields := r.Fields()
			for _, f := range fields {
				if unsafe(f) {
					rep.UnsafeValues++
				}
			}
			if err := w.Write(fields); err != nil {
				return nil, fmt.Errorf("write row: %w", err)
			}
			rep.Rows++
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read log lines: %w", err)
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("flush rows: %w", err)
	}
	rep.Body = buf.Bytes()

	if rep.UnsafeValues > 0 && a.encoding == EncodingLegacy {
		a.logger.Warn("report contains values that break unquoted csv",
			"unsafe_values", rep.UnsafeValues,
		)
	}
	return rep, nil
}
