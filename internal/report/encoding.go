package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
)

// Encoding selects how rows are written.
type Encoding string

const (
	// EncodingLegacy joins fields with commas and rows with newlines,
	// without quoting and without a trailing newline.
	EncodingLegacy Encoding = "legacy"
	// EncodingRFC4180 quotes fields as needed and terminates every row.
	EncodingRFC4180 Encoding = "rfc4180"
)

// ParseEncoding maps a configuration value to an Encoding. Empty selects
// EncodingLegacy.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(strings.ToLower(strings.TrimSpace(s))) {
	case "", EncodingLegacy:
		return EncodingLegacy, nil
	case EncodingRFC4180:
		return EncodingRFC4180, nil
	default:
		return "", fmt.Errorf("unknown csv encoding %q", s)
	}
}

// unsafe reports whether v would change row structure under the legacy
// encoding.
func unsafe(v string) bool {
	return strings.ContainsAny(v, ",\"\r\n")
}

type rowWriter interface {
	Write(fields []string) error
	Flush() error
}

func newRowWriter(enc Encoding, buf *bytes.Buffer) rowWriter {
	if enc == EncodingRFC4180 {
		return &csvWriter{w: csv.NewWriter(buf)}
	}
	return &legacyWriter{buf: buf}
}

type legacyWriter struct {
	buf  *bytes.Buffer
	rows int
}

func (w *legacyWriter) Write(fields []string) error {
	if w.rows > 0 {
		w.buf.WriteByte('\n')
	}
	w.buf.WriteString(strings.Join(fields, ","))
	w.rows++
	return nil
}

func (w *legacyWriter) Flush() error { return nil }

type csvWriter struct {
	w *csv.Writer
}

func (w *csvWriter) Write(fields []string) error { return w.w.Write(fields) }

func (w *csvWriter) Flush() error {
	w.w.Flush()
	return w.w.Error()
}
