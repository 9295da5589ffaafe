package logsource

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"strings"
)

// maxLineSize bounds a single log line. Longer lines are skipped and
// counted rather than failing the scan.
const maxLineSize = 4 << 20

// OversizedCounter is implemented by scanners that skip lines longer than
// their limit.
type OversizedCounter interface {
	Oversized() int
}

// opener returns the next stream of log data.
type opener struct {
	name string
	open func(ctx context.Context) (io.ReadCloser, error)
}

// lineScanner reads lines across a sequence of streams, transparently
// decompressing gzip streams. Lines are whitespace-trimmed.
type lineScanner struct {
	ctx       context.Context
	streams   []opener
	next      int
	current   io.Closer
	r         *bufio.Reader
	buf       []byte
	maxLine   int
	oversized int
	line      string
	err       error
	onClose   func() error
	closed    bool
}

func newLineScanner(ctx context.Context, streams []opener, onClose func() error) *lineScanner {
	return &lineScanner{ctx: ctx, streams: streams, onClose: onClose, maxLine: maxLineSize}
}

func (s *lineScanner) Scan() bool {
	if s.err != nil || s.closed {
		return false
	}
	for {
		if s.r != nil {
			line, ok, err := s.readLine()
			if err != nil {
				s.err = fmt.Errorf("read %s: %w", s.streams[s.next-1].name, err)
				return false
			}
			if ok {
				s.line = strings.TrimSpace(string(line))
				return true
			}
			s.closeCurrent()
		}
		if s.next >= len(s.streams) {
			return false
		}
		if err := s.openNext(); err != nil {
			s.err = err
			return false
		}
	}
}

func (s *lineScanner) openNext() error {
	st := s.streams[s.next]
	s.next++

	rc, err := st.open(s.ctx)
	if err != nil {
		return fmt.Errorf("open %s: %w", st.name, err)
	}
	r, err := decompress(rc)
	if err != nil {
		rc.Close()
		return fmt.Errorf("open %s: %w", st.name, err)
	}
	s.current = r
	s.r = bufio.NewReaderSize(r, 64*1024)
	return nil
}

// readLine returns the next line of the current stream without its
// terminator. ok is false at the end of the stream. Lines longer than
// maxLine are read to their end, dropped and counted.
func (s *lineScanner) readLine() (line []byte, ok bool, err error) {
	for {
		s.buf = s.buf[:0]
		skip, read := false, false
		for {
			chunk, rerr := s.r.ReadSlice('\n')
			read = read || len(chunk) > 0
			if !skip {
				if len(s.buf)+len(chunk) > s.maxLine+1 {
					skip = true
					s.buf = s.buf[:0]
				} else {
					s.buf = append(s.buf, chunk...)
				}
			}
			if rerr == bufio.ErrBufferFull {
				continue
			}
			if rerr != nil && rerr != io.EOF {
				return nil, false, rerr
			}
			if rerr == io.EOF && !read {
				return nil, false, nil
			}
			break
		}
		if skip {
			s.oversized++
			continue
		}
		return bytes.TrimSuffix(s.buf, []byte("\n")), true, nil
	}
}

func (s *lineScanner) closeCurrent() {
	if s.current != nil {
		s.current.Close()
		s.current = nil
	}
	s.r = nil
}

// Oversized returns the number of lines skipped for exceeding the limit.
func (s *lineScanner) Oversized() int { return s.oversized }

func (s *lineScanner) Text() string { return s.line }

func (s *lineScanner) Err() error { return s.err }

func (s *lineScanner) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.closeCurrent()
	if s.onClose != nil {
		return s.onClose()
	}
	return nil
}

// gzipStream closes both the gzip reader and the stream beneath it.
type gzipStream struct {
	*gzip.Reader
	under io.Closer
}

func (g gzipStream) Close() error {
	err := g.Reader.Close()
	if cerr := g.under.Close(); err == nil {
		err = cerr
	}
	return err
}

type bufferedStream struct {
	*bufio.Reader
	io.Closer
}

// decompress wraps rc in a gzip reader when the stream starts with the
// gzip magic bytes.
func decompress(rc io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReader(rc)
	magic, err := br.Peek(2)
	if err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, err
		}
		return gzipStream{Reader: zr, under: rc}, nil
	}
	return bufferedStream{Reader: br, Closer: rc}, nil
}
