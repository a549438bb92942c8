package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Sink receives the chunks of the streams it is registered on. Close is
// called once when the owning process terminates.
type Sink interface {
	Consume(c Chunk) error
	Close() error
}

// -----------------------------------------------------------------------------
// Descriptor sink
// -----------------------------------------------------------------------------

type writerSink struct {
	mu sync.Mutex
	w  io.Writer
}

// Writer returns a Sink copying bytes to w, e.g. os.Stdout or an open
// *os.File. w is never closed by the sink.
func Writer(w io.Writer) Sink {
	return &writerSink{w: w}
}

func (s *writerSink) Consume(c Chunk) error {
	if len(c.Data) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write(c.Data)
	return err
}

func (s *writerSink) Close() error { return nil }

// -----------------------------------------------------------------------------
// Path sink
// -----------------------------------------------------------------------------

type pathSink struct {
	path string

	mu   sync.Mutex
	file *os.File
	open map[Stream]bool // streams that wrote and have not ended yet
}

// Path returns a Sink writing to the file at path. The file is created (or
// truncated) on the first chunk and closed once every stream that wrote to
// it has ended.
func Path(path string) Sink {
	return &pathSink{path: path, open: make(map[Stream]bool)}
}

func (s *pathSink) Consume(c Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		f, err := os.Create(s.path)
		if err != nil {
			return fmt.Errorf("failed to open output file: %w", err)
		}
		s.file = f
	}
	s.open[c.Stream] = true

	var err error
	if len(c.Data) > 0 {
		_, err = s.file.Write(c.Data)
	}

	if c.EOF || c.Err != nil {
		delete(s.open, c.Stream)
		if len(s.open) == 0 {
			if closeErr := s.closeLocked(); err == nil {
				err = closeErr
			}
		}
	}
	return err
}

func (s *pathSink) closeLocked() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *pathSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.open)
	return s.closeLocked()
}

// -----------------------------------------------------------------------------
// Streaming line sink
// -----------------------------------------------------------------------------

type lineSink struct {
	splitter *Splitter
	handler  LineHandler
}

// Lines returns a Sink delivering complete lines to h. A single Lines sink
// may be shared by several processes and streams.
func Lines(h LineHandler) Sink {
	return &lineSink{splitter: NewSplitter(), handler: h}
}

func (s *lineSink) Consume(c Chunk) error {
	for _, l := range s.splitter.Split(c) {
		s.handler.HandleLine(l)
	}
	return nil
}

func (s *lineSink) Close() error { return nil }

// -----------------------------------------------------------------------------
// Accumulator
// -----------------------------------------------------------------------------

// Accumulator keeps everything written to a stream in memory.
type Accumulator struct {
	mu  sync.Mutex
	buf strings.Builder
}

// Consume appends the chunk data.
func (a *Accumulator) Consume(c Chunk) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf.Write(c.Data)
	return nil
}

// Close is a no-op; the accumulated text stays readable.
func (a *Accumulator) Close() error { return nil }

// String returns the accumulated text.
func (a *Accumulator) String() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.String()
}

// Reset discards the accumulated text.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf.Reset()
}
