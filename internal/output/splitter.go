package output

import (
	"bytes"
	"sync"
)

type bufferKey struct {
	source string
	stream Stream
}

// Splitter re-assembles chunks into lines, keeping one pending buffer per
// (source, stream) pair. It is safe for concurrent use.
type Splitter struct {
	mu      sync.Mutex
	buffers map[bufferKey]*bytes.Buffer
}

// NewSplitter returns an empty Splitter.
func NewSplitter() *Splitter {
	return &Splitter{buffers: make(map[bufferKey]*bytes.Buffer)}
}

// Split appends c to its pending buffer and returns every complete line, in
// order. When c ends its stream, the remainder (possibly empty) is returned
// as a last line with EOF set and the buffer is dropped.
func (s *Splitter) Split(c Chunk) []Line {
	key := bufferKey{c.Source, c.Stream}

	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.buffers[key]
	if buf == nil {
		buf = new(bytes.Buffer)
		s.buffers[key] = buf
	}
	buf.Write(c.Data)

	var lines []Line
	for {
		i := bytes.IndexByte(buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		lines = append(lines, Line{Source: c.Source, Stream: c.Stream, Text: string(buf.Next(i + 1))})
	}

	if c.EOF || c.Err != nil {
		lines = append(lines, Line{
			Source: c.Source,
			Stream: c.Stream,
			Text:   buf.String(),
			EOF:    true,
			Err:    c.Err,
		})
		delete(s.buffers, key)
	}
	return lines
}
