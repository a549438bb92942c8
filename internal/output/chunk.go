package output

import "fmt"

// Stream identifies which output of a process a chunk came from.
type Stream int

const (
	Stdout Stream = iota + 1
	Stderr
)

// String returns "stdout" or "stderr".
func (s Stream) String() string {
	switch s {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return fmt.Sprintf("stream(%d)", int(s))
	}
}

// Chunk is a piece of one stream of one process. The final chunk of a
// stream has EOF set and may carry no data; Err is set when the stream
// ended because of a read error rather than a clean end of file.
type Chunk struct {
	Source string
	Stream Stream
	Data   []byte
	EOF    bool
	Err    error
}

// Line is one newline-terminated line, or the unterminated remainder
// delivered when its stream ends. Text keeps the trailing newline.
type Line struct {
	Source string
	Stream Stream
	Text   string
	EOF    bool
	Err    error
}

// LineHandler consumes line events.
type LineHandler interface {
	HandleLine(Line)
}

// LineFunc adapts a function to LineHandler.
type LineFunc func(Line)

// HandleLine calls f(l).
func (f LineFunc) HandleLine(l Line) { f(l) }
