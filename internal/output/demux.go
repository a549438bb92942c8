package output

import (
	"runtime/debug"
	"slices"
	"sync"

	"github.com/Iron-Ham/convoy/internal/logging"
)

// Demux fans the chunks of one process out to the sinks registered for
// each stream, in registration order.
type Demux struct {
	logger *logging.Logger

	mu    sync.Mutex
	sinks map[Stream][]Sink
}

// NewDemux creates an empty Demux. A nil logger discards sink failures.
func NewDemux(logger *logging.Logger) *Demux {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Demux{logger: logger, sinks: make(map[Stream][]Sink)}
}

// Add appends sinks to the chain of stream.
func (d *Demux) Add(stream Stream, sinks ...Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range sinks {
		if s != nil {
			d.sinks[stream] = append(d.sinks[stream], s)
		}
	}
}

// Dispatch delivers c to every sink of c.Stream. Sinks are called without
// the Demux lock held.
func (d *Demux) Dispatch(c Chunk) {
	d.mu.Lock()
	chain := slices.Clone(d.sinks[c.Stream])
	d.mu.Unlock()

	for _, s := range chain {
		d.safeConsume(s, c)
	}
}

func (d *Demux) safeConsume(s Sink, c Chunk) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("output handler panicked",
				"source", c.Source,
				"stream", c.Stream.String(),
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	if err := s.Consume(c); err != nil {
		d.logger.Warn("output handler failed",
			"source", c.Source,
			"stream", c.Stream.String(),
			"error", err)
	}
}

// Close closes every distinct sink once.
func (d *Demux) Close() {
	d.mu.Lock()
	seen := make(map[Sink]bool)
	var all []Sink
	for _, stream := range []Stream{Stdout, Stderr} {
		for _, s := range d.sinks[stream] {
			if !seen[s] {
				seen[s] = true
				all = append(all, s)
			}
		}
	}
	d.mu.Unlock()

	for _, s := range all {
		if err := s.Close(); err != nil {
			d.logger.Warn("failed to close output handler", "error", err)
		}
	}
}
