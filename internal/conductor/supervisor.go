package conductor

import (
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/convoy/internal/errors"
	"github.com/Iron-Ham/convoy/internal/logging"
	"github.com/Iron-Ham/convoy/internal/output"
	"github.com/Iron-Ham/convoy/internal/process"
)

// DefaultReadChunkSize is the largest read done on one stream per wakeup.
const DefaultReadChunkSize = 32767

// maxDrainReads bounds the reads done on a stream after its process exited,
// in case a surviving child keeps writing.
const maxDrainReads = 1024

// Config configures a Supervisor.
type Config struct {
	ReadChunkSize int
	Logger        *logging.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{ReadChunkSize: DefaultReadChunkSize}
}

type actionKind int

const (
	actStart actionKind = iota
	actReschedule
	actExited
)

type action struct {
	kind  actionKind
	p     *process.Process
	state *os.ProcessState
	err   error
}

// stream is the owner of a registered descriptor.
type stream struct {
	p      *process.Process
	stream output.Stream
}

// entry is the loop-side record of a running process.
type entry struct {
	fds      []int
	deadline time.Time // last deadline pushed to the heap
}

// Supervisor owns the running processes submitted to it. It implements
// process.Scheduler.
type Supervisor struct {
	cfg    Config
	logger *logging.Logger

	mu      sync.Mutex
	actions []action
	active  int
	closed  bool

	wakeR int
	wakeW int
	done  chan struct{}

	// loop goroutine only
	fds       map[int]stream
	procs     map[*process.Process]*entry
	deadlines deadlineHeap
	buf       []byte
}

// New starts a Supervisor.
func New(cfg Config) (*Supervisor, error) {
	if cfg.ReadChunkSize <= 0 {
		cfg.ReadChunkSize = DefaultReadChunkSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}

	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return nil, errors.Wrap(err, "failed to create wakeup pipe")
	}

	s := &Supervisor{
		cfg:    cfg,
		logger: logger.With("component", "supervisor"),
		wakeR:  fds[0],
		wakeW:  fds[1],
		done:   make(chan struct{}),
		fds:    make(map[int]stream),
		procs:  make(map[*process.Process]*entry),
		buf:    make([]byte, cfg.ReadChunkSize),
	}
	go s.loop()
	return s, nil
}

// Submit queues p for launch.
func (s *Supervisor) Submit(p *process.Process) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.ErrSupervisorClosed
	}
	s.active++
	s.actions = append(s.actions, action{kind: actStart, p: p})
	s.wakeLocked()
	s.mu.Unlock()
	return nil
}

// Reschedule asks the loop to look at p again. It is called with the lock
// of p held and never blocks.
func (s *Supervisor) Reschedule(p *process.Process) {
	s.post(action{kind: actReschedule, p: p})
}

// Running returns the number of processes submitted and not yet ended.
func (s *Supervisor) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Close refuses new submissions and waits until every process already
// submitted has ended. It kills nothing.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closed = true
	s.wakeLocked()
	s.mu.Unlock()

	<-s.done
	s.mu.Lock()
	closeFDs(s.wakeR, s.wakeW)
	s.wakeR, s.wakeW = -1, -1
	s.mu.Unlock()
	return nil
}

func (s *Supervisor) post(a action) {
	s.mu.Lock()
	s.actions = append(s.actions, a)
	s.wakeLocked()
	s.mu.Unlock()
}

// wakeLocked interrupts the poll. s.mu must be held; the pipe is closed
// under it once the loop has returned.
func (s *Supervisor) wakeLocked() {
	if s.wakeW < 0 {
		return
	}
	// A full pipe already guarantees a wakeup.
	_, _ = unix.Write(s.wakeW, []byte{0})
}

func (s *Supervisor) loop() {
	defer close(s.done)
	s.logger.Debug("supervisor started")

	pfds := make([]unix.PollFd, 0, 16)
	for {
		s.mu.Lock()
		actions := s.actions
		s.actions = nil
		s.mu.Unlock()

		for _, a := range actions {
			s.handle(a)
		}
		if s.stopping() {
			s.logger.Debug("supervisor stopped")
			return
		}
		timeout := s.expireDeadlines(time.Now())

		pfds = append(pfds[:0], unix.PollFd{Fd: int32(s.wakeR), Events: unix.POLLIN})
		for fd := range s.fds {
			pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
		}

		if _, err := unix.Poll(pfds, timeout); err != nil {
			if err != unix.EINTR {
				s.logger.Error("poll failed", "error", err)
				time.Sleep(10 * time.Millisecond)
			}
			continue
		}

		for _, pfd := range pfds {
			if pfd.Revents == 0 {
				continue
			}
			fd := int(pfd.Fd)
			if fd == s.wakeR {
				s.drainWakeups()
				continue
			}
			if pfd.Revents&unix.POLLNVAL != 0 {
				s.endStream(fd, unix.EBADF)
				continue
			}
			s.readOnce(fd)
		}
	}
}

func (s *Supervisor) drainWakeups() {
	var b [64]byte
	for {
		n, err := unix.Read(s.wakeR, b[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (s *Supervisor) handle(a action) {
	switch a.kind {
	case actStart:
		s.launch(a.p)
	case actReschedule:
		s.reschedule(a.p)
	case actExited:
		s.exited(a.p, a.state, a.err)
	}
}

// stopping reports whether Close was called and nothing is left to do.
func (s *Supervisor) stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed && s.active == 0 && len(s.actions) == 0
}

func (s *Supervisor) finished() {
	s.mu.Lock()
	s.active--
	s.mu.Unlock()
}

func (s *Supervisor) launch(p *process.Process) {
	h, err := p.Launch()
	if err != nil {
		p.Terminate(process.Outcome{ExitCode: -1, Err: err})
		s.finished()
		return
	}
	if h == nil {
		s.finished()
		return
	}

	e := &entry{}
	for _, reg := range []struct {
		fd     int
		stream output.Stream
	}{{h.Stdout, output.Stdout}, {h.Stderr, output.Stderr}} {
		if reg.fd >= 0 {
			s.fds[reg.fd] = stream{p: p, stream: reg.stream}
			e.fds = append(e.fds, reg.fd)
		}
	}
	s.procs[p] = e
	s.pushDeadline(p, e)

	go func() {
		state, err := h.Wait()
		s.post(action{kind: actExited, p: p, state: state, err: err})
	}()
}

func (s *Supervisor) reschedule(p *process.Process) {
	e, ok := s.procs[p]
	if !ok {
		return
	}
	if fd, ok := p.TakePTYClose(); ok {
		if _, registered := s.fds[fd]; registered {
			s.drain(fd)
			s.endStream(fd, nil)
		}
		p.ClosePTY()
	}
	s.pushDeadline(p, e)
}

func (s *Supervisor) pushDeadline(p *process.Process, e *entry) {
	at := p.Deadline()
	if at.IsZero() || at.Equal(e.deadline) {
		return
	}
	e.deadline = at
	s.deadlines.push(at, p)
}

// expireDeadlines fires every due deadline and returns the poll timeout
// until the next one, -1 when there is none.
func (s *Supervisor) expireDeadlines(now time.Time) int {
	for {
		top, ok := s.deadlines.peek()
		if !ok {
			return -1
		}
		e, running := s.procs[top.p]
		if !running || !e.deadline.Equal(top.at) || !top.p.Deadline().Equal(top.at) {
			s.deadlines.pop()
			continue
		}
		if top.at.After(now) {
			return pollTimeout(top.at, now)
		}
		s.deadlines.pop()
		e.deadline = time.Time{}
		top.p.TimeoutKill()
	}
}

func (s *Supervisor) exited(p *process.Process, state *os.ProcessState, err error) {
	e, ok := s.procs[p]
	if !ok {
		return
	}
	for _, fd := range e.fds {
		if _, registered := s.fds[fd]; registered {
			s.drain(fd)
			s.endStream(fd, nil)
		}
	}
	delete(s.procs, p)

	p.Terminate(process.ExitOutcome(state, err))
	s.finished()
}

// readOnce does one read on a readable descriptor.
func (s *Supervisor) readOnce(fd int) {
	owner, ok := s.fds[fd]
	if !ok {
		return
	}
	n, err := unix.Read(fd, s.buf)
	switch {
	case n > 0:
		owner.p.HandleOutput(output.Chunk{Stream: owner.stream, Data: clone(s.buf[:n])})
	case err == unix.EAGAIN || err == unix.EINTR:
	case err == nil || err == unix.EIO:
		// EIO is how a pty master reports that the slave side closed.
		s.endStream(fd, nil)
	default:
		s.endStream(fd, err)
	}
}

// drain reads fd until it would block or ends.
func (s *Supervisor) drain(fd int) {
	for _i := 0; _i < maxDrainReads; _i++ {
		owner, ok := s.fds[fd]
		if !ok {
			return
		}
		n, err := unix.Read(fd, s.buf)
		switch {
		case n > 0:
			owner.p.HandleOutput(output.Chunk{Stream: owner.stream, Data: clone(s.buf[:n])})
		case err == unix.EINTR:
		case err == unix.EAGAIN:
			return
		case err == nil || err == unix.EIO:
			s.endStream(fd, nil)
			return
		default:
			s.endStream(fd, err)
			return
		}
	}
}

// endStream unregisters fd and delivers the end of its stream. The
// descriptor itself belongs to the process and is closed at termination.
func (s *Supervisor) endStream(fd int, err error) {
	owner, ok := s.fds[fd]
	if !ok {
		return
	}
	delete(s.fds, fd)
	owner.p.HandleOutput(output.Chunk{Stream: owner.stream, EOF: true, Err: err})
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}

func closeFDs(fds ...int) {
	for _, fd := range fds {
		_ = unix.Close(fd)
	}
}
