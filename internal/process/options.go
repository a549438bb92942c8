package process

import (
	"time"

	"github.com/Iron-Ham/convoy/internal/event"
	"github.com/Iron-Ham/convoy/internal/logging"
	"github.com/Iron-Ham/convoy/internal/output"
)

// DefaultKillTimeout is the grace window between SIGTERM and SIGKILL when a
// kill asks for escalation and Options.KillTimeout is unset.
const DefaultKillTimeout = 5 * time.Second

// KillPolicy selects whether signals reach the children of a process.
type KillPolicy int

const (
	// KillDefault kills subprocesses of shell commands only.
	KillDefault KillPolicy = iota
	// KillTree always signals the whole process tree.
	KillTree
	// KillLeader only signals the launched process.
	KillLeader
)

// Options are the per-process settings fixed at construction.
type Options struct {
	// Name labels the process in logs; defaults to the command line.
	Name string
	// Timeout bounds the run; zero means unbounded.
	Timeout time.Duration
	// KillTimeout is the escalation grace window (default DefaultKillTimeout).
	KillTimeout time.Duration

	IgnoreExitCode bool
	IgnoreTimeout  bool
	IgnoreError    bool
	NologExitCode  bool
	NologTimeout   bool
	NologError     bool

	KillSubprocesses KillPolicy

	// PTY launches on a pseudo terminal (stdin and stdout share it).
	PTY bool
	// DiscardOutput disables the in-memory stdout/stderr accumulators.
	DiscardOutput bool
	// Dir is the working directory of local processes.
	Dir string
	// Env is appended to the inherited environment.
	Env []string

	// Stdout and Stderr sinks receive the streams in order.
	Stdout []output.Sink
	Stderr []output.Sink
	// Lifecycle handlers are notified of start, end and reset.
	Lifecycle []LifecycleHandler

	// CompactThreshold bounds output dumps in log records; 0 disables.
	CompactThreshold int
	Logger           *logging.Logger
	Events           *event.Bus
}

func (o Options) killTimeout() time.Duration {
	if o.KillTimeout > 0 {
		return o.KillTimeout
	}
	return DefaultKillTimeout
}

// KillOptions modify one Kill call.
type KillOptions struct {
	// AutoEscalate schedules a SIGKILL one kill timeout after a SIGTERM.
	AutoEscalate bool
	// IgnoreExitCode stops the resulting exit code from failing the run.
	IgnoreExitCode bool
	// NologExitCode suppresses the warning about the resulting exit code.
	NologExitCode bool
}

// GracefulKill is the usual stop request: SIGTERM escalating to SIGKILL,
// without blaming the run for the resulting exit code.
var GracefulKill = KillOptions{AutoEscalate: true, IgnoreExitCode: true, NologExitCode: true}
