package process

import (
	"context"
	"os"
	"syscall"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/convoy/internal/errors"
	"github.com/Iron-Ham/convoy/internal/event"
	"github.com/Iron-Ham/convoy/internal/logging"
	"github.com/Iron-Ham/convoy/internal/output"
)

// State is the lifecycle state of a Process.
type State int

const (
	// Idle processes were created or reset and not started.
	Idle State = iota
	// Pending processes are queued to their scheduler for launch.
	Pending
	// Running processes have been launched.
	Running
	// Ended processes have terminated, normally or not.
	Ended
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// Scheduler launches pending processes and watches their deadlines. The
// conductor package provides the implementation.
type Scheduler interface {
	// Submit queues p for launch.
	Submit(p *Process) error
	// Reschedule tells the scheduler that the deadline of p changed or
	// that p has a pending request, such as closing its pty.
	Reschedule(p *Process)
}

// Outcome is what the scheduler or a fan-out driver observed at the end of
// a run.
type Outcome struct {
	ExitCode int
	// Signal is set when the process died from a signal; ExitCode is then
	// 128 plus the signal number.
	Signal syscall.Signal
	// Err is a launch failure or a lost connection.
	Err        error
	Timeouted  bool
	ForcedKill bool
}

// ExitOutcome converts the result of an OS wait.
func ExitOutcome(ps *os.ProcessState, err error) Outcome {
	if err != nil {
		return Outcome{ExitCode: -1, Err: err}
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return Outcome{ExitCode: 128 + int(ws.Signal()), Signal: ws.Signal()}
	}
	return Outcome{ExitCode: ps.ExitCode()}
}

// Process is one supervised command execution. See the package
// documentation for the lifecycle.
type Process struct {
	id       string
	cmd      Command
	launcher Launcher
	sched    Scheduler
	opts     Options
	logger   *logging.Logger
	external bool

	mu         sync.Mutex
	state      State
	startTime  time.Time
	endTime    time.Time
	deadline   time.Time
	inGrace    bool // deadline ends a SIGTERM grace window, not the run timeout
	gotSigterm bool
	err        error
	exitCode   int
	exitSignal syscall.Signal
	timeouted  bool
	forcedKill bool
	pid        int

	// set by Kill for the current run
	killIgnoreExitCode bool
	killNologExitCode  bool

	osp       *osProc
	closePTY  bool
	stdout    *output.Accumulator
	stderr    *output.Accumulator
	demux     *output.Demux
	startedCh chan struct{}
	doneCh    chan struct{}
	changedCh chan struct{}
}

// New creates an idle process running cmd through launcher. sched may be
// nil for External launchers only.
func New(sched Scheduler, cmd Command, launcher Launcher, opts Options) *Process {
	if launcher == nil {
		launcher = Local{}
	}
	p := &Process{
		id:       uuid.NewString(),
		cmd:      cmd,
		launcher: launcher,
		sched:    sched,
		opts:     opts,
	}
	switch launcher.(type) {
	case External, *External:
		p.external = true
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger = logger.WithProcess(p.id)
	if target := launcher.Target(); target != "" {
		logger = logger.WithHost(target)
	}
	p.logger = logger

	p.changedCh = make(chan struct{})
	p.armLocked()
	return p
}

// armLocked prepares the per-run channels and output chain.
func (p *Process) armLocked() {
	p.startedCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.demux = output.NewDemux(p.logger)
	p.stdout, p.stderr = nil, nil
	if !p.opts.DiscardOutput {
		p.stdout = &output.Accumulator{}
		p.stderr = &output.Accumulator{}
		p.demux.Add(output.Stdout, p.stdout)
		p.demux.Add(output.Stderr, p.stderr)
	}
	p.demux.Add(output.Stdout, p.opts.Stdout...)
	p.demux.Add(output.Stderr, p.opts.Stderr...)
}

// notifyLocked wakes everything waiting on Changed.
func (p *Process) notifyLocked() {
	close(p.changedCh)
	p.changedCh = make(chan struct{})
}

// -----------------------------------------------------------------------------
// Accessors
// -----------------------------------------------------------------------------

// ID returns the unique identifier of the process.
func (p *Process) ID() string { return p.id }

// Command returns the command the process runs.
func (p *Process) Command() Command { return p.cmd }

// Host returns the target machine, empty for local processes.
func (p *Process) Host() string { return p.launcher.Target() }

// External reports whether the process is driven by a fan-out tool.
func (p *Process) External() bool { return p.external }

// Name returns Options.Name or the command line.
func (p *Process) Name() string {
	if p.opts.Name != "" {
		return p.opts.Name
	}
	return p.cmd.Line()
}

// Plan returns what a launch would execute, without launching.
func (p *Process) Plan() (Plan, error) {
	return p.launcher.Plan(p.cmd, p.opts)
}

// Options returns the construction options.
func (p *Process) Options() Options { return p.opts }

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// PID returns the OS process id, 0 when there is none.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

// StartTime returns when the current run started.
func (p *Process) StartTime() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startTime
}

// EndTime returns when the current run ended.
func (p *Process) EndTime() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.endTime
}

// Deadline returns the instant the scheduler must act on the process: its
// timeout, or the end of the grace window after SIGTERM. Zero means none.
func (p *Process) Deadline() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Running {
		return time.Time{}
	}
	return p.deadline
}

// ExitCode returns the exit code of the last run.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// ExitSignal returns the signal that ended the last run, if any.
func (p *Process) ExitSignal() syscall.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitSignal
}

// Err returns the launch or connection error of the last run.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Timeouted reports whether the run reached its timeout.
func (p *Process) Timeouted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timeouted
}

// ForcedKill reports whether the run was sent SIGKILL.
func (p *Process) ForcedKill() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.forcedKill
}

// Started reports whether the run was launched (or failed to launch).
func (p *Process) Started() bool { return p.snapshot().started }

// Ended reports whether the run terminated.
func (p *Process) Ended() bool { return p.snapshot().ended }

// Ok is true before the end of a run, and afterwards unless an error, a
// timeout or a non-zero exit code occurred that is not ignored.
func (p *Process) Ok() bool { return p.snapshot().ok() }

// FinishedOk reports whether the run started, ended and is ok.
func (p *Process) FinishedOk() bool {
	r := p.snapshot()
	return r.started && r.ended && r.ok()
}

// Stdout returns the accumulated standard output of the current run.
func (p *Process) Stdout() string {
	p.mu.Lock()
	acc := p.stdout
	p.mu.Unlock()
	if acc == nil {
		return ""
	}
	return acc.String()
}

// Stderr returns the accumulated standard error of the current run.
func (p *Process) Stderr() string {
	p.mu.Lock()
	acc := p.stderr
	p.mu.Unlock()
	if acc == nil {
		return ""
	}
	return acc.String()
}

// Changed returns a channel closed at the next state change.
func (p *Process) Changed() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.changedCh
}

// result is a consistent copy of the outcome fields.
type result struct {
	started        bool
	ended          bool
	startTime      time.Time
	endTime        time.Time
	err            error
	exitCode       int
	exitSignal     syscall.Signal
	timeouted      bool
	forcedKill     bool
	ignoreExitCode bool
	ignoreTimeout  bool
	ignoreError    bool
	nologExitCode  bool
	nologTimeout   bool
	nologError     bool
}

func (r result) ok() bool {
	if !r.started || !r.ended {
		return true
	}
	return (r.err == nil || r.ignoreError) &&
		(!r.timeouted || r.ignoreTimeout) &&
		(r.exitCode == 0 || r.ignoreExitCode)
}

// shouldWarn reports whether a failed run deserves a warning.
func (r result) shouldWarn() bool {
	return (r.err != nil && !r.ignoreError && !r.nologError) ||
		(r.timeouted && !r.ignoreTimeout && !r.nologTimeout) ||
		(r.exitCode != 0 && !r.ignoreExitCode && !r.nologExitCode)
}

func (p *Process) snapshot() result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Process) snapshotLocked() result {
	return result{
		started:        p.state == Running || p.state == Ended,
		ended:          p.state == Ended,
		startTime:      p.startTime,
		endTime:        p.endTime,
		err:            p.err,
		exitCode:       p.exitCode,
		exitSignal:     p.exitSignal,
		timeouted:      p.timeouted,
		forcedKill:     p.forcedKill,
		ignoreExitCode: p.opts.IgnoreExitCode || p.killIgnoreExitCode,
		ignoreTimeout:  p.opts.IgnoreTimeout,
		ignoreError:    p.opts.IgnoreError,
		nologExitCode:  p.opts.NologExitCode || p.killNologExitCode,
		nologTimeout:   p.opts.NologTimeout,
		nologError:     p.opts.NologError,
	}
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Start queues the process for launch. It is a no-op unless the process is
// idle. External processes only become pending; their driver calls
// MarkStarted.
func (p *Process) Start() error {
	p.mu.Lock()
	if p.state != Idle {
		p.mu.Unlock()
		return nil
	}
	p.state = Pending
	p.notifyLocked()
	p.mu.Unlock()

	if p.external {
		return nil
	}
	if p.sched == nil {
		err := errors.NewProcessError("no scheduler", nil).WithProcessID(p.id)
		p.Terminate(Outcome{ExitCode: -1, Err: err})
		return err
	}
	if err := p.sched.Submit(p); err != nil {
		p.Terminate(Outcome{ExitCode: -1, Err: err})
		return err
	}
	return nil
}

// Run starts the process and waits for its end.
func (p *Process) Run(ctx context.Context) error {
	if err := p.Start(); err != nil {
		return err
	}
	return p.Wait(ctx)
}

// Launch creates the OS process of a pending run. It is called by the
// scheduler. It returns nil handles when there is nothing to launch. On
// error the caller terminates the process with the error as outcome.
func (p *Process) Launch() (*Handles, error) {
	p.mu.Lock()
	if p.state != Pending || p.external {
		p.mu.Unlock()
		return nil, nil
	}
	plan, err := p.launcher.Plan(p.cmd, p.opts)
	var o *osProc
	if err == nil {
		o, err = spawn(plan, p.opts)
	}
	now := time.Now()
	p.startTime = now
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}

	p.osp = o
	p.pid = o.proc.Pid
	if p.opts.Timeout > 0 {
		p.deadline = now.Add(p.opts.Timeout)
	}
	p.state = Running
	close(p.startedCh)
	p.notifyLocked()
	handlers := p.opts.Lifecycle
	pid := p.pid
	p.mu.Unlock()

	p.logger.Debug("process started", "command", p.Name(), "argv", plan.Argv, "pid", pid)
	p.opts.Events.Publish(event.NewProcessStartedEvent(p.id, p.Host(), p.Name(), pid))
	p.notify(handlers, onStart)
	return o.handles(), nil
}

// MarkStarted moves an external process to running. It fails with
// ErrAlreadyStarted when the run already started.
func (p *Process) MarkStarted() error {
	p.mu.Lock()
	if !p.external {
		p.mu.Unlock()
		return errors.NewProcessError("not an external process", nil).WithProcessID(p.id)
	}
	switch p.state {
	case Running, Ended:
		p.mu.Unlock()
		return errors.NewProcessError("cannot mark started", errors.ErrAlreadyStarted).WithProcessID(p.id)
	}
	p.startTime = time.Now()
	p.state = Running
	close(p.startedCh)
	p.notifyLocked()
	handlers := p.opts.Lifecycle
	p.mu.Unlock()

	p.logger.Debug("process started", "command", p.Name())
	p.opts.Events.Publish(event.NewProcessStartedEvent(p.id, p.Host(), p.Name(), 0))
	p.notify(handlers, onStart)
	return nil
}

// HandleOutput feeds a chunk of one stream to the output chain.
func (p *Process) HandleOutput(c output.Chunk) {
	c.Source = p.id
	p.mu.Lock()
	d := p.demux
	p.mu.Unlock()
	d.Dispatch(c)
}

// Terminate ends the current run with outcome o. It runs once per run:
// later calls are ignored. It releases the OS resources, closes the output
// sinks, logs the end, fires the end handlers and only then releases the
// waiters.
func (p *Process) Terminate(o Outcome) {
	p.mu.Lock()
	if p.state == Idle || p.state == Ended {
		p.mu.Unlock()
		return
	}
	now := time.Now()
	if p.startTime.IsZero() {
		p.startTime = now
	}
	if p.state == Pending {
		close(p.startedCh)
	}
	p.endTime = now
	p.exitCode = o.ExitCode
	p.exitSignal = o.Signal
	if o.Err != nil {
		p.err = o.Err
	}
	p.timeouted = p.timeouted || o.Timeouted
	p.forcedKill = p.forcedKill || o.ForcedKill
	p.deadline = time.Time{}
	p.inGrace = false
	p.closePTY = false
	osp := p.osp
	p.osp = nil
	p.state = Ended
	p.notifyLocked()

	r := p.snapshotLocked()
	demux := p.demux
	stdout, stderr := p.stdout, p.stderr
	handlers := p.opts.Lifecycle
	done := p.doneCh
	p.mu.Unlock()

	if osp != nil {
		osp.close()
	}
	demux.Close()
	p.logEnd(r, stdout, stderr)
	p.opts.Events.Publish(event.NewProcessEndedEvent(p.id, p.Host(), r.exitCode, r.ok(), r.timeouted, r.endTime.Sub(r.startTime)))
	p.notify(handlers, onEnd)
	close(done)
}

func (p *Process) logEnd(r result, stdout, stderr *output.Accumulator) {
	attrs := []any{
		"command", p.Name(),
		"exit_code", r.exitCode,
		"duration", r.endTime.Sub(r.startTime).String(),
		"ok", r.ok(),
	}
	if r.exitSignal != 0 {
		attrs = append(attrs, "signal", r.exitSignal.String())
	}
	if r.err != nil {
		attrs = append(attrs, "error", r.err.Error())
	}
	if r.timeouted {
		attrs = append(attrs, "timeouted", true)
	}
	if r.forcedKill {
		attrs = append(attrs, "forced_kill", true)
	}

	if r.ok() || !r.shouldWarn() {
		p.logger.Debug("process ended", attrs...)
		return
	}
	if stdout != nil {
		attrs = append(attrs, "stdout", logging.Compact(stdout.String(), p.opts.CompactThreshold))
	}
	if stderr != nil {
		attrs = append(attrs, "stderr", logging.Compact(stderr.String(), p.opts.CompactThreshold))
	}
	p.logger.Warn("process failed", attrs...)
}

// WaitStarted blocks until the run is launched or has ended.
func (p *Process) WaitStarted(ctx context.Context) error {
	p.mu.Lock()
	if p.state == Idle {
		p.mu.Unlock()
		return errors.NewProcessError("cannot wait", errors.ErrNotStarted).WithProcessID(p.id)
	}
	started := p.startedCh
	p.mu.Unlock()

	select {
	case <-started:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the run has ended and its end handlers have returned,
// or ctx is done. Waiting on an idle process fails with ErrNotStarted.
func (p *Process) Wait(ctx context.Context) error {
	p.mu.Lock()
	if p.state == Idle {
		p.mu.Unlock()
		return errors.NewProcessError("cannot wait", errors.ErrNotStarted).WithProcessID(p.id)
	}
	done := p.doneCh
	p.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitTimeout is Wait bounded by d; d <= 0 waits forever.
func (p *Process) WaitTimeout(d time.Duration) error {
	ctx := context.Background()
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	err := p.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.NewTimeoutError("waiting for "+p.Name(), d)
	}
	return err
}

// Reset brings the process back to idle so it can run again. A pending or
// running process is killed and waited for first.
func (p *Process) Reset() error {
	switch p.State() {
	case Pending, Running:
		if p.external {
			p.Terminate(Outcome{ExitCode: -1, ForcedKill: true})
		} else {
			p.Kill(syscall.SIGKILL, KillOptions{IgnoreExitCode: true, NologExitCode: true})
		}
		if err := p.Wait(context.Background()); err != nil {
			return err
		}
	}

	p.mu.Lock()
	p.state = Idle
	p.startTime = time.Time{}
	p.endTime = time.Time{}
	p.deadline = time.Time{}
	p.inGrace = false
	p.gotSigterm = false
	p.err = nil
	p.exitCode = 0
	p.exitSignal = 0
	p.timeouted = false
	p.forcedKill = false
	p.pid = 0
	p.killIgnoreExitCode = false
	p.killNologExitCode = false
	p.closePTY = false
	p.osp = nil
	p.armLocked()
	p.notifyLocked()
	handlers := p.opts.Lifecycle
	p.mu.Unlock()

	p.notify(handlers, onReset)
	return nil
}

// -----------------------------------------------------------------------------
// Signals
// -----------------------------------------------------------------------------

// Kill sends sig to the running process, and to its subprocesses per the
// kill policy. A pending process is waited for first; any other state makes
// Kill a no-op. The effect is observed through the end of the run.
func (p *Process) Kill(sig syscall.Signal, ko KillOptions) {
	p.mu.Lock()
	if p.state == Pending && !p.external {
		started := p.startedCh
		p.mu.Unlock()
		<-started
		p.mu.Lock()
	}
	if p.state != Running || p.osp == nil {
		p.mu.Unlock()
		return
	}

	if ko.IgnoreExitCode {
		p.killIgnoreExitCode = true
	}
	if ko.NologExitCode {
		p.killNologExitCode = true
	}

	reschedule := false
	switch sig {
	case syscall.SIGTERM:
		p.gotSigterm = true
		if ko.AutoEscalate {
			p.deadline = time.Now().Add(p.opts.killTimeout())
			p.inGrace = true
			reschedule = true
		}
	case syscall.SIGKILL:
		p.forcedKill = true
		p.deadline = time.Time{}
		p.inGrace = false
		reschedule = true
	}

	var err error
	if p.killsTree() {
		err = signalTree(p.pid, sig)
	}
	if !p.killsTree() || err == syscall.ESRCH {
		err = p.osp.signal(sig)
	}

	var warn error
	switch {
	case err == nil, err == syscall.ESRCH:
	case err == syscall.EPERM && p.osp.hasPTY && ptyHangupSignals[sig]:
		p.closePTY = true
		reschedule = true
	default:
		warn = err
	}
	pid := p.pid
	if reschedule && p.sched != nil {
		p.sched.Reschedule(p)
	}
	p.mu.Unlock()

	if warn != nil {
		p.logger.Warn("failed to signal process", "pid", pid, "signal", sig.String(), "error", warn)
	} else {
		p.logger.Debug("signaled process", "pid", pid, "signal", sig.String())
	}
}

func (p *Process) killsTree() bool {
	switch p.opts.KillSubprocesses {
	case KillTree:
		return true
	case KillLeader:
		return false
	default:
		return p.cmd.IsShell()
	}
}

// TimeoutKill is called by the scheduler when the deadline passed. At the
// run timeout the process is marked timeouted and sent SIGTERM with
// escalation, or SIGKILL if it already ignored a SIGTERM. At the end of a
// grace window it is sent SIGKILL.
func (p *Process) TimeoutKill() {
	p.mu.Lock()
	if p.state != Running {
		p.mu.Unlock()
		return
	}
	grace := p.inGrace
	termed := p.gotSigterm
	if !grace {
		p.timeouted = true
	}
	p.deadline = time.Time{}
	p.inGrace = false
	p.mu.Unlock()

	if grace {
		p.Kill(syscall.SIGKILL, GracefulKill)
		return
	}
	p.logger.Debug("process reached timeout", "timeout", p.opts.Timeout.String())
	if termed {
		p.Kill(syscall.SIGKILL, GracefulKill)
		return
	}
	p.Kill(syscall.SIGTERM, GracefulKill)
}

// TakePTYClose reports whether a kill asked for the pty to be closed in
// place of a signal it could not send, and returns the master descriptor.
// The request is cleared.
func (p *Process) TakePTYClose() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closePTY || p.osp == nil || !p.osp.hasPTY {
		p.closePTY = false
		return -1, false
	}
	p.closePTY = false
	return p.osp.stdout, true
}

// ClosePTY closes the pty master, hanging up the child. The scheduler must
// stop reading the descriptor first.
func (p *Process) ClosePTY() {
	p.mu.Lock()
	osp := p.osp
	p.mu.Unlock()
	if osp != nil {
		osp.closePTY()
	}
}

// -----------------------------------------------------------------------------
// Stdin
// -----------------------------------------------------------------------------

// Write sends data to the standard input of the process, waiting for a
// pending launch first.
func (p *Process) Write(data []byte) error {
	if err := p.WaitStarted(context.Background()); err != nil {
		return err
	}
	p.mu.Lock()
	osp := p.osp
	p.mu.Unlock()
	if osp == nil {
		return errors.NewProcessError("write to process that is not running", nil).WithProcessID(p.id)
	}
	if err := osp.write(data); err != nil {
		return errors.NewProcessError("write failed", err).WithProcessID(p.id)
	}
	return nil
}

// CloseStdin signals end of input to the process.
func (p *Process) CloseStdin() error {
	if err := p.WaitStarted(context.Background()); err != nil {
		return err
	}
	p.mu.Lock()
	osp := p.osp
	p.mu.Unlock()
	if osp == nil {
		return nil
	}
	return osp.closeStdin()
}
