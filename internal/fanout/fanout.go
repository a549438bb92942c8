package fanout

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"syscall"

	"github.com/Iron-Ham/convoy/internal/errors"
	"github.com/Iron-Ham/convoy/internal/host"
	"github.com/Iron-Ham/convoy/internal/logging"
	"github.com/Iron-Ham/convoy/internal/output"
	"github.com/Iron-Ham/convoy/internal/process"
	"github.com/Iron-Ham/convoy/internal/remote"
)

// Options configure a Run.
type Options struct {
	// Params reach the targets. Per-host user is supported; keyfile and
	// port must be the same for every host.
	Params remote.Params
	// Process is the template of the per-host processes. Its Timeout also
	// bounds the tool process.
	Process process.Options
	Logger  *logging.Logger
}

// Run is one invocation of the fan-out tool over a host list.
type Run struct {
	tool   *process.Process
	procs  []*process.Process // per host, in the caller's order
	order  []int              // tool position-1 -> index into procs
	logger *logging.Logger
}

// New prepares a Run of cmd on hosts. The tool process is submitted to
// sched when the Run starts.
func New(sched process.Scheduler, cmd process.Command, hosts []host.Host, opts Options) (*Run, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger = logger.With("component", "fanout")

	params, err := sharedParams(opts.Params, hosts)
	if err != nil {
		return nil, err
	}

	r := &Run{logger: logger}
	for _, h := range hosts {
		popts := opts.Process
		popts.Logger = logger
		r.procs = append(r.procs, process.New(nil, cmd, process.External{Host: h}, popts))
	}

	argv := []string{params.Taktuk}
	if argv[0] == "" {
		argv[0] = "taktuk"
	}
	argv = append(argv, params.TaktukOptions...)
	argv = append(argv, outputFormats...)

	// The connector carries the configured user unless some host names its
	// own; then every host gets its effective login with -l, which the
	// connector's User option would otherwise override.
	perHost := slices.ContainsFunc(hosts, func(h host.Host) bool { return h.User != "" })
	connector := params
	if perHost {
		connector.User = ""
	}
	argv = append(argv, "-c", remote.ConnectorCommand(connector))

	login := func(h host.Host) string {
		if !perHost {
			return ""
		}
		return params.ForHost(h).User
	}
	// -l applies to every following -m, so hosts with a login go last.
	for pass := 0; pass < 2; pass++ {
		for i, h := range hosts {
			user := login(h)
			if (user != "") != (pass == 1) {
				continue
			}
			if user != "" {
				argv = append(argv, "-l", user)
			}
			argv = append(argv, "-m", params.Address(h.Address), "-[", "exec", "[", cmd.Line(), "]", "-]")
			r.order = append(r.order, i)
		}
	}
	argv = append(argv, "quit")

	r.tool = process.New(sched, process.Argv(argv...), process.Local{}, process.Options{
		Name:             "fanout(" + cmd.Line() + ")",
		Timeout:          opts.Process.Timeout,
		KillTimeout:      opts.Process.KillTimeout,
		KillSubprocesses: process.KillTree,
		NologExitCode:    true,
		CompactThreshold: opts.Process.CompactThreshold,
		Stdout:           []output.Sink{output.Lines(output.LineFunc(r.handleLine))},
		Lifecycle:        []process.LifecycleHandler{process.LifecycleFuncs{End: r.toolEnded}},
		Logger:           logger,
		Events:           opts.Process.Events,
	})
	return r, nil
}

// sharedParams checks that all hosts agree on keyfile and port, which the
// tool only accepts once, and returns params carrying them.
func sharedParams(p remote.Params, hosts []host.Host) (remote.Params, error) {
	keyfiles := map[string]bool{}
	ports := map[int]bool{}
	for _, h := range hosts {
		hp := p.ForHost(h)
		keyfiles[hp.Keyfile] = true
		ports[hp.Port] = true
	}
	if len(keyfiles) > 1 || len(ports) > 1 {
		return p, errors.NewValidationError("fan-out needs the same keyfile and port for every host").WithField("hosts")
	}
	for k := range keyfiles {
		p.Keyfile = k
	}
	for port := range ports {
		p.Port = port
	}
	return p, nil
}

// Tool returns the fan-out tool process.
func (r *Run) Tool() *process.Process { return r.tool }

// Processes returns the per-host processes in host order.
func (r *Run) Processes() []*process.Process {
	return append([]*process.Process(nil), r.procs...)
}

// Start starts the per-host processes and the tool. An empty Run ends
// immediately.
func (r *Run) Start() error {
	for _, p := range r.procs {
		_ = p.Start()
	}
	if len(r.procs) == 0 {
		return nil
	}
	return r.tool.Start()
}

// Wait waits for the tool and every per-host process.
func (r *Run) Wait(ctx context.Context) error {
	if len(r.procs) == 0 {
		return nil
	}
	if err := r.tool.Wait(ctx); err != nil {
		return err
	}
	for _, p := range r.procs {
		if err := p.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Run starts and waits.
func (r *Run) Run(ctx context.Context) error {
	if err := r.Start(); err != nil {
		return err
	}
	return r.Wait(ctx)
}

// Kill stops the tool. Remote commands may outlive it.
func (r *Run) Kill() {
	r.tool.Kill(syscall.SIGTERM, process.GracefulKill)
}

// Reset makes the Run startable again.
func (r *Run) Reset() error {
	if err := r.tool.Reset(); err != nil {
		return err
	}
	for _, p := range r.procs {
		if err := p.Reset(); err != nil {
			return err
		}
	}
	return nil
}

// Stats summarizes the per-host processes.
func (r *Run) Stats() process.Stats {
	return process.Collect(r.procs...)
}

func (r *Run) at(position int) *process.Process {
	if position < 1 || position > len(r.order) {
		return nil
	}
	return r.procs[r.order[position-1]]
}

func (r *Run) handleLine(l output.Line) {
	if l.Text == "" {
		return
	}
	rec, ok := parseRecord(l.Text)
	if !ok {
		r.unexpected(l.Text)
		return
	}

	switch rec.kind {
	case kindOutput, kindError:
		p := r.at(rec.position)
		if p == nil {
			r.unexpected(l.Text)
			return
		}
		stream := output.Stdout
		if rec.kind == kindError {
			stream = output.Stderr
		}
		p.HandleOutput(output.Chunk{Stream: stream, Data: []byte(rec.payload)})

	case kindStatus:
		p := r.at(rec.position)
		code, err := strconv.Atoi(strings.TrimSpace(rec.payload))
		if p == nil || err != nil {
			r.unexpected(l.Text)
			return
		}
		finish(p, process.Outcome{ExitCode: code})

	case kindConnector:
		peer, text, ok := peerLine(rec.payload)
		if p := r.at(peer); ok && p != nil {
			p.HandleOutput(output.Chunk{Stream: output.Stderr, Data: []byte(text)})
		}

	case kindState:
		peer, code, ok := peerState(rec.payload)
		if !ok {
			r.unexpected(l.Text)
			return
		}
		r.handleState(rec.position, peer, code, l.Text)
	}
}

func (r *Run) handleState(position, peer, code int, text string) {
	switch code {
	case stateCommandStarted, stateCommandFailed:
		p := r.at(position)
		if p == nil {
			r.unexpected(text)
			return
		}
		if code == stateCommandStarted {
			if err := p.MarkStarted(); err != nil {
				r.logger.Debug("duplicate start record", "host", p.Host())
			}
			return
		}
		finish(p, process.Outcome{ExitCode: -1, Err: errors.New("remote command execution failed")})

	case stateConnectionFailed, stateConnectionLost:
		p := r.at(peer)
		if p == nil {
			r.unexpected(text)
			return
		}
		// A lost connection may come back; a refused one usually does not.
		reason := "connection failed"
		if code == stateConnectionLost {
			reason = "connection lost"
		}
		err := errors.NewProcessError(reason, nil).
			WithHost(p.Host()).
			WithRetryable(code == stateConnectionLost)
		finish(p, process.Outcome{ExitCode: -1, Err: err})

	case 0, 1, 2, 4, 8:
	default:
		r.unexpected(text)
	}
}

func (r *Run) unexpected(line string) {
	r.logger.Warn("unexpected fan-out output", "line", strings.TrimRight(line, "\n"))
}

// toolEnded ends every host the tool did not report, carrying the tool's
// failure flags.
func (r *Run) toolEnded(tool *process.Process) {
	var cause error
	if err := tool.Err(); err != nil {
		cause = errors.Wrap(err, "fan-out tool failed")
	} else {
		cause = errors.New("fan-out tool ended before reporting a status")
	}
	o := process.Outcome{
		ExitCode:   -1,
		Err:        cause,
		Timeouted:  tool.Timeouted(),
		ForcedKill: tool.ForcedKill(),
	}
	for _, p := range r.procs {
		finish(p, o)
	}
}

// finish ends the output streams of p and terminates it, unless it already
// ended.
func finish(p *process.Process, o process.Outcome) {
	if p.Ended() {
		return
	}
	p.HandleOutput(output.Chunk{Stream: output.Stdout, EOF: true})
	p.HandleOutput(output.Chunk{Stream: output.Stderr, EOF: true})
	p.Terminate(o)
}
