// Package forward opens ssh local port forwardings (ssh -L) as supervised
// processes and reports when the local end is listening.
package forward

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"sync"
	"syscall"

	"github.com/Iron-Ham/convoy/internal/errors"
	"github.com/Iron-Ham/convoy/internal/host"
	"github.com/Iron-Ham/convoy/internal/logging"
	"github.com/Iron-Ham/convoy/internal/output"
	"github.com/Iron-Ham/convoy/internal/process"
	"github.com/Iron-Ham/convoy/internal/remote"
)

// DefaultBindAddress keeps the tunnel reachable from this machine only.
const DefaultBindAddress = "127.0.0.1"

// keepAlive is the remote command holding the connection open.
const keepAlive = "sleep 31536000"

// Options describe a forwarding.
type Options struct {
	// Host is the remote side of the ssh connection.
	Host   host.Host
	Params remote.Params
	// RemoteHost and RemotePort are reached from Host.
	RemoteHost string
	RemotePort int
	// LocalPort is the listening port; 0 picks a free one.
	LocalPort int
	// BindAddress defaults to DefaultBindAddress.
	BindAddress string
	Logger      *logging.Logger
}

// Forwarder is one ssh -L process.
type Forwarder struct {
	proc        *process.Process
	localPort   int
	bindAddress string
	listening   *regexp.Regexp

	mu    sync.Mutex
	ready chan struct{}
	open  bool
}

// New prepares a forwarding submitted to sched on Start.
func New(sched process.Scheduler, opts Options) (*Forwarder, error) {
	if opts.RemoteHost == "" || opts.RemotePort <= 0 {
		return nil, errors.NewValidationError("remote host and port are required").WithField("remote")
	}
	f := &Forwarder{
		localPort:   opts.LocalPort,
		bindAddress: opts.BindAddress,
		ready:       make(chan struct{}),
	}
	if f.bindAddress == "" {
		f.bindAddress = DefaultBindAddress
	}
	if f.localPort == 0 {
		port, err := FreePort(f.bindAddress)
		if err != nil {
			return nil, err
		}
		f.localPort = port
	}
	f.listening = regexp.MustCompile(fmt.Sprintf(`^debug1: Local forwarding listening on %s port %d\.\s*$`,
		regexp.QuoteMeta(f.bindAddress), f.localPort))

	params := opts.Params
	params.SSHOptions = append(append([]string(nil), params.SSHOptions...),
		"-v", "-L", fmt.Sprintf("%s:%d:%s:%d", f.bindAddress, f.localPort, opts.RemoteHost, opts.RemotePort))

	f.proc = process.New(sched, process.Shell(keepAlive), process.Remote{Host: opts.Host, Params: params}, process.Options{
		Name:             "forward(" + f.Address() + ")",
		KillSubprocesses: process.KillTree,
		IgnoreExitCode:   true,
		DiscardOutput:    true,
		Stderr:           []output.Sink{output.Lines(output.LineFunc(f.handleStderr))},
		Lifecycle:        []process.LifecycleHandler{process.LifecycleFuncs{Reset: f.rearm}},
		Logger:           opts.Logger,
	})
	return f, nil
}

// FreePort asks the kernel for an unused TCP port on address.
func FreePort(address string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(address, "0"))
	if err != nil {
		return 0, errors.Wrap(err, "failed to find a free port")
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// Process returns the underlying ssh process.
func (f *Forwarder) Process() *process.Process { return f.proc }

// LocalPort returns the listening port.
func (f *Forwarder) LocalPort() int { return f.localPort }

// Address returns the local end as host:port.
func (f *Forwarder) Address() string {
	return net.JoinHostPort(f.bindAddress, strconv.Itoa(f.localPort))
}

// Start launches the forwarding.
func (f *Forwarder) Start() error { return f.proc.Start() }

// Listening reports whether the local end was seen listening.
func (f *Forwarder) Listening() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

// WaitReady blocks until the local end listens. It fails if the process
// ends first.
func (f *Forwarder) WaitReady(ctx context.Context) error {
	f.mu.Lock()
	ready := f.ready
	f.mu.Unlock()

	for {
		changed := f.proc.Changed()
		select {
		case <-ready:
			return nil
		default:
		}
		if f.proc.Ended() {
			return errors.NewProcessError("forwarding ended before listening", f.proc.Err()).
				WithProcessID(f.proc.ID()).WithHost(f.proc.Host())
		}
		select {
		case <-ready:
			return nil
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops the forwarding and waits for the process to end.
func (f *Forwarder) Close(ctx context.Context) error {
	if f.proc.State() == process.Idle {
		return nil
	}
	f.proc.Kill(syscall.SIGTERM, process.GracefulKill)
	return f.proc.Wait(ctx)
}

func (f *Forwarder) handleStderr(l output.Line) {
	if !f.listening.MatchString(l.Text) {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		f.open = true
		close(f.ready)
	}
}

func (f *Forwarder) rearm(*process.Process) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.ready = make(chan struct{})
}
