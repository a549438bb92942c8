package process

import (
	"github.com/Iron-Ham/convoy/internal/errors"
	"github.com/Iron-Ham/convoy/internal/host"
	"github.com/Iron-Ham/convoy/internal/remote"
)

// Plan is what a Launcher decided for one run.
type Plan struct {
	// Argv is the OS-level argument vector; empty for external processes.
	Argv []string
	// PTY runs the command on a pseudo terminal instead of pipes.
	PTY bool
	// External means no OS process is created.
	External bool
}

// Launcher turns a Command into a launch Plan. It is injected at
// construction and decides where and how the command runs.
type Launcher interface {
	Plan(cmd Command, opts Options) (Plan, error)
	// Target names the machine the command runs on; empty for this one.
	Target() string
}

// Local runs commands on this machine.
type Local struct{}

// Plan implements Launcher.
func (Local) Plan(cmd Command, opts Options) (Plan, error) {
	if cmd.Empty() {
		return Plan{}, errors.NewValidationError("empty command").WithField("command")
	}
	return Plan{Argv: cmd.localArgv(), PTY: opts.PTY}, nil
}

// Target implements Launcher.
func (Local) Target() string { return "" }

// Remote runs commands on Host through the remote shell described by
// Params. The command is passed to the remote shell as one quoted word.
type Remote struct {
	Host   host.Host
	Params remote.Params
}

// Plan implements Launcher.
func (r Remote) Plan(cmd Command, opts Options) (Plan, error) {
	if cmd.Empty() {
		return Plan{}, errors.NewValidationError("empty command").WithField("command")
	}
	if r.Host.Address == "" {
		return Plan{}, errors.NewValidationError("remote process without host").WithField("host")
	}
	return Plan{
		Argv: remote.SSHArgv(r.Host, r.Params, cmd.Line()),
		PTY:  opts.PTY || r.Params.PTY,
	}, nil
}

// Target implements Launcher.
func (r Remote) Target() string { return r.Host.Address }

// External marks a process whose execution is delegated to another tool
// (see package fanout). It never creates an OS process.
type External struct {
	Host host.Host
}

// Plan implements Launcher.
func (External) Plan(Command, Options) (Plan, error) {
	return Plan{External: true}, nil
}

// Target implements Launcher.
func (e External) Target() string { return e.Host.Address }
