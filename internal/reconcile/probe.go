package reconcile

import (
	"context"
	"syscall"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/convoy/internal/fanout"
	"github.com/Iron-Ham/convoy/internal/host"
	"github.com/Iron-Ham/convoy/internal/logging"
	"github.com/Iron-Ham/convoy/internal/process"
	"github.com/Iron-Ham/convoy/internal/remote"
)

// Prober runs a check command on hosts and returns those where it
// succeeded.
type Prober interface {
	Probe(ctx context.Context, hosts host.Set, command string) (host.Set, error)
}

// RemoteProber probes hosts through the remote shell, one process per host,
// or through the fan-out tool when Fanout is set.
type RemoteProber struct {
	Sched   process.Scheduler
	Params  remote.Params
	Timeout time.Duration
	// Parallelism bounds concurrent probes; 0 is unbounded.
	Parallelism int
	Fanout      bool
	Logger      *logging.Logger
}

func (r *RemoteProber) logger() *logging.Logger {
	if r.Logger == nil {
		return logging.NopLogger()
	}
	return r.Logger
}

func (r *RemoteProber) options() process.Options {
	return process.Options{
		Timeout:       r.Timeout,
		NologExitCode: true,
		NologTimeout:  true,
		NologError:    true,
		Logger:        r.logger(),
	}
}

// Probe implements Prober.
func (r *RemoteProber) Probe(ctx context.Context, hosts host.Set, command string) (host.Set, error) {
	if hosts.Empty() {
		return host.Set{}, nil
	}
	r.logger().Info("checking which hosts are deployed", "hosts", hosts.String())

	var procs []*process.Process
	var err error
	if r.Fanout {
		procs, err = r.probeFanout(ctx, hosts, command)
	} else {
		procs, err = r.probeEach(ctx, hosts, command)
	}
	if err != nil {
		return host.Set{}, err
	}

	var ok []string
	for _, p := range procs {
		r.logger().Debug("check ended",
			"host", p.Host(),
			"ok", p.Ok(),
			"exit_code", p.ExitCode(),
			"stdout", p.Stdout(),
			"stderr", p.Stderr())
		if p.FinishedOk() {
			ok = append(ok, p.Host())
		}
	}
	return host.NewSet(ok...), nil
}

func (r *RemoteProber) probeEach(ctx context.Context, hosts host.Set, command string) ([]*process.Process, error) {
	addresses := hosts.Slice()
	procs := make([]*process.Process, len(addresses))

	p := pool.New()
	if r.Parallelism > 0 {
		p = p.WithMaxGoroutines(r.Parallelism)
	}
	for i, a := range addresses {
		procs[i] = process.New(r.Sched, process.Shell(command), process.Remote{Host: host.New(a), Params: r.Params}, r.options())
		p.Go(func() {
			// Launch failures are recorded on the process.
			_ = procs[i].Run(ctx)
		})
	}
	p.Wait()

	if err := ctx.Err(); err != nil {
		for _, proc := range procs {
			proc.Kill(syscall.SIGTERM, process.GracefulKill)
		}
		return nil, err
	}
	return procs, nil
}

func (r *RemoteProber) probeFanout(ctx context.Context, hosts host.Set, command string) ([]*process.Process, error) {
	targets := make([]host.Host, 0, hosts.Len())
	for _, a := range hosts.Slice() {
		targets = append(targets, host.New(a))
	}
	run, err := fanout.New(r.Sched, process.Shell(command), targets, fanout.Options{
		Params:  r.Params,
		Process: r.options(),
		Logger:  r.logger(),
	})
	if err != nil {
		return nil, err
	}
	if err := run.Run(ctx); err != nil {
		run.Kill()
		return nil, err
	}
	return run.Processes(), nil
}
