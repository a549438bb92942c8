package deploy

import (
	"context"
	"io"
	"os"
	"slices"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/convoy/internal/config"
	"github.com/Iron-Ham/convoy/internal/errors"
	"github.com/Iron-Ham/convoy/internal/event"
	"github.com/Iron-Ham/convoy/internal/host"
	"github.com/Iron-Ham/convoy/internal/logging"
	"github.com/Iron-Ham/convoy/internal/output"
	"github.com/Iron-Ham/convoy/internal/process"
	"github.com/Iron-Ham/convoy/internal/remote"
)

// Config controls how deployment commands are built and run.
type Config struct {
	// Command is the deployment tool.
	Command string
	// Options are split shell-style and passed after Command.
	Options string
	// Timeout bounds each site's command; zero means unbounded.
	Timeout time.Duration
	// NoSSHForLocalFrontend runs the local site's command on this machine.
	NoSSHForLocalFrontend bool

	// The job id and key file are forwarded from the environment when both
	// the variable is set and the flag is configured.
	JobIDEnv    string
	JobIDFlag   string
	KeyFileEnv  string
	KeyFileFlag string

	// Frontend reaches the site frontends; a site's frontend address is
	// the site name.
	Frontend remote.Params
	// Process is the template of the per-site processes.
	Process process.Options
	// Echo receives a copy of the tool's output when set.
	Echo io.Writer
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// ConfigFrom builds a Config from the loaded configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Command:               cfg.Deploy.Command,
		Options:               cfg.Deploy.Options,
		Timeout:               cfg.Deploy.Timeout,
		NoSSHForLocalFrontend: cfg.Deploy.NoSSHForLocalFrontend,
		JobIDEnv:              cfg.Deploy.JobIDEnv,
		JobIDFlag:             cfg.Deploy.JobIDFlag,
		KeyFileEnv:            cfg.Deploy.KeyFileEnv,
		KeyFileFlag:           cfg.Deploy.KeyFileFlag,
		Frontend:              remote.FromConfig(cfg.Frontend),
		Process: process.Options{
			KillTimeout:      cfg.Process.KillTimeout,
			CompactThreshold: cfg.Process.CompactOutputThreshold,
		},
	}
}

// Deployer runs deployment requests through a process scheduler.
type Deployer struct {
	sched  process.Scheduler
	sites  *SiteResolver
	cfg    Config
	logger *logging.Logger
}

// New creates a Deployer.
func New(sched process.Scheduler, sites *SiteResolver, cfg Config, logger *logging.Logger) *Deployer {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if cfg.Command == "" {
		cfg.Command = "kadeploy3"
	}
	if cfg.Getenv == nil {
		cfg.Getenv = os.Getenv
	}
	return &Deployer{
		sched:  sched,
		sites:  sites,
		cfg:    cfg,
		logger: logger.With("component", "deploy"),
	}
}

// Deploy runs req on every site in parallel and returns the aggregated
// result. Failed or inconsistent deployments are reported in the Result;
// an error means the request could not be run at all or ctx ended.
func (d *Deployer) Deploy(ctx context.Context, req Request) (*Result, error) {
	run, err := d.Prepare(req)
	if err != nil {
		return nil, err
	}
	err = run.Run(ctx)
	return run.Result(), err
}

// Prepare partitions req by site and builds one process per site without
// starting anything.
func (d *Deployer) Prepare(req Request) (*Run, error) {
	if req.Env == nil {
		return nil, errors.ErrNoEnvironment
	}
	bySite, err := d.sites.Partition(req.Hosts.Slice())
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(bySite))
	for site := range bySite {
		names = append(names, site)
	}
	slices.Sort(names)

	run := &Run{req: req, events: d.cfg.Process.Events, logger: d.logger}
	local := d.sites.LocalSite()
	for _, site := range names {
		argv, err := d.argv(req, bySite[site])
		if err != nil {
			return nil, err
		}

		var launcher process.Launcher = process.Remote{Host: host.New(site), Params: d.cfg.Frontend}
		if d.cfg.NoSSHForLocalFrontend && site == local {
			launcher = process.Local{}
		}

		parser := NewParser()
		opts := d.cfg.Process
		opts.Name = "deploy(" + site + ")"
		opts.Timeout = d.cfg.Timeout
		opts.PTY = true
		opts.KillSubprocesses = process.KillTree
		opts.Stdout = append(slices.Clone(opts.Stdout), output.Lines(parser))
		opts.Lifecycle = append(slices.Clone(opts.Lifecycle), parser)
		if d.cfg.Echo != nil {
			opts.Stdout = append(opts.Stdout, output.Writer(d.cfg.Echo))
			opts.Stderr = append(slices.Clone(opts.Stderr), output.Writer(d.cfg.Echo))
		}
		opts.Logger = d.logger.WithSite(site)

		run.sites = append(run.sites, &siteRun{
			site:   site,
			hosts:  host.NewSet(bySite[site]...),
			proc:   process.New(d.sched, process.Argv(argv...), launcher, opts),
			parser: parser,
		})
	}
	return run, nil
}

func (d *Deployer) argv(req Request, hosts []string) ([]string, error) {
	argv := []string{d.cfg.Command}
	opts, err := remote.Split(d.cfg.Options)
	if err != nil {
		return nil, errors.NewValidationError("cannot parse deployment options").WithField("options").WithValue(d.cfg.Options).WithCause(err)
	}
	argv = append(argv, opts...)
	argv = append(argv, req.Env.args()...)
	if req.User != "" {
		argv = append(argv, "-u", req.User)
	}
	argv = append(argv, d.forwarded(d.cfg.JobIDEnv, d.cfg.JobIDFlag)...)
	argv = append(argv, d.forwarded(d.cfg.KeyFileEnv, d.cfg.KeyFileFlag)...)
	extra, err := remote.Split(req.Extra)
	if err != nil {
		return nil, errors.NewValidationError("cannot parse extra options").WithField("extra").WithValue(req.Extra).WithCause(err)
	}
	argv = append(argv, extra...)
	for _, h := range hosts {
		argv = append(argv, "-m", h)
	}
	return argv, nil
}

func (d *Deployer) forwarded(env, flag string) []string {
	if env == "" || flag == "" {
		return nil
	}
	if v := d.cfg.Getenv(env); v != "" {
		return []string{flag, v}
	}
	return nil
}

// Run is a prepared deployment.
type Run struct {
	req    Request
	sites  []*siteRun
	events *event.Bus
	logger *logging.Logger
}

type siteRun struct {
	site   string
	hosts  host.Set
	proc   *process.Process
	parser *Parser
}

// Sites returns the sites of the run in lexical order.
func (r *Run) Sites() []string {
	out := make([]string, 0, len(r.sites))
	for _, s := range r.sites {
		out = append(out, s.site)
	}
	return out
}

// Processes returns the per-site processes in site order.
func (r *Run) Processes() []*process.Process {
	out := make([]*process.Process, 0, len(r.sites))
	for _, s := range r.sites {
		out = append(out, s.proc)
	}
	return out
}

// Run starts every site and waits for all of them. When ctx ends first,
// the remaining site processes are stopped.
func (r *Run) Run(ctx context.Context) error {
	errs := make([]error, len(r.sites))
	var wg conc.WaitGroup
	for i, s := range r.sites {
		wg.Go(func() {
			errs[i] = r.runSite(ctx, s)
		})
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (r *Run) runSite(ctx context.Context, s *siteRun) error {
	if err := s.proc.Run(ctx); err != nil {
		if ctx.Err() != nil {
			s.proc.Kill(syscall.SIGTERM, process.GracefulKill)
		}
		return errors.Wrapf(err, "site %s", s.site)
	}

	good := s.parser.Good()
	failed := s.hosts.Diff(good)
	r.logger.Info("site deployment ended",
		"site", s.site,
		"deployed", good.Len(),
		"failed", failed.Len(),
		"exit_code", s.proc.ExitCode())
	r.events.Publish(event.NewSiteDeployedEvent(s.site, good.Len(), failed.Len()))
	return nil
}

// Result aggregates the per-site reports.
func (r *Run) Result() *Result {
	res := &Result{Requested: r.req.Hosts}
	for _, s := range r.sites {
		res.Good = res.Good.Union(s.parser.Good())
		res.Bad = res.Bad.Union(s.parser.Bad())
		res.Processes = append(res.Processes, s.proc)
	}
	res.Deployed = res.Good
	res.Errors = res.Requested.Diff(res.Deployed)
	res.Inconsistent = !res.Good.Intersect(res.Bad).Empty() || !res.Good.Union(res.Bad).Equal(res.Requested)
	res.Stats = process.Collect(res.Processes...)

	if res.Inconsistent && res.Stats.Ended == res.Stats.Processes {
		r.logger.Error("deployment report does not match the request",
			"requested", res.Requested.String(),
			"good", res.Good.String(),
			"bad", res.Bad.String())
	}
	return res
}
