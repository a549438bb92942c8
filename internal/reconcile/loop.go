package reconcile

import (
	"context"
	"time"

	"github.com/Iron-Ham/convoy/internal/deploy"
	"github.com/Iron-Ham/convoy/internal/errors"
	"github.com/Iron-Ham/convoy/internal/event"
	"github.com/Iron-Ham/convoy/internal/host"
	"github.com/Iron-Ham/convoy/internal/logging"
)

// DefaultNumTries is the deployment attempt budget when Options.NumTries
// is unset.
const DefaultNumTries = 2

// Deployer runs one deployment.
type Deployer interface {
	Deploy(ctx context.Context, req deploy.Request) (*deploy.Result, error)
}

// Options configure a Loop.
type Options struct {
	// NumTries bounds deployment attempts (default DefaultNumTries).
	NumTries int
	// Check selects the probe command; DefaultCheck is used by the zero
	// CheckPolicy.
	Check        CheckPolicy
	DefaultCheck string
	// Sufficient defaults to AllDeployed.
	Sufficient Sufficiency
	Logger     *logging.Logger
	Events     *event.Bus
}

// Loop is the deploy, probe and retry state machine.
type Loop struct {
	deployer Deployer
	prober   Prober
	opts     Options
	logger   *logging.Logger
}

// New creates a Loop. prober may be nil when no check command is used.
func New(deployer Deployer, prober Prober, opts Options) *Loop {
	if opts.NumTries <= 0 {
		opts.NumTries = DefaultNumTries
	}
	if opts.Sufficient == nil {
		opts.Sufficient = AllDeployed
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Loop{
		deployer: deployer,
		prober:   prober,
		opts:     opts,
		logger:   logger.With("component", "reconcile"),
	}
}

// Run converges req.Hosts. The returned error is set only when a
// deployment could not be run (unknown site, cancelled ctx); the Report
// is returned alongside with what was done so far.
func (l *Loop) Run(ctx context.Context, req deploy.Request) (*Report, error) {
	check, checking := l.opts.Check.Command(l.opts.DefaultCheck)
	if checking && l.prober == nil {
		return nil, errors.NewValidationError("check command configured without a prober").WithField("check")
	}

	start := time.Now()
	last := start
	st := &state{undeployed: req.Hosts}
	report := &Report{Requested: req.Hosts.Slice(), Check: l.opts.Check.String()}

	// Initial row: what is already deployed.
	row := Row{Iteration: 0, Checked: checking}
	if checking {
		n, err := l.probe(ctx, st, check)
		if err != nil {
			return report.finish(st, start), err
		}
		row.DeployedByCheck = n
	}
	last = l.record(report, st, row, last)

	for !l.opts.Sufficient(st.deployed, st.undeployed) && report.Tries < l.opts.NumTries {
		report.Tries++
		attempt := st.undeployed
		logger := l.logger.WithIteration(report.Tries)
		logger.Info("deploying", "hosts", attempt.String())

		res, err := l.deployer.Deploy(ctx, req.WithHosts(attempt))
		if err != nil {
			return report.finish(st, start), err
		}
		if derr := res.Err(); derr != nil {
			logger.Warn("deployment report is inconsistent", "error", derr)
		}

		// Only hosts the tool explicitly reported count as deployed by it.
		byTool := res.Deployed.Intersect(attempt)
		row := Row{
			Iteration:      report.Tries,
			Attempted:      attempt.Len(),
			DeployedByTool: byTool.Len(),
			Checked:        checking,
		}
		if checking {
			n, err := l.probe(ctx, st, check)
			if err != nil {
				return report.finish(st, start), err
			}
			row.DeployedByCheck = n
		} else {
			st.promote(byTool)
		}
		logger.Info("deployment iteration ended",
			"deployed_by_tool", byTool.String(),
			"deployed", st.deployed.String(),
			"undeployed", st.undeployed.String())
		last = l.record(report, st, row, last)
	}

	report.finish(st, start)
	l.logger.Info("deployment finished",
		"tries", report.Tries,
		"duration", report.Duration.String(),
		"deployed", len(report.Deployed),
		"undeployed", len(report.Undeployed))
	return report, nil
}

func (l *Loop) probe(ctx context.Context, st *state, command string) (int, error) {
	ok, err := l.prober.Probe(ctx, st.undeployed, command)
	if err != nil {
		return 0, err
	}
	newly := ok.Intersect(st.undeployed)
	st.promote(newly)
	return newly.Len(), nil
}

func (l *Loop) record(r *Report, st *state, row Row, last time.Time) time.Time {
	now := time.Now()
	row.Elapsed = now.Sub(last)
	row.TotalDeployed = st.deployed.Len()
	row.TotalUndeployed = st.undeployed.Len()
	r.Rows = append(r.Rows, row)
	l.opts.Events.Publish(event.NewIterationCompletedEvent(row.Iteration, row.TotalDeployed, row.TotalUndeployed))
	return now
}

type state struct {
	deployed   host.Set
	undeployed host.Set
}

func (s *state) promote(hosts host.Set) {
	s.deployed = s.deployed.Union(hosts)
	s.undeployed = s.undeployed.Diff(hosts)
}
