package deploy

import (
	"github.com/Iron-Ham/convoy/internal/errors"
	"github.com/Iron-Ham/convoy/internal/host"
	"github.com/Iron-Ham/convoy/internal/process"
)

// Result is the outcome of a deployment.
type Result struct {
	Requested host.Set
	// Deployed are the hosts reported correctly deployed.
	Deployed host.Set
	// Errors are the requested hosts not deployed.
	Errors host.Set
	Good   host.Set
	Bad    host.Set
	// Inconsistent is set when the good and bad reports overlap or do not
	// cover exactly the requested hosts.
	Inconsistent bool
	Processes    []*process.Process
	Stats        process.Stats
}

// Ok reports whether every host was deployed by processes that all ended
// successfully.
func (r *Result) Ok() bool {
	return !r.Inconsistent && r.Errors.Empty() && r.Stats.AllOk()
}

// Err returns a DeployError wrapping ErrInconsistentResult for an
// inconsistent result, nil otherwise.
func (r *Result) Err() error {
	if !r.Inconsistent {
		return nil
	}
	reported := r.Good.Union(r.Bad)
	suspect := r.Good.Intersect(r.Bad).
		Union(r.Requested.Diff(reported)).
		Union(reported.Diff(r.Requested))
	return errors.NewDeployError("deployment report does not match the request", errors.ErrInconsistentResult).
		WithHosts(suspect.Sorted())
}
