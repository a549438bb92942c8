package deploy

import (
	"github.com/Iron-Ham/convoy/internal/config"
	"github.com/Iron-Ham/convoy/internal/errors"
	"github.com/Iron-Ham/convoy/internal/host"
)

// Environment is the system image to deploy: an EnvName registered with
// the tool or an EnvFile description.
type Environment interface {
	args() []string
	String() string
}

// EnvName is an environment registered with the deployment tool.
type EnvName string

func (e EnvName) args() []string { return []string{"-e", string(e)} }

// String returns the name.
func (e EnvName) String() string { return string(e) }

// EnvFile is the path of an environment description file.
type EnvFile string

func (e EnvFile) args() []string { return []string{"-a", string(e)} }

// String returns the path.
func (e EnvFile) String() string { return string(e) }

// Defaults hold the configured fallback environment.
type Defaults struct {
	EnvName string
	EnvFile string
}

// DefaultsFromConfig reads the fallback environment from cfg.
func DefaultsFromConfig(cfg config.DeployConfig) Defaults {
	return Defaults{EnvName: cfg.DefaultEnvName, EnvFile: cfg.DefaultEnvFile}
}

func (d Defaults) environment() (Environment, error) {
	switch {
	case d.EnvName != "" && d.EnvFile != "":
		return nil, errors.ErrConflictingEnvironment
	case d.EnvName != "":
		return EnvName(d.EnvName), nil
	case d.EnvFile != "":
		return EnvFile(d.EnvFile), nil
	default:
		return nil, errors.ErrNoEnvironment
	}
}

// Request is a validated deployment request.
type Request struct {
	Hosts host.Set
	Env   Environment
	// User deploys on behalf of another account when set.
	User string
	// Extra options are appended to the tool's command line.
	Extra string
}

// NewRequest builds a Request. A nil env falls back to the defaults, which
// must name exactly one environment.
func NewRequest(hosts host.Set, env Environment, user, extra string, d Defaults) (Request, error) {
	if env == nil || env.String() == "" {
		var err error
		env, err = d.environment()
		if err != nil {
			return Request{}, err
		}
	}
	return Request{Hosts: hosts, Env: env, User: user, Extra: extra}, nil
}

// WithHosts returns a copy of r targeting hosts.
func (r Request) WithHosts(hosts host.Set) Request {
	r.Hosts = hosts
	return r
}
