// Package remote builds the command lines used to reach other machines:
// ssh invocations for single remote commands and the connector settings
// shared with the fan-out tool.
package remote

import (
	"slices"
	"strconv"

	"github.com/kballard/go-shellquote"

	"github.com/Iron-Ham/convoy/internal/config"
	"github.com/Iron-Ham/convoy/internal/host"
)

// Params are the connection settings for remote commands. Host-level
// settings (user, keyfile, port) override them per target.
type Params struct {
	User    string
	Keyfile string
	Port    int

	SSH        string
	SSHOptions []string

	Taktuk                 string
	TaktukOptions          []string
	TaktukConnector        string
	TaktukConnectorOptions []string

	// PTY gives the local end of the connection a pseudo terminal.
	PTY bool
	// HostSuffix is appended to every target address.
	HostSuffix string
}

// FromConfig converts a connection section of the configuration.
func FromConfig(c config.ConnectionConfig) Params {
	return Params{
		User:            c.User,
		Keyfile:         c.Keyfile,
		Port:            c.Port,
		SSH:             c.SSH,
		SSHOptions:      slices.Clone(c.SSHOptions),
		Taktuk:          c.Taktuk,
		TaktukOptions:   slices.Clone(c.TaktukOptions),
		TaktukConnector: c.TaktukConnector,
		PTY:             c.PTY,
		HostSuffix:      c.HostSuffix,

		TaktukConnectorOptions: slices.Clone(c.TaktukConnectorOptions),
	}
}

// ForHost returns p with h's non-empty settings applied.
func (p Params) ForHost(h host.Host) Params {
	if h.User != "" {
		p.User = h.User
	}
	if h.Keyfile != "" {
		p.Keyfile = h.Keyfile
	}
	if h.Port != 0 {
		p.Port = h.Port
	}
	return p
}

// Address rewrites a target address, e.g. appending the host suffix.
func (p Params) Address(address string) string {
	return address + p.HostSuffix
}

// AuthOptions returns the ssh options selecting user, identity and port.
func (p Params) AuthOptions() []string {
	var opts []string
	if p.User != "" {
		opts = append(opts, "-o", "User="+p.User)
	}
	if p.Keyfile != "" {
		opts = append(opts, "-i", p.Keyfile)
	}
	if p.Port != 0 {
		opts = append(opts, "-o", "Port="+strconv.Itoa(p.Port))
	}
	return opts
}

// SSHArgv returns the argument vector running command on h. The remote
// shell receives command as a single argument, so argv commands must be
// quoted with Quote first.
func SSHArgv(h host.Host, p Params, command string) []string {
	p = p.ForHost(h)
	ssh := p.SSH
	if ssh == "" {
		ssh = "ssh"
	}

	argv := []string{ssh}
	argv = append(argv, p.SSHOptions...)
	argv = append(argv, p.AuthOptions()...)
	argv = append(argv, p.Address(h.Address), command)
	return argv
}

// ConnectorCommand returns the shell command line the fan-out tool uses to
// reach its targets: the connector plus its own options and credentials.
// SSHOptions are not used; they may force a tty.
func ConnectorCommand(p Params) string {
	connector := p.TaktukConnector
	if connector == "" {
		connector = "ssh"
	}
	argv := []string{connector}
	argv = append(argv, p.TaktukConnectorOptions...)
	argv = append(argv, p.AuthOptions()...)
	return shellquote.Join(argv...)
}

// Quote joins argv into a single shell-safe command line.
func Quote(argv ...string) string {
	return shellquote.Join(argv...)
}

// Split parses a shell-style command line into words.
func Split(command string) ([]string, error) {
	return shellquote.Split(command)
}
