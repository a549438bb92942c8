package process

import (
	"slices"
	"strings"

	"github.com/Iron-Ham/convoy/internal/remote"
)

// Command is either an argument vector executed directly or a shell command
// line interpreted by sh.
type Command struct {
	argv  []string
	shell string
}

// Argv returns a Command executing args directly, without a shell.
func Argv(args ...string) Command {
	return Command{argv: slices.Clone(args)}
}

// Shell returns a Command interpreted by sh -c.
func Shell(line string) Command {
	return Command{shell: line}
}

// IsShell reports whether c is a shell command line.
func (c Command) IsShell() bool { return c.argv == nil }

// Empty reports whether c has nothing to run.
func (c Command) Empty() bool {
	if c.IsShell() {
		return strings.TrimSpace(c.shell) == ""
	}
	return len(c.argv) == 0 || c.argv[0] == ""
}

// Words returns the argument vector of c; shell commands are a single word.
func (c Command) Words() []string {
	if c.IsShell() {
		return []string{c.shell}
	}
	return slices.Clone(c.argv)
}

// Line returns c as one shell command line, quoting argument vectors.
func (c Command) Line() string {
	if c.IsShell() {
		return c.shell
	}
	return remote.Quote(c.argv...)
}

// String returns the command line.
func (c Command) String() string { return c.Line() }

func (c Command) localArgv() []string {
	if c.IsShell() {
		return []string{"/bin/sh", "-c", c.shell}
	}
	return slices.Clone(c.argv)
}
