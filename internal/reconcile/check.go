package reconcile

type checkMode int

const (
	checkDefault checkMode = iota
	checkDisabled
	checkCommand
)

// CheckPolicy selects the command probing whether a node is deployed. The
// zero value uses the configured default command.
type CheckPolicy struct {
	mode    checkMode
	command string
}

// NoCheck trusts the deployment tool's report.
func NoCheck() CheckPolicy {
	return CheckPolicy{mode: checkDisabled}
}

// CheckWith overrides the default check command. An empty command
// disables checking.
func CheckWith(command string) CheckPolicy {
	if command == "" {
		return NoCheck()
	}
	return CheckPolicy{mode: checkCommand, command: command}
}

// Command returns the command to run given the configured default, and
// false when no check should run.
func (c CheckPolicy) Command(def string) (string, bool) {
	switch c.mode {
	case checkDisabled:
		return "", false
	case checkCommand:
		return c.command, true
	default:
		return def, def != ""
	}
}

// String describes the policy.
func (c CheckPolicy) String() string {
	switch c.mode {
	case checkDisabled:
		return "disabled"
	case checkCommand:
		return c.command
	default:
		return "default"
	}
}
