package cmd

import (
	"io"

	"github.com/Iron-Ham/convoy/internal/errors"
	"github.com/Iron-Ham/convoy/internal/styles"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	// ExitUsage is returned for invalid input or configuration.
	ExitUsage = 2
	// ExitRemote is returned when a process, site or deployment failed.
	ExitRemote = 3
)

// ExitCode maps an Execute error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.GetSeverity(err) == errors.SeverityWarning:
		return ExitUsage
	case errors.IsDomainError(err):
		return ExitRemote
	default:
		return ExitFailure
	}
}

// PrintError writes err for the user. Errors that are not known to be safe
// to show get an "Error:" prefix; transient ones get a retry hint.
func PrintError(w io.Writer, err error) {
	if err == nil {
		return
	}
	p := styles.NewPrinter(w)
	msg := err.Error()
	if !errors.IsUserFacing(err) {
		msg = "Error: " + msg
	}
	p.Println(styles.Error.Render(msg))
	if errors.IsRetryable(err) {
		p.Println(styles.Muted.Render("(this looks transient; running the command again may succeed)"))
	}
}
