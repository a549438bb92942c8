package process

import (
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/convoy/internal/errors"
)

// descendants returns all descendant PIDs of pid, children before their
// own children. Uses pgrep -P; an unavailable pgrep yields none.
func descendants(pid int) []int {
	if pid <= 0 {
		return nil
	}
	out, err := exec.Command("pgrep", "-P", strconv.Itoa(pid)).Output()
	if err != nil {
		return nil
	}

	var pids []int
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		child, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil {
			continue
		}
		pids = append(pids, child)
		pids = append(pids, descendants(child)...)
	}
	return pids
}

// signalTree sends sig to the descendants of pid, deepest first, then to
// the process group pid leads. Children that left the group are still
// reached through the descendant walk. ESRCH means the group is gone and
// the caller signals the leader itself.
func signalTree(pid int, sig syscall.Signal) error {
	kids := descendants(pid)
	for i := len(kids) - 1; i >= 0; i-- {
		_ = unix.Kill(kids[i], sig)
	}
	return unix.Kill(-pid, sig)
}

// signal sends sig to the leader through its os.Process, which holds a
// pidfd where the kernel supports it, so a reaped and reused pid is never
// hit. The result is reduced to an errno.
func (o *osProc) signal(sig syscall.Signal) error {
	err := o.proc.Signal(sig)
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrProcessDone) {
		return syscall.ESRCH
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return err
}

// ptyHangupSignals are the signals a pty hangup can stand in for.
var ptyHangupSignals = map[syscall.Signal]bool{
	syscall.SIGTERM: true,
	syscall.SIGHUP:  true,
	syscall.SIGINT:  true,
	syscall.SIGKILL: true,
	syscall.SIGPIPE: true,
	syscall.SIGQUIT: true,
}
