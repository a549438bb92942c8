package process

import (
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/convoy/internal/errors"
)

// Handles are the descriptors of a launched process, given to the
// scheduler that reads them. A descriptor of -1 is absent.
type Handles struct {
	Stdout int
	Stderr int
	// Wait blocks until the OS process exits.
	Wait func() (*os.ProcessState, error)
}

// osProc holds the OS resources of one run.
type osProc struct {
	proc *os.Process
	pty  *os.File // master side, nil without pty or once closed
	// hasPTY is fixed at spawn; pty itself is guarded by stdinMu.
	hasPTY bool

	stdinMu sync.Mutex
	stdin   int // pipe write end or pty master, -1 once closed

	stdout int
	stderr int
	pipes  []int // parent ends owned by this run, stdin excluded
}

// pipe returns a close-on-exec pipe. ForkLock keeps a concurrent fork from
// inheriting the descriptors before they are marked.
func pipe() (r, w int, err error) {
	var fds [2]int
	syscall.ForkLock.RLock()
	err = unix.Pipe(fds[:])
	if err == nil {
		unix.CloseOnExec(fds[0])
		unix.CloseOnExec(fds[1])
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}

func closeAll(fds ...int) {
	for _, fd := range fds {
		if fd >= 0 {
			_ = unix.Close(fd)
		}
	}
}

func environ(extra []string) []string {
	if len(extra) == 0 {
		return nil
	}
	return append(os.Environ(), extra...)
}

func spawn(plan Plan, opts Options) (*osProc, error) {
	if len(plan.Argv) == 0 {
		return nil, errors.NewValidationError("empty command").WithField("argv")
	}
	path, err := exec.LookPath(plan.Argv[0])
	if err != nil {
		return nil, err
	}
	if plan.PTY {
		return spawnPTY(path, plan.Argv, opts)
	}
	return spawnPipes(path, plan.Argv, opts)
}

func spawnPipes(path string, argv []string, opts Options) (*osProc, error) {
	inR, inW, err := pipe()
	if err != nil {
		return nil, err
	}
	outR, outW, err := pipe()
	if err != nil {
		closeAll(inR, inW)
		return nil, err
	}
	errR, errW, err := pipe()
	if err != nil {
		closeAll(inR, inW, outR, outW)
		return nil, err
	}

	for _, fd := range []int{inW, outR, errR} {
		if err := unix.SetNonblock(fd, true); err != nil {
			closeAll(inR, inW, outR, outW, errR, errW)
			return nil, err
		}
	}

	childIn := os.NewFile(uintptr(inR), "stdin")
	childOut := os.NewFile(uintptr(outW), "stdout")
	childErr := os.NewFile(uintptr(errW), "stderr")
	proc, err := os.StartProcess(path, argv, &os.ProcAttr{
		Dir:   opts.Dir,
		Env:   environ(opts.Env),
		Files: []*os.File{childIn, childOut, childErr},
		Sys:   &syscall.SysProcAttr{Setpgid: true},
	})
	_ = childIn.Close()
	_ = childOut.Close()
	_ = childErr.Close()
	if err != nil {
		closeAll(inW, outR, errR)
		return nil, err
	}

	return &osProc{
		proc:   proc,
		stdin:  inW,
		stdout: outR,
		stderr: errR,
		pipes:  []int{outR, errR},
	}, nil
}

// spawnPTY gives the child a new session whose controlling terminal is the
// pty slave, used for stdin and stdout. Stderr stays a separate pipe.
func spawnPTY(path string, argv []string, opts Options) (*osProc, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, err
	}
	errR, errW, err := pipe()
	if err != nil {
		_ = master.Close()
		_ = slave.Close()
		return nil, err
	}
	if err := unix.SetNonblock(errR, true); err != nil {
		_ = master.Close()
		_ = slave.Close()
		closeAll(errR, errW)
		return nil, err
	}

	childErr := os.NewFile(uintptr(errW), "stderr")
	proc, err := os.StartProcess(path, argv, &os.ProcAttr{
		Dir:   opts.Dir,
		Env:   environ(opts.Env),
		Files: []*os.File{slave, slave, childErr},
		Sys:   &syscall.SysProcAttr{Setsid: true, Setctty: true, Ctty: 0},
	})
	_ = slave.Close()
	_ = childErr.Close()
	if err != nil {
		_ = master.Close()
		closeAll(errR)
		return nil, err
	}

	fd := int(master.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = proc.Kill()
		_, _ = proc.Wait()
		_ = master.Close()
		closeAll(errR)
		return nil, err
	}

	return &osProc{
		proc:   proc,
		pty:    master,
		hasPTY: true,
		stdin:  fd,
		stdout: fd,
		stderr: errR,
		pipes:  []int{errR},
	}, nil
}

func (o *osProc) handles() *Handles {
	return &Handles{Stdout: o.stdout, Stderr: o.stderr, Wait: o.proc.Wait}
}

// write copies data to stdin. The descriptor is nonblocking so a full pipe
// never holds stdinMu for long; closeStdin may run between retries.
func (o *osProc) write(data []byte) error {
	for len(data) > 0 {
		o.stdinMu.Lock()
		fd := o.stdin
		if fd < 0 {
			o.stdinMu.Unlock()
			return unix.EBADF
		}
		n, err := unix.Write(fd, data)
		o.stdinMu.Unlock()

		switch {
		case err == unix.EAGAIN:
			fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
			_, _ = unix.Poll(fds, int((100 * time.Millisecond).Milliseconds()))
		case err == unix.EINTR:
		case err != nil:
			return err
		default:
			data = data[n:]
		}
	}
	return nil
}

// closeStdin closes the stdin pipe. On a pty the master also carries
// stdout, so an end-of-transmission character is sent instead.
func (o *osProc) closeStdin() error {
	o.stdinMu.Lock()
	defer o.stdinMu.Unlock()
	if o.stdin < 0 {
		return nil
	}
	if o.pty != nil {
		_, err := unix.Write(o.stdin, []byte{4})
		return err
	}
	err := unix.Close(o.stdin)
	o.stdin = -1
	return err
}

// closePTY closes the master side, hanging up the child's terminal.
func (o *osProc) closePTY() {
	o.stdinMu.Lock()
	defer o.stdinMu.Unlock()
	if o.pty == nil {
		return
	}
	_ = o.pty.Close()
	o.pty = nil
	o.stdin = -1
}

func (o *osProc) close() {
	o.closePTY()
	o.stdinMu.Lock()
	if o.stdin >= 0 {
		_ = unix.Close(o.stdin)
		o.stdin = -1
	}
	o.stdinMu.Unlock()
	closeAll(o.pipes...)
	o.pipes = nil
}
