package process

import (
	"context"
	"slices"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/Iron-Ham/convoy/internal/errors"
	"github.com/Iron-Ham/convoy/internal/host"
	"github.com/Iron-Ham/convoy/internal/output"
	"github.com/Iron-Ham/convoy/internal/remote"
)

// recordingScheduler counts submissions without launching anything.
type recordingScheduler struct {
	mu        sync.Mutex
	submitted []*Process
	err       error
}

func (s *recordingScheduler) Submit(p *Process) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.submitted = append(s.submitted, p)
	return nil
}

func (s *recordingScheduler) Reschedule(*Process) {}

func (s *recordingScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.submitted)
}

func newExternal(t *testing.T, opts Options) *Process {
	t.Helper()
	p := New(nil, Shell("true"), External{Host: host.New("node-1")}, opts)
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := p.MarkStarted(); err != nil {
		t.Fatalf("MarkStarted() error = %v", err)
	}
	return p
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Idle, "idle"},
		{Pending, "pending"},
		{Running, "running"},
		{Ended, "ended"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOk_BeforeAndWhileRunning(t *testing.T) {
	p := New(nil, Shell("true"), External{}, Options{})
	if !p.Ok() {
		t.Error("Ok() = false before start")
	}
	if p.FinishedOk() {
		t.Error("FinishedOk() = true before start")
	}

	_ = p.Start()
	if err := p.MarkStarted(); err != nil {
		t.Fatalf("MarkStarted() error = %v", err)
	}
	if !p.Ok() {
		t.Error("Ok() = false while running")
	}
	if p.FinishedOk() {
		t.Error("FinishedOk() = true while running")
	}
}

func TestOk_AfterTermination(t *testing.T) {
	launchErr := errors.New("exec failed")
	tests := []struct {
		name    string
		opts    Options
		outcome Outcome
		want    bool
	}{
		{"clean exit", Options{}, Outcome{}, true},
		{"non-zero exit", Options{}, Outcome{ExitCode: 2}, false},
		{"non-zero exit ignored", Options{IgnoreExitCode: true}, Outcome{ExitCode: 2}, true},
		{"timeout", Options{}, Outcome{Timeouted: true}, false},
		{"timeout ignored", Options{IgnoreTimeout: true}, Outcome{Timeouted: true}, true},
		{"error", Options{}, Outcome{Err: launchErr}, false},
		{"error ignored", Options{IgnoreError: true}, Outcome{Err: launchErr}, true},
		{"error ignored, exit code not", Options{IgnoreError: true}, Outcome{Err: launchErr, ExitCode: 1}, false},
		{"forced kill alone", Options{}, Outcome{ForcedKill: true}, true},
		{
			"everything ignored",
			Options{IgnoreError: true, IgnoreTimeout: true, IgnoreExitCode: true},
			Outcome{Err: launchErr, Timeouted: true, ExitCode: 137},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newExternal(t, tt.opts)
			p.Terminate(tt.outcome)

			if got := p.Ok(); got != tt.want {
				t.Errorf("Ok() = %v, want %v", got, tt.want)
			}
			if got, want := p.FinishedOk(), p.Started() && p.Ended() && p.Ok(); got != want {
				t.Errorf("FinishedOk() = %v, want %v", got, want)
			}
		})
	}
}

func TestTerminate_RunsOnce(t *testing.T) {
	var ends int
	p := newExternal(t, Options{Lifecycle: []LifecycleHandler{
		LifecycleFuncs{End: func(*Process) { ends++ }},
	}})

	p.Terminate(Outcome{ExitCode: 3})
	p.Terminate(Outcome{ExitCode: 0})

	if ends != 1 {
		t.Errorf("end handlers ran %d times, want 1", ends)
	}
	if p.ExitCode() != 3 {
		t.Errorf("ExitCode() = %d, want 3", p.ExitCode())
	}
	if p.EndTime().Before(p.StartTime()) {
		t.Error("EndTime() before StartTime()")
	}
}

func TestWait_NotStarted(t *testing.T) {
	p := New(&recordingScheduler{}, Argv("true"), Local{}, Options{})

	err := p.Wait(context.Background())
	if !errors.Is(err, errors.ErrNotStarted) {
		t.Errorf("Wait() error = %v, want ErrNotStarted", err)
	}
	if err := p.WaitStarted(context.Background()); !errors.Is(err, errors.ErrNotStarted) {
		t.Errorf("WaitStarted() error = %v, want ErrNotStarted", err)
	}
}

func TestWait_EndHandlersCompleteFirst(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, s)
	}

	p := newExternal(t, Options{Lifecycle: []LifecycleHandler{
		LifecycleFuncs{End: func(*Process) {
			time.Sleep(20 * time.Millisecond)
			record("end handler")
		}},
	}})

	var wg sync.WaitGroup
	for _i := 0; _i < 3; _i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Wait(context.Background()); err != nil {
				t.Errorf("Wait() error = %v", err)
			}
			record("waiter")
		}()
	}

	p.Terminate(Outcome{})
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 4 || order[0] != "end handler" {
		t.Errorf("order = %v, want end handler before every waiter", order)
	}
}

func TestWaitTimeout(t *testing.T) {
	p := newExternal(t, Options{})

	err := p.WaitTimeout(20 * time.Millisecond)
	if !errors.Is(err, errors.ErrTimeout) {
		t.Errorf("WaitTimeout() error = %v, want ErrTimeout", err)
	}

	p.Terminate(Outcome{})
	if err := p.WaitTimeout(time.Second); err != nil {
		t.Errorf("WaitTimeout() after end error = %v", err)
	}
}

func TestStart_Idempotent(t *testing.T) {
	sched := &recordingScheduler{}
	p := New(sched, Argv("true"), Local{}, Options{})

	for _i := 0; _i < 3; _i++ {
		if err := p.Start(); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	}
	if got := sched.count(); got != 1 {
		t.Errorf("submitted %d times, want 1", got)
	}
	if p.State() != Pending {
		t.Errorf("State() = %v, want pending", p.State())
	}
}

func TestStart_SubmitFailureEndsRun(t *testing.T) {
	sched := &recordingScheduler{err: errors.ErrSupervisorClosed}
	p := New(sched, Argv("true"), Local{}, Options{NologError: true})

	if err := p.Start(); !errors.Is(err, errors.ErrSupervisorClosed) {
		t.Fatalf("Start() error = %v, want ErrSupervisorClosed", err)
	}
	if !p.Ended() || p.Ok() {
		t.Errorf("Ended() = %v, Ok() = %v, want ended and not ok", p.Ended(), p.Ok())
	}
	if err := p.Wait(context.Background()); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
}

func TestMarkStarted(t *testing.T) {
	p := newExternal(t, Options{})
	if err := p.MarkStarted(); !errors.Is(err, errors.ErrAlreadyStarted) {
		t.Errorf("second MarkStarted() error = %v, want ErrAlreadyStarted", err)
	}

	local := New(&recordingScheduler{}, Argv("true"), Local{}, Options{})
	if err := local.MarkStarted(); err == nil {
		t.Error("MarkStarted() on a local process should fail")
	}
}

func TestKill_NotRunningIsNoop(t *testing.T) {
	p := newExternal(t, Options{})
	p.Kill(syscall.SIGKILL, GracefulKill)

	if p.ForcedKill() {
		t.Error("Kill on an external process recorded a forced kill")
	}
	if p.Ended() {
		t.Error("Kill on an external process ended it")
	}
}

func TestHandleOutput_Accumulates(t *testing.T) {
	var lines []string
	p := newExternal(t, Options{
		Stdout: []output.Sink{output.Lines(output.LineFunc(func(l output.Line) {
			lines = append(lines, l.Text)
		}))},
	})

	p.HandleOutput(output.Chunk{Stream: output.Stdout, Data: []byte("hel")})
	p.HandleOutput(output.Chunk{Stream: output.Stdout, Data: []byte("lo\nwor")})
	p.HandleOutput(output.Chunk{Stream: output.Stderr, Data: []byte("oops")})
	p.HandleOutput(output.Chunk{Stream: output.Stdout, Data: []byte("ld"), EOF: true})
	p.Terminate(Outcome{})

	if got := p.Stdout(); got != "hello\nworld" {
		t.Errorf("Stdout() = %q", got)
	}
	if got := p.Stderr(); got != "oops" {
		t.Errorf("Stderr() = %q", got)
	}
	if want := []string{"hello\n", "world"}; !slices.Equal(lines, want) {
		t.Errorf("lines = %q, want %q", lines, want)
	}
}

func TestDiscardOutput(t *testing.T) {
	p := newExternal(t, Options{DiscardOutput: true})
	p.HandleOutput(output.Chunk{Stream: output.Stdout, Data: []byte("x")})
	if got := p.Stdout(); got != "" {
		t.Errorf("Stdout() = %q, want empty", got)
	}
}

func TestReset(t *testing.T) {
	var resets int
	p := newExternal(t, Options{Lifecycle: []LifecycleHandler{
		LifecycleFuncs{Reset: func(*Process) { resets++ }},
	}})
	p.HandleOutput(output.Chunk{Stream: output.Stdout, Data: []byte("first run")})

	if err := p.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if p.State() != Idle {
		t.Errorf("State() = %v, want idle", p.State())
	}
	if resets != 1 {
		t.Errorf("reset handlers ran %d times, want 1", resets)
	}
	if p.Stdout() != "" || !p.StartTime().IsZero() || p.ForcedKill() {
		t.Error("Reset() did not clear the previous run")
	}

	if err := p.Start(); err != nil {
		t.Fatalf("Start() after reset error = %v", err)
	}
	if err := p.MarkStarted(); err != nil {
		t.Fatalf("MarkStarted() after reset error = %v", err)
	}
	p.Terminate(Outcome{ExitCode: 1})
	if p.Ok() {
		t.Error("second run should not be ok")
	}
}

func TestLifecycle_PanicRecovered(t *testing.T) {
	var ended bool
	p := newExternal(t, Options{Lifecycle: []LifecycleHandler{
		LifecycleFuncs{End: func(*Process) { panic("boom") }},
		LifecycleFuncs{End: func(*Process) { ended = true }},
	}})
	p.Terminate(Outcome{})

	if !ended {
		t.Error("handler after a panicking one was not called")
	}
}

func TestChanged(t *testing.T) {
	p := New(nil, Shell("true"), External{}, Options{})
	ch := p.Changed()
	_ = p.Start()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("Changed() not closed on start")
	}
	if p.Changed() == ch {
		t.Error("Changed() not re-armed")
	}
}

func TestLaunchers(t *testing.T) {
	params := remote.Params{SSH: "ssh", SSHOptions: []string{"-o", "BatchMode=yes"}, User: "root"}

	tests := []struct {
		name     string
		launcher Launcher
		cmd      Command
		opts     Options
		want     Plan
		wantErr  bool
	}{
		{
			name:     "local argv",
			launcher: Local{},
			cmd:      Argv("echo", "a b"),
			want:     Plan{Argv: []string{"echo", "a b"}},
		},
		{
			name:     "local shell with pty",
			launcher: Local{},
			cmd:      Shell("echo $HOME"),
			opts:     Options{PTY: true},
			want:     Plan{Argv: []string{"/bin/sh", "-c", "echo $HOME"}, PTY: true},
		},
		{
			name:     "remote argv is quoted",
			launcher: Remote{Host: host.New("node-1"), Params: params},
			cmd:      Argv("echo", "a b"),
			want: Plan{Argv: []string{
				"ssh", "-o", "BatchMode=yes", "-o", "User=root", "node-1", "echo 'a b'",
			}},
		},
		{
			name:     "external",
			launcher: External{Host: host.New("node-1")},
			cmd:      Shell("uptime"),
			want:     Plan{External: true},
		},
		{name: "empty command", launcher: Local{}, cmd: Argv(), wantErr: true},
		{name: "remote without host", launcher: Remote{}, cmd: Shell("true"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.launcher.Plan(tt.cmd, tt.opts)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Plan() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Plan() error = %v", err)
			}
			if !slices.Equal(got.Argv, tt.want.Argv) || got.PTY != tt.want.PTY || got.External != tt.want.External {
				t.Errorf("Plan() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCollect(t *testing.T) {
	idle := New(nil, Shell("true"), External{}, Options{})
	running := newExternal(t, Options{})
	okRun := newExternal(t, Options{})
	okRun.Terminate(Outcome{})
	failed := newExternal(t, Options{NologExitCode: true})
	failed.Terminate(Outcome{ExitCode: 1})
	timedOut := newExternal(t, Options{IgnoreTimeout: true, IgnoreExitCode: true})
	timedOut.Terminate(Outcome{ExitCode: 143, Timeouted: true, ForcedKill: true})
	broken := newExternal(t, Options{NologError: true})
	broken.Terminate(Outcome{ExitCode: -1, Err: errors.New("connection lost")})

	s := Collect(idle, running, okRun, failed, timedOut, broken)
	want := Stats{
		Processes:   6,
		Started:     5,
		Ended:       4,
		Errors:      1,
		Timeouts:    1,
		ForcedKills: 1,
		NonZero:     3,
		Ok:          4,
		FinishedOk:  2,
	}
	s.StartTime, s.EndTime = time.Time{}, time.Time{}
	if s != want {
		t.Errorf("Collect() = %+v, want %+v", s, want)
	}
	if s.AllOk() {
		t.Error("AllOk() = true, want false")
	}
}

func TestCommand(t *testing.T) {
	if got := Argv("ls", "my dir").Line(); got != "ls 'my dir'" {
		t.Errorf("Line() = %q", got)
	}
	if !Shell("ls").IsShell() || Argv("ls").IsShell() {
		t.Error("IsShell() mismatch")
	}
	if !Shell("  ").Empty() || Argv("ls").Empty() {
		t.Error("Empty() mismatch")
	}
}
