package forward

import (
	"context"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/convoy/internal/host"
	"github.com/Iron-Ham/convoy/internal/remote"
	"github.com/Iron-Ham/convoy/internal/testutil"
)

func fakeSSH(t *testing.T, body string) string {
	t.Helper()
	return testutil.WriteScript(t, "ssh", body)
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, Options{Host: host.New("fe"), RemotePort: 80}); err == nil {
		t.Error("New() without remote host should fail")
	}
}

func TestNew_CommandLine(t *testing.T) {
	f, err := New(nil, Options{
		Host:       host.New("frontend"),
		Params:     remote.Params{SSH: "ssh"},
		RemoteHost: "db",
		RemotePort: 5432,
		LocalPort:  15432,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := f.Address(); got != "127.0.0.1:15432" {
		t.Errorf("Address() = %q", got)
	}

	plan, err := f.Process().Plan()
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	want := []string{"ssh", "-v", "-L", "127.0.0.1:15432:db:5432", "frontend", keepAlive}
	if !slices.Equal(plan.Argv, want) {
		t.Errorf("Argv = %q, want %q", plan.Argv, want)
	}
}

func TestForwarder_Ready(t *testing.T) {
	testutil.SkipIfNoCommand(t, "sleep")
	ssh := fakeSSH(t, `
echo "debug1: Connecting to frontend" >&2
echo "debug1: Local forwarding listening on 127.0.0.1 port 45871." >&2
exec sleep 30
`)
	s := testutil.NewSupervisor(t)
	f, err := New(s, Options{
		Host:       host.New("frontend"),
		Params:     remote.Params{SSH: ssh},
		RemoteHost: "db",
		RemotePort: 5432,
		LocalPort:  45871,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := f.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := f.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady() error = %v", err)
	}
	if !f.Listening() {
		t.Error("Listening() = false after WaitReady")
	}

	if err := f.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !f.Process().Ended() {
		t.Error("process still running after Close")
	}
}

func TestForwarder_EndsBeforeListening(t *testing.T) {
	ssh := fakeSSH(t, `
echo "ssh: connect to host frontend port 22: Connection refused" >&2
exit 255
`)
	s := testutil.NewSupervisor(t)
	f, err := New(s, Options{
		Host:       host.New("frontend"),
		Params:     remote.Params{SSH: ssh},
		RemoteHost: "db",
		RemotePort: 5432,
		LocalPort:  45872,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := f.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = f.WaitReady(ctx)
	if err == nil || !strings.Contains(err.Error(), "ended before listening") {
		t.Errorf("WaitReady() error = %v, want ended before listening", err)
	}
}

func TestFreePort(t *testing.T) {
	port, err := FreePort("127.0.0.1")
	if err != nil {
		t.Fatalf("FreePort() error = %v", err)
	}
	if port <= 0 || port > 65535 {
		t.Errorf("FreePort() = %d", port)
	}
}
