package fanout

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/Iron-Ham/convoy/internal/errors"
	"github.com/Iron-Ham/convoy/internal/host"
	"github.com/Iron-Ham/convoy/internal/process"
	"github.com/Iron-Ham/convoy/internal/remote"
	"github.com/Iron-Ham/convoy/internal/testutil"
)

// writeTool writes an executable script standing in for the fan-out tool.
func writeTool(t *testing.T, body string) string {
	t.Helper()
	return testutil.WriteScript(t, "taktuk", body)
}

func hosts(addresses ...string) []host.Host {
	var hs []host.Host
	for _, a := range addresses {
		hs = append(hs, host.New(a))
	}
	return hs
}

func TestParseRecord(t *testing.T) {
	tests := []struct {
		line string
		want record
		ok   bool
	}{
		{"A 1 # hello\n", record{kind: 'A', position: 1, payload: "hello\n"}, true},
		{"C 12 # 0\n", record{kind: 'C', position: 12, payload: "0\n"}, true},
		{"E 0 # 3 # 3 # connection failed\n", record{kind: 'E', position: 0, payload: "3 # 3 # connection failed\n"}, true},
		{"A x # hello\n", record{}, false},
		{"garbage\n", record{}, false},
		{"", record{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := parseRecord(tt.line)
			if ok != tt.ok || got != tt.want {
				t.Errorf("parseRecord() = %+v, %v, want %+v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}

	peer, code, ok := peerState("2 # 5 # connection lost\n")
	if !ok || peer != 2 || code != 5 {
		t.Errorf("peerState() = %d, %d, %v", peer, code, ok)
	}
}

func TestNew_CommandLine(t *testing.T) {
	params := remote.Params{Taktuk: "taktuk", TaktukOptions: []string{"-s"}, TaktukConnector: "ssh", HostSuffix: ".g5k"}
	hs := []host.Host{{Address: "a", User: "root"}, host.New("b")}

	r, err := New(nil, process.Shell("uptime"), hs, Options{Params: params})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	argv := r.Tool().Command().Words()

	if argv[0] != "taktuk" || argv[1] != "-s" || argv[len(argv)-1] != "quit" {
		t.Errorf("argv = %q", argv)
	}
	b := slices.Index(argv, "b.g5k")
	a := slices.Index(argv, "a.g5k")
	if b < 0 || a < 0 || b > a {
		t.Errorf("hosts without user must come first, argv = %q", argv)
	}
	if argv[a-3] != "-l" || argv[a-2] != "root" {
		t.Errorf("missing -l before user host, argv = %q", argv)
	}
	if !slices.Equal(argv[b+1:b+7], []string{"-[", "exec", "[", "uptime", "]", "-]"}) {
		t.Errorf("exec block = %q", argv[b+1:b+7])
	}
	// Positions follow the command line, not the caller's order.
	if r.at(1) != r.procs[1] || r.at(2) != r.procs[0] {
		t.Error("position mapping does not follow the command line")
	}
}

func TestNew_Login(t *testing.T) {
	tests := []struct {
		name          string
		hosts         []host.Host
		wantConnector string
		wantLogins    []string // -l values in command line order
	}{
		{
			name:          "configured user in connector",
			hosts:         hosts("a", "b"),
			wantConnector: "ssh -o User=deployer",
		},
		{
			name:          "per-host user",
			hosts:         []host.Host{{Address: "a", User: "root"}, host.New("b")},
			wantConnector: "ssh",
			wantLogins:    []string{"root", "deployer"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := remote.Params{User: "deployer", TaktukConnector: "ssh"}
			r, err := New(nil, process.Shell("true"), tt.hosts, Options{Params: params})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			argv := r.Tool().Command().Words()

			c := slices.Index(argv, "-c")
			if c < 0 || argv[c+1] != tt.wantConnector {
				t.Errorf("connector = %q, want %q", argv[c+1:c+2], tt.wantConnector)
			}
			var logins []string
			for i, w := range argv {
				if w == "-l" {
					logins = append(logins, argv[i+1])
				}
			}
			if !slices.Equal(logins, tt.wantLogins) {
				t.Errorf("logins = %q, want %q", logins, tt.wantLogins)
			}
		})
	}
}

func TestNew_ConflictingPorts(t *testing.T) {
	hs := []host.Host{{Address: "a", Port: 22}, {Address: "b", Port: 2222}}
	if _, err := New(nil, process.Shell("true"), hs, Options{}); err == nil {
		t.Error("New() error = nil, want conflict on ports")
	}
}

func TestRun_Protocol(t *testing.T) {
	tool := writeTool(t, `
echo "E 1 # 0 # 6 # command started"
echo "A 1 # hello"
echo "B 1 # warn"
echo "C 1 # 0"
echo "E 2 # 0 # 6 # command started"
echo "A 2 # partial"
echo "C 2 # 3"
echo "E 0 # 3 # 3 # connection failed"
echo "X junk line"
exit 0
`)
	s := testutil.NewSupervisor(t)
	r, err := New(s, process.Shell("do-something"), hosts("n1", "n2", "n3", "n4"), Options{
		Params:  remote.Params{Taktuk: tool},
		Process: process.Options{NologExitCode: true, NologError: true},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	ps := r.Processes()
	tests := []struct {
		name       string
		p          *process.Process
		finishedOk bool
		exitCode   int
		hasErr     bool
		stdout     string
		stderr     string
	}{
		{"success", ps[0], true, 0, false, "hello\n", "warn\n"},
		{"non-zero exit", ps[1], false, 3, false, "partial\n", ""},
		{"connection failed", ps[2], false, -1, true, "", ""},
		{"never reported", ps[3], false, -1, true, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.p.Ended() {
				t.Fatal("process not ended")
			}
			if got := tt.p.FinishedOk(); got != tt.finishedOk {
				t.Errorf("FinishedOk() = %v, want %v", got, tt.finishedOk)
			}
			if got := tt.p.ExitCode(); got != tt.exitCode {
				t.Errorf("ExitCode() = %d, want %d", got, tt.exitCode)
			}
			if got := tt.p.Err() != nil; got != tt.hasErr {
				t.Errorf("Err() = %v, want error: %v", tt.p.Err(), tt.hasErr)
			}
			if got := tt.p.Stdout(); got != tt.stdout {
				t.Errorf("Stdout() = %q, want %q", got, tt.stdout)
			}
			if got := tt.p.Stderr(); got != tt.stderr {
				t.Errorf("Stderr() = %q, want %q", got, tt.stderr)
			}
		})
	}

	stats := r.Stats()
	if stats.Processes != 4 || stats.FinishedOk != 1 || stats.Errors != 2 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestRun_ConnectionErrors(t *testing.T) {
	tool := writeTool(t, `
echo "E 0 # 1 # 3 # connection failed"
echo "E 0 # 2 # 5 # connection lost"
exit 0
`)
	s := testutil.NewSupervisor(t)
	r, err := New(s, process.Shell("true"), hosts("n1", "n2"), Options{
		Params:  remote.Params{Taktuk: tool},
		Process: process.Options{NologError: true},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	ps := r.Processes()
	tests := []struct {
		name      string
		p         *process.Process
		retryable bool
	}{
		{"connection failed", ps[0], false},
		{"connection lost", ps[1], true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Err()
			if err == nil {
				t.Fatal("Err() = nil")
			}
			if got := errors.IsRetryable(err); got != tt.retryable {
				t.Errorf("IsRetryable(%v) = %v, want %v", err, got, tt.retryable)
			}
			if !errors.IsDomainError(err) {
				t.Errorf("Err() = %T, want a process error", err)
			}
		})
	}
}

func TestRun_ToolMissing(t *testing.T) {
	s := testutil.NewSupervisor(t)
	r, err := New(s, process.Shell("true"), hosts("n1", "n2"), Options{
		Params:  remote.Params{Taktuk: "/nonexistent/taktuk"},
		Process: process.Options{NologError: true},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, p := range r.Processes() {
		if p.Ok() || p.Err() == nil {
			t.Errorf("%s: Ok() = %v, Err() = %v, want failure", p.Host(), p.Ok(), p.Err())
		}
	}
}

func TestRun_Empty(t *testing.T) {
	r, err := New(nil, process.Shell("true"), nil, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := r.Run(context.Background()); err != nil {
		t.Errorf("Run() error = %v", err)
	}
}
