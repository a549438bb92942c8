package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"

	convoyerrors "github.com/Iron-Ham/convoy/internal/errors"
	"github.com/Iron-Ham/convoy/internal/host"
	"github.com/Iron-Ham/convoy/internal/output"
	"github.com/Iron-Ham/convoy/internal/process"
	"github.com/Iron-Ham/convoy/internal/styles"
)

// executeCommand runs a cobra command with args and returns captured output
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err = root.Execute()
	return buf.String(), err
}

// isolateConfig points the config search paths at an empty directory.
func isolateConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	return dir
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "convoy" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "convoy")
	}

	expectedCmds := []string{"run", "deploy", "forward", "config", "logs"}
	cmdMap := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		cmdMap[cmd.Name()] = true
	}
	for _, expected := range expectedCmds {
		if !cmdMap[expected] {
			t.Errorf("expected subcommand %q not found", expected)
		}
	}
}

func TestConfigPathCommand(t *testing.T) {
	dir := isolateConfig(t)

	output, err := executeCommand(rootCmd, "config", "path")
	if err != nil {
		t.Fatalf("config path failed: %v\nOutput: %s", err, output)
	}
	if !strings.Contains(output, filepath.Join(dir, "convoy", "config.yaml")) {
		t.Errorf("output does not mention the config path:\n%s", output)
	}
	if !strings.Contains(output, "CONVOY_") {
		t.Errorf("output does not mention the environment prefix:\n%s", output)
	}
}

func TestConfigInitCommand(t *testing.T) {
	dir := isolateConfig(t)

	if output, err := executeCommand(rootCmd, "config", "init"); err != nil {
		t.Fatalf("config init failed: %v\nOutput: %s", err, output)
	}
	path := filepath.Join(dir, "convoy", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("config file not created: %v", err)
	}
	if !strings.Contains(string(data), "command: kadeploy3") {
		t.Errorf("config file misses the deploy section:\n%s", data)
	}

	if _, err := executeCommand(rootCmd, "config", "init"); err == nil {
		t.Error("second config init should fail")
	}
}

func TestParseConfigValue(t *testing.T) {
	tests := []struct {
		key     string
		value   string
		want    any
		wantErr bool
	}{
		{"deploy.num_tries", "3", 3, false},
		{"deploy.num_tries", "three", nil, true},
		{"deploy.num_tries", "-1", nil, true},
		{"deploy.local_site", "lyon", "lyon", false},
		{"logging.compress", "true", true, false},
		{"logging.compress", "yes", nil, true},
		{"process.kill_timeout", "1m30s", "1m30s", false},
		{"process.kill_timeout", "soon", nil, true},
		{"frontend.user", "root", "root", false},
		{"connection.port", "2222", 2222, false},
		{"nope.key", "x", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			got, err := parseConfigValue(tt.key, tt.value)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseConfigValue() = %v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseConfigValue() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("parseConfigValue() = %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestTargets(t *testing.T) {
	hostFile := filepath.Join(t.TempDir(), "nodes")
	content := "taurus-1.lyon\n# spare\ngraphene-1.nancy taurus-2.lyon\n"
	if err := os.WriteFile(hostFile, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		specs    []string
		file     string
		exclude  []string
		want     []string
		wantUser string
	}{
		{
			name:  "specs only",
			specs: []string{"root@taurus-1.lyon:2222", "taurus-3.lyon"},
			want:  []string{"root@taurus-1.lyon:2222", "taurus-3.lyon"},
		},
		{
			name: "file only",
			file: hostFile,
			want: []string{"taurus-1.lyon", "graphene-1.nancy", "taurus-2.lyon"},
		},
		{
			name:  "specs win over duplicate file entries",
			specs: []string{"root@taurus-1.lyon"},
			file:  hostFile,
			want:  []string{"root@taurus-1.lyon", "graphene-1.nancy", "taurus-2.lyon"},
		},
		{
			name:    "exclude a site",
			file:    hostFile,
			exclude: []string{"*.nancy"},
			want:    []string{"taurus-1.lyon", "taurus-2.lyon"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := targets(tt.specs, tt.file, tt.exclude)
			if err != nil {
				t.Fatalf("targets() error = %v", err)
			}
			var rendered []string
			for _, h := range got {
				rendered = append(rendered, h.String())
			}
			if strings.Join(rendered, ",") != strings.Join(tt.want, ",") {
				t.Errorf("targets() = %v, want %v", rendered, tt.want)
			}
		})
	}
}

func TestTargets_Errors(t *testing.T) {
	if _, err := targets([]string{"node:notaport"}, "", nil); err == nil {
		t.Error("invalid host spec should fail")
	}
	if _, err := targets(nil, filepath.Join(t.TempDir(), "missing"), nil); err == nil {
		t.Error("missing hosts file should fail")
	}
	if _, err := targets([]string{"a"}, "", []string{"[unclosed"}); err == nil {
		t.Error("invalid exclude pattern should fail")
	}
}

func TestAddressSet(t *testing.T) {
	set := addressSet([]host.Host{{Address: "b", User: "root"}, host.New("a"), host.New("b")})
	if got := set.String(); got != "b a" {
		t.Errorf("addressSet() = %q, want %q", got, "b a")
	}
}

func TestParseHostPort(t *testing.T) {
	tests := []struct {
		in       string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{"taurus-1.lyon:8080", "taurus-1.lyon", 8080, false},
		{"[::1]:22", "::1", 22, false},
		{"taurus-1.lyon", "", 0, true},
		{":8080", "", 0, true},
		{"node:0", "", 0, true},
		{"node:http", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			h, p, err := parseHostPort(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseHostPort() error = %v, wantErr %v", err, tt.wantErr)
			}
			if h != tt.wantHost || p != tt.wantPort {
				t.Errorf("parseHostPort() = %q, %d, want %q, %d", h, p, tt.wantHost, tt.wantPort)
			}
		})
	}
}

func TestLogFilter(t *testing.T) {
	now := time.Now()
	entry := &logEntry{
		Time:      now,
		Level:     "WARN",
		Msg:       "process timed out",
		ProcessID: "p1",
		Host:      "taurus-1.lyon",
		Site:      "lyon",
		Extra:     map[string]any{"exit_code": float64(143)},
	}

	tests := []struct {
		name   string
		filter logFilter
		want   bool
	}{
		{"no filter", logFilter{minLevel: -1}, true},
		{"level below", logFilter{minLevel: levelPriority("ERROR")}, false},
		{"level at", logFilter{minLevel: levelPriority("WARN")}, true},
		{"since before", logFilter{minLevel: -1, since: now.Add(-time.Minute)}, true},
		{"since after", logFilter{minLevel: -1, since: now.Add(time.Minute)}, false},
		{"host match", logFilter{minLevel: -1, host: "taurus-1.lyon"}, true},
		{"host mismatch", logFilter{minLevel: -1, host: "taurus-2.lyon"}, false},
		{"site mismatch", logFilter{minLevel: -1, site: "nancy"}, false},
		{"process match", logFilter{minLevel: -1, process: "p1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.passes(entry); got != tt.want {
				t.Errorf("passes() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatLine(t *testing.T) {
	f := logFilter{minLevel: -1, site: "lyon"}

	line := `{"time":"2026-01-02T03:04:05Z","level":"INFO","msg":"site deployed","site":"lyon","deployed":3}`
	got, ok := formatLine(line, f)
	if !ok {
		t.Fatal("record should pass the filter")
	}
	for _, want := range []string{"site deployed", "site=", "lyon", "deployed=", "3"} {
		if !strings.Contains(got, want) {
			t.Errorf("formatLine() = %q, missing %q", got, want)
		}
	}

	if _, ok := formatLine(`{"level":"INFO","msg":"x","site":"nancy"}`, f); ok {
		t.Error("record of another site should be filtered out")
	}
	if got, ok := formatLine("not json", f); !ok || got != "not json" {
		t.Errorf("formatLine(raw) = %q, %v", got, ok)
	}
	if _, ok := formatLine("   ", f); ok {
		t.Error("blank line should be skipped")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain", errors.New("boom"), ExitFailure},
		{"validation", convoyerrors.NewValidationError("bad flag"), ExitUsage},
		{"wrapped site error", fmt.Errorf("deploy: %w", convoyerrors.NewSiteError("unknown", nil)), ExitRemote},
		{"deploy error", convoyerrors.NewDeployError("inconsistent", convoyerrors.ErrInconsistentResult), ExitRemote},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	PrintError(&buf, errors.New("boom"))
	if got := buf.String(); !strings.Contains(got, "Error: boom") {
		t.Errorf("PrintError(plain) = %q", got)
	}

	buf.Reset()
	PrintError(&buf, convoyerrors.NewTimeoutError("waiting for tunnel", time.Second))
	got := buf.String()
	if strings.Contains(got, "Error:") {
		t.Errorf("user facing error should not be prefixed: %q", got)
	}
	if !strings.Contains(got, "transient") {
		t.Errorf("retryable error should carry a hint: %q", got)
	}

	buf.Reset()
	PrintError(&buf, nil)
	if buf.Len() != 0 {
		t.Errorf("PrintError(nil) wrote %q", buf.String())
	}
}

func endedProcess(t *testing.T, address string, o process.Outcome) *process.Process {
	t.Helper()
	p := process.New(nil, process.Shell("true"), process.External{Host: host.New(address)}, process.Options{NologExitCode: true, NologError: true})
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := p.MarkStarted(); err != nil {
		t.Fatalf("MarkStarted() error = %v", err)
	}
	p.Terminate(o)
	return p
}

func TestFailureError(t *testing.T) {
	lost := convoyerrors.NewProcessError("connection lost", nil).WithRetryable(true)
	tests := []struct {
		name      string
		outcomes  []process.Outcome
		wantErr   bool
		retryable bool
	}{
		{"all ok", []process.Outcome{{}, {}}, false, false},
		{"only lost connections", []process.Outcome{{}, {ExitCode: -1, Err: lost}}, true, true},
		{"exit code", []process.Outcome{{ExitCode: -1, Err: lost}, {ExitCode: 2}}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var procs []*process.Process
			for i, o := range tt.outcomes {
				procs = append(procs, endedProcess(t, fmt.Sprintf("n%d", i), o))
			}
			err := failureError(procs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("failureError() = %v, want error: %v", err, tt.wantErr)
			}
			if got := convoyerrors.IsRetryable(err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestPrefixer(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	labels := map[string]string{"p1": "n1"}
	printer := styles.NewPrinter(&buf)

	prefixer(printer, &mu, labels, "", 0)(output.Line{Source: "p1", Text: "a fairly long line of output\n"})
	if got := buf.String(); got != "n1 a fairly long line of output\n" {
		t.Errorf("untruncated = %q", got)
	}

	buf.Reset()
	prefixer(printer, &mu, labels, "!", 12)(output.Line{Source: "p1", Text: "a fairly long line of output"})
	got := strings.TrimSuffix(buf.String(), "\n")
	if !strings.HasPrefix(got, "n1! ") || !strings.HasSuffix(got, "...") {
		t.Errorf("truncated = %q", got)
	}
	if len(got) > 12 {
		t.Errorf("truncated line is %d columns, want at most 12", len(got))
	}

	buf.Reset()
	prefixer(printer, &mu, labels, "", 12)(output.Line{Source: "p1", Text: ""})
	if buf.Len() != 0 {
		t.Errorf("empty line printed %q", buf.String())
	}
}
