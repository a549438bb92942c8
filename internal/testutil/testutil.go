// Package testutil provides helpers shared by tests that drive real
// processes: a supervisor bound to the test lifetime and executable
// scripts standing in for ssh, the fan-out tool or the deployment tool.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Iron-Ham/convoy/internal/conductor"
)

// NewSupervisor starts a supervisor closed when the test ends.
func NewSupervisor(t *testing.T) *conductor.Supervisor {
	t.Helper()

	s, err := conductor.New(conductor.DefaultConfig())
	if err != nil {
		t.Fatalf("conductor.New() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// WriteScript writes an executable shell script called name in a fresh
// temporary directory and returns its path. A #!/bin/sh line is added
// when body has none.
func WriteScript(t *testing.T, name, body string) string {
	t.Helper()

	if !strings.HasPrefix(body, "#!") {
		body = "#!/bin/sh\n" + body
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

// SkipIfNoCommand skips the test if name is not in PATH.
func SkipIfNoCommand(t *testing.T, name string) {
	t.Helper()

	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not found in PATH, skipping test", name)
	}
}
