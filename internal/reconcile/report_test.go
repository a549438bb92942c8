package reconcile

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

func sampleReport() *Report {
	return &Report{
		Requested:  []string{"a", "b", "c"},
		Deployed:   []string{"a", "b"},
		Undeployed: []string{"c"},
		Check:      "default",
		Tries:      1,
		Duration:   90 * time.Second,
		Rows: []Row{
			{Iteration: 0, Elapsed: 2 * time.Second, Checked: true, DeployedByCheck: 1, TotalDeployed: 1, TotalUndeployed: 2},
			{Iteration: 1, Elapsed: 88 * time.Second, Attempted: 2, DeployedByTool: 1, Checked: true, DeployedByCheck: 1, TotalDeployed: 2, TotalUndeployed: 1},
		},
	}
}

func TestReport_Render(t *testing.T) {
	out := ansi.Strip(sampleReport().Render())

	for _, want := range []string{"deploy finished in 1 tries, 1m30s", "#0", "#1", "by tool", "deployed: a b", "undeployed: c"} {
		if !strings.Contains(out, want) {
			t.Errorf("Render() missing %q in:\n%s", want, out)
		}
	}

	lines := strings.Split(out, "\n")
	var initial string
	for _, l := range lines {
		if strings.HasPrefix(l, "#0") {
			initial = l
		}
	}
	if fields := strings.Fields(initial); len(fields) != 7 || fields[2] != "-" || fields[3] != "-" || fields[4] != "1" {
		t.Errorf("initial row = %q, want no attempt nor tool count", initial)
	}
}

func TestReport_Export(t *testing.T) {
	r := sampleReport()

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := r.Export(&buf, FormatJSON); err != nil {
			t.Fatalf("Export() error = %v", err)
		}
		var got exportReport
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		if got.Tries != 1 || len(got.Rows) != 2 || got.Rows[1].ElapsedSeconds != 88 || *got.Rows[1].DeployedByCheck != 1 {
			t.Errorf("decoded = %+v", got)
		}
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		if err := r.Export(&buf, FormatYAML); err != nil {
			t.Fatalf("Export() error = %v", err)
		}
		var got exportReport
		if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		if len(got.Undeployed) != 1 || got.Undeployed[0] != "c" || got.DurationSeconds != 90 {
			t.Errorf("decoded = %+v", got)
		}
	})

	t.Run("toml", func(t *testing.T) {
		var buf bytes.Buffer
		if err := r.Export(&buf, FormatTOML); err != nil {
			t.Fatalf("Export() error = %v", err)
		}
		var got exportReport
		if err := toml.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		if len(got.Rows) != 2 || got.Rows[0].TotalUndeployed != 2 {
			t.Errorf("decoded = %+v", got)
		}
	})

	t.Run("no check column without check", func(t *testing.T) {
		r := &Report{Rows: []Row{{Iteration: 0}}}
		var buf bytes.Buffer
		if err := r.Export(&buf, FormatJSON); err != nil {
			t.Fatalf("Export() error = %v", err)
		}
		if strings.Contains(buf.String(), "deployed_by_check") {
			t.Errorf("unchecked row exported a check count: %s", buf.String())
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		if err := r.Export(&bytes.Buffer{}, "xml"); err == nil {
			t.Error("Export(xml) should fail")
		}
	})
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{"stats.yaml", FormatYAML, false},
		{"stats.YML", FormatYAML, false},
		{"/tmp/stats.json", FormatJSON, false},
		{"stats.toml", FormatTOML, false},
		{"stats.csv", "", true},
		{"stats", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := FormatFromPath(tt.path)
			if (err != nil) != tt.wantErr || got != tt.want {
				t.Errorf("FormatFromPath() = %q, %v, want %q, wantErr %v", got, err, tt.want, tt.wantErr)
			}
		})
	}
}
