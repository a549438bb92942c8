package reconcile

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/convoy/internal/errors"
	"github.com/Iron-Ham/convoy/internal/styles"
)

// Row is the statistics of one iteration. Iteration 0 is the initial
// probe, before any deployment.
type Row struct {
	Iteration       int
	Elapsed         time.Duration
	Attempted       int
	DeployedByTool  int
	DeployedByCheck int
	// Checked is false when no check command ran; DeployedByCheck is then
	// meaningless.
	Checked         bool
	TotalDeployed   int
	TotalUndeployed int
}

// Report is the outcome of a Loop run.
type Report struct {
	Requested  []string
	Deployed   []string
	Undeployed []string
	Check      string
	Tries      int
	Duration   time.Duration
	Rows       []Row
}

func (r *Report) finish(st *state, start time.Time) *Report {
	r.Deployed = st.deployed.Slice()
	r.Undeployed = st.undeployed.Slice()
	r.Duration = time.Since(start)
	return r
}

// Ok reports whether every requested host ended deployed.
func (r *Report) Ok() bool { return len(r.Undeployed) == 0 }

var tableColumns = []string{"try", "duration", "attempted", "by tool", "by check", "deployed", "undeployed"}

func dash(ok bool, n int) string {
	if !ok {
		return "-"
	}
	return strconv.Itoa(n)
}

func (r Row) cells() []string {
	initial := r.Iteration == 0
	return []string{
		"#" + strconv.Itoa(r.Iteration),
		formatDuration(r.Elapsed),
		dash(!initial, r.Attempted),
		dash(!initial, r.DeployedByTool),
		dash(r.Checked, r.DeployedByCheck),
		strconv.Itoa(r.TotalDeployed),
		strconv.Itoa(r.TotalUndeployed),
	}
}

func formatDuration(d time.Duration) string {
	return d.Round(100 * time.Millisecond).String()
}

// Render formats the statistics table and the final partition.
func (r *Report) Render() string {
	rows := [][]string{tableColumns}
	for _, row := range r.Rows {
		rows = append(rows, row.cells())
	}

	widths := make([]int, len(tableColumns))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	var b strings.Builder
	b.WriteString(styles.Title.Render(fmt.Sprintf("deploy finished in %d tries, %s", r.Tries, formatDuration(r.Duration))))
	b.WriteString("\n")
	for n, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = lipgloss.NewStyle().Width(widths[i]).Render(cell)
		}
		line := strings.Join(cells, "  ")
		if n == 0 {
			line = styles.Header.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString(styles.Success.Render("deployed:") + " " + strings.Join(r.Deployed, " ") + "\n")
	undeployed := styles.Muted.Render("undeployed:")
	if len(r.Undeployed) > 0 {
		undeployed = styles.Error.Render("undeployed:")
	}
	b.WriteString(undeployed + " " + strings.Join(r.Undeployed, " ") + "\n")
	return b.String()
}

// exportRow is the serialized form of a Row.
type exportRow struct {
	Iteration       int     `json:"iteration" yaml:"iteration" toml:"iteration"`
	ElapsedSeconds  float64 `json:"elapsed_seconds" yaml:"elapsed_seconds" toml:"elapsed_seconds"`
	Attempted       int     `json:"attempted" yaml:"attempted" toml:"attempted"`
	DeployedByTool  int     `json:"deployed_by_tool" yaml:"deployed_by_tool" toml:"deployed_by_tool"`
	DeployedByCheck *int    `json:"deployed_by_check,omitempty" yaml:"deployed_by_check,omitempty" toml:"deployed_by_check,omitempty"`
	TotalDeployed   int     `json:"total_deployed" yaml:"total_deployed" toml:"total_deployed"`
	TotalUndeployed int     `json:"total_undeployed" yaml:"total_undeployed" toml:"total_undeployed"`
}

type exportReport struct {
	Requested       []string    `json:"requested" yaml:"requested" toml:"requested"`
	Deployed        []string    `json:"deployed" yaml:"deployed" toml:"deployed"`
	Undeployed      []string    `json:"undeployed" yaml:"undeployed" toml:"undeployed"`
	Check           string      `json:"check" yaml:"check" toml:"check"`
	Tries           int         `json:"tries" yaml:"tries" toml:"tries"`
	DurationSeconds float64     `json:"duration_seconds" yaml:"duration_seconds" toml:"duration_seconds"`
	Rows            []exportRow `json:"rows" yaml:"rows" toml:"rows"`
}

func (r *Report) export() exportReport {
	out := exportReport{
		Requested:       nonNil(r.Requested),
		Deployed:        nonNil(r.Deployed),
		Undeployed:      nonNil(r.Undeployed),
		Check:           r.Check,
		Tries:           r.Tries,
		DurationSeconds: r.Duration.Seconds(),
	}
	for _, row := range r.Rows {
		er := exportRow{
			Iteration:       row.Iteration,
			ElapsedSeconds:  row.Elapsed.Seconds(),
			Attempted:       row.Attempted,
			DeployedByTool:  row.DeployedByTool,
			TotalDeployed:   row.TotalDeployed,
			TotalUndeployed: row.TotalUndeployed,
		}
		if row.Checked {
			n := row.DeployedByCheck
			er.DeployedByCheck = &n
		}
		out.Rows = append(out.Rows, er)
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Export formats understood by Report.Export.
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
	FormatTOML = "toml"
)

// FormatFromPath picks the export format from a file extension.
func FormatFromPath(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", errors.NewValidationError("unsupported statistics file extension").WithField("stats-out").WithValue(path)
	}
}

// Export writes the report in format.
func (r *Report) Export(w io.Writer, format string) error {
	data := r.export()
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return errors.Wrap(err, "encoding yaml")
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(data), "encoding json")
	case FormatTOML:
		return errors.Wrap(toml.NewEncoder(w).Encode(data), "encoding toml")
	default:
		return errors.NewValidationError("unsupported export format").WithField("format").WithValue(format)
	}
}
