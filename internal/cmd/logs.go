package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/convoy/internal/config"
	"github.com/Iron-Ham/convoy/internal/logging"
	"github.com/Iron-Ham/convoy/internal/styles"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View convoy logs",
	Long: `View and filter the convoy log.

Examples:
  # Show the last 50 records
  convoy logs

  # Follow the log while a deployment runs
  convoy logs -f --site lyon

  # Show everything about one host in the last hour
  convoy logs -n 0 --host taurus-1.lyon --since 1h

  # Search for specific patterns
  convoy logs --grep "timeout|killed"`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var (
	logsTail    int
	logsFollow  bool
	logsLevel   string
	logsSince   string
	logsGrep    string
	logsHost    string
	logsSite    string
	logsProcess string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of records to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show records since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Filter records matching pattern (regex)")
	logsCmd.Flags().StringVar(&logsHost, "host", "", "Only records about this host")
	logsCmd.Flags().StringVar(&logsSite, "site", "", "Only records about this site")
	logsCmd.Flags().StringVar(&logsProcess, "process", "", "Only records about this process ID")
}

// logEntry represents a parsed JSON log line
type logEntry struct {
	Time      time.Time      `json:"time"`
	Level     string         `json:"level"`
	Msg       string         `json:"msg"`
	ProcessID string         `json:"process_id,omitempty"`
	Host      string         `json:"host,omitempty"`
	Site      string         `json:"site,omitempty"`
	Extra     map[string]any `json:"-"`
}

// UnmarshalJSON implements custom unmarshaling to capture extra fields
func (e *logEntry) UnmarshalJSON(data []byte) error {
	type Alias logEntry
	aux := &struct {
		*Alias
	}{
		Alias: (*Alias)(e),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, known := range []string{"time", "level", "msg", "process_id", "host", "site"} {
		delete(all, known)
	}
	if len(all) > 0 {
		e.Extra = all
	}
	return nil
}

// logFilter selects the records to display.
type logFilter struct {
	minLevel int
	since    time.Time
	grep     *regexp.Regexp
	host     string
	site     string
	process  string
}

func newLogFilter() (logFilter, error) {
	f := logFilter{
		minLevel: -1,
		host:     logsHost,
		site:     logsSite,
		process:  logsProcess,
	}
	if logsLevel != "" {
		f.minLevel = levelPriority(logging.ParseLevel(logsLevel))
	}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return f, fmt.Errorf("invalid duration format: %w", err)
		}
		f.since = time.Now().Add(-d)
	}
	if logsGrep != "" {
		re, err := regexp.Compile(logsGrep)
		if err != nil {
			return f, fmt.Errorf("invalid grep pattern: %w", err)
		}
		f.grep = re
	}
	return f, nil
}

// passes checks if a log entry passes all filter criteria
func (f logFilter) passes(e *logEntry) bool {
	if f.minLevel >= 0 && levelPriority(e.Level) < f.minLevel {
		return false
	}
	if !f.since.IsZero() && e.Time.Before(f.since) {
		return false
	}
	if f.host != "" && e.Host != f.host {
		return false
	}
	if f.site != "" && e.Site != f.site {
		return false
	}
	if f.process != "" && e.ProcessID != f.process {
		return false
	}
	if f.grep != nil {
		text := e.Msg
		for _, v := range e.Extra {
			text += " " + fmt.Sprintf("%v", v)
		}
		if !f.grep.MatchString(text) {
			return false
		}
	}
	return true
}

// levelStyle returns the style a log level is rendered with
func levelStyle(level string) lipgloss.Style {
	switch strings.ToUpper(level) {
	case logging.LevelDebug:
		return styles.Muted
	case logging.LevelInfo:
		return styles.Primary
	case logging.LevelWarn:
		return styles.Warning
	case logging.LevelError:
		return styles.Error
	default:
		return lipgloss.NewStyle()
	}
}

// levelPriority returns the priority of a log level for filtering
func levelPriority(level string) int {
	switch strings.ToUpper(level) {
	case logging.LevelDebug:
		return 0
	case logging.LevelInfo:
		return 1
	case logging.LevelWarn:
		return 2
	case logging.LevelError:
		return 3
	default:
		return -1
	}
}

// formatLogEntry formats a log entry for terminal output
func formatLogEntry(e *logEntry) string {
	var sb strings.Builder
	sb.WriteString(styles.Muted.Render("[" + e.Time.Format("15:04:05.000") + "]"))
	sb.WriteString(" ")
	sb.WriteString(levelStyle(e.Level).Render("[" + strings.ToUpper(e.Level) + "]"))
	sb.WriteString(" ")
	sb.WriteString(e.Msg)

	field := func(k string, v any) {
		sb.WriteString(" ")
		sb.WriteString(styles.HostLabel.Render(k + "="))
		sb.WriteString(fmt.Sprintf("%v", v))
	}
	if e.Site != "" {
		field("site", e.Site)
	}
	if e.Host != "" {
		field("host", e.Host)
	}
	if e.ProcessID != "" {
		field("process_id", e.ProcessID)
	}
	for k, v := range e.Extra {
		field(k, v)
	}
	return sb.String()
}

// formatLine renders one raw log line, or returns false when filtered out.
// Lines that are not JSON records are shown as they are.
func formatLine(line string, f logFilter) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}
	var e logEntry
	if err := json.Unmarshal([]byte(line), &e); err != nil {
		return line, true
	}
	if !f.passes(&e) {
		return "", false
	}
	return formatLogEntry(&e), true
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	logPath := filepath.Join(cfg.Logging.LogDir(), logging.LogFileName)

	p := styles.NewPrinter(cmd.OutOrStdout())
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		p.Printf("No log found at %s\n", logPath)
		return nil
	}

	filter, err := newLogFilter()
	if err != nil {
		return err
	}

	if logsFollow {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return followLogs(ctx, p, logPath, filter)
	}
	return displayLogs(p, logPath, logsTail, filter)
}

// displayLogs reads the log file and displays filtered entries
func displayLogs(p *styles.Printer, logPath string, tail int, f logFilter) error {
	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	var entries []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if s, ok := formatLine(scanner.Text(), f); ok {
			entries = append(entries, s)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading log file: %w", err)
	}

	if tail > 0 && len(entries) > tail {
		entries = entries[len(entries)-tail:]
	}
	for _, s := range entries {
		p.Println(s)
	}
	if len(entries) == 0 {
		p.Println("No matching log entries found.")
	}
	return nil
}

// followLogs prints records appended to the log until ctx is done. The
// file is reopened when rotation replaces it.
func followLogs(ctx context.Context, p *styles.Printer, logPath string, f logFilter) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to watch log: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(logPath)); err != nil {
		return fmt.Errorf("failed to watch log: %w", err)
	}

	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}

	p.Printf("Following %s... (Ctrl+C to stop)\n\n", logPath)

	reader := bufio.NewReader(file)
	var partial string
	drain := func() error {
		for {
			chunk, err := reader.ReadString('\n')
			partial += chunk
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("error reading log file: %w", err)
			}
			if s, ok := formatLine(partial, f); ok {
				p.Println(s)
			}
			partial = ""
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watching log: %w", err)
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(logPath) {
				continue
			}
			switch {
			case ev.Has(fsnotify.Write):
				if err := drain(); err != nil {
					return err
				}
			case ev.Has(fsnotify.Create):
				if err := drain(); err != nil {
					return err
				}
				next, err := os.Open(logPath)
				if err != nil {
					return fmt.Errorf("failed to reopen log file: %w", err)
				}
				_ = file.Close()
				file = next
				reader = bufio.NewReader(file)
				partial = ""
				if err := drain(); err != nil {
					return err
				}
			}
		}
	}
}
