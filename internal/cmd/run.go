package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	convoyerrors "github.com/Iron-Ham/convoy/internal/errors"
	"github.com/Iron-Ham/convoy/internal/fanout"
	"github.com/Iron-Ham/convoy/internal/output"
	"github.com/Iron-Ham/convoy/internal/process"
	"github.com/Iron-Ham/convoy/internal/progress"
	"github.com/Iron-Ham/convoy/internal/styles"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] -- command [args...]",
	Short: "Run a command locally or on many hosts",
	Long: `Run a command on this machine, or on every given host in parallel.

A single argument is run through the shell; several arguments are run as
an argument vector. Output lines are prefixed with their host.

Examples:
  # Run locally with a timeout
  convoy run --timeout 10s -- make test

  # Run on two hosts through ssh
  convoy run -H node-1 -H root@node-2:2222 -- 'uptime; df -h /'

  # Run on every host of a file through the fan-out tool
  convoy run -f nodes.txt --fanout -- hostname`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

var (
	runHosts    []string
	runHostFile string
	runExclude  []string
	runTimeout  time.Duration
	runPTY      bool
	runFanout   bool
	runQuiet    bool
	runNoTrunc  bool
	runProgress bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringArrayVarP(&runHosts, "host", "H", nil, "Target host ([user@]address[:port]); repeatable")
	runCmd.Flags().StringVarP(&runHostFile, "hosts-file", "f", "", "File with one target host per line")
	runCmd.Flags().StringArrayVar(&runExclude, "exclude", nil, "Glob pattern of hosts to skip; repeatable")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Timeout of each command (0 for none)")
	runCmd.Flags().BoolVar(&runPTY, "pty", false, "Run on a pseudo terminal")
	runCmd.Flags().BoolVar(&runFanout, "fanout", false, "Reach hosts through the fan-out tool instead of one ssh per host")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Only print the summary")
	runCmd.Flags().BoolVar(&runNoTrunc, "no-truncate", false, "Do not cut output lines at the terminal width")
	runCmd.Flags().BoolVar(&runProgress, "progress", false, "Show a live per-host view instead of output lines (terminals only)")
}

func commandFromArgs(args []string) process.Command {
	if len(args) == 1 {
		return process.Shell(args[0])
	}
	return process.Argv(args...)
}

func runRun(cmd *cobra.Command, args []string) error {
	hosts, err := targets(runHosts, runHostFile, runExclude)
	if err != nil {
		return err
	}
	if (len(runHosts) > 0 || runHostFile != "") && len(hosts) == 0 {
		return fmt.Errorf("no hosts left to run on")
	}

	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer := styles.NewPrinter(os.Stdout)
	opts := rt.processOptions()
	opts.Timeout = runTimeout
	opts.PTY = runPTY
	// Labels are filled in before any process starts and only read after.
	labels := make(map[string]string)
	live := runProgress && printer.Color()
	if !runQuiet && !live {
		width := 0
		if printer.Color() && !runNoTrunc {
			width = styles.TerminalWidth(os.Stdout.Fd(), 0)
		}
		var mu sync.Mutex
		opts.Stdout = []output.Sink{output.Lines(prefixer(printer, &mu, labels, "", width))}
		opts.Stderr = []output.Sink{output.Lines(prefixer(printer, &mu, labels, "!", width))}
	}

	command := commandFromArgs(args)
	var view *progress.Display
	if live {
		view = progress.Start(rt.events, command.Line(), os.Stdout)
		defer view.Stop()
	}
	var procs []*process.Process
	switch {
	case len(hosts) == 0:
		procs = []*process.Process{process.New(rt.sup, command, process.Local{}, opts)}
		label(labels, procs)
		err = runAll(ctx, procs)
	case runFanout:
		var run *fanout.Run
		run, err = fanout.New(rt.sup, command, hosts, fanout.Options{
			Params:  rt.connection(),
			Process: opts,
			Logger:  rt.logger,
		})
		if err != nil {
			return err
		}
		procs = run.Processes()
		label(labels, procs)
		err = run.Run(ctx)
		if err != nil {
			run.Kill()
			_ = run.Wait(context.Background())
		}
	default:
		params := rt.connection()
		for _, h := range hosts {
			procs = append(procs, process.New(rt.sup, command, process.Remote{Host: h, Params: params}, opts))
		}
		label(labels, procs)
		err = runAll(ctx, procs)
	}
	if err != nil {
		return err
	}

	if view != nil {
		view.Stop()
	}
	printSummary(printer, procs)
	return failureError(procs)
}

// failureError reports failed processes. It is retryable when every
// failure was.
func failureError(procs []*process.Process) error {
	stats := process.Collect(procs...)
	if stats.AllOk() {
		return nil
	}
	retryable := true
	for _, p := range procs {
		if !p.Ok() && !convoyerrors.IsRetryable(p.Err()) {
			retryable = false
		}
	}
	msg := fmt.Sprintf("%d of %d processes failed", stats.Processes-stats.Ok, stats.Processes)
	return convoyerrors.NewProcessError(msg, nil).WithRetryable(retryable)
}

// runAll runs procs in parallel. When ctx ends, the processes are stopped
// gracefully and waited for.
func runAll(ctx context.Context, procs []*process.Process) error {
	var wg conc.WaitGroup
	for _, p := range procs {
		wg.Go(func() {
			if err := p.Run(ctx); err != nil && ctx.Err() != nil {
				p.Kill(syscall.SIGTERM, process.GracefulKill)
				_ = p.Wait(context.Background())
			}
		})
	}
	wg.Wait()
	return ctx.Err()
}

func hostName(p *process.Process) string {
	if h := p.Host(); h != "" {
		return h
	}
	return "local"
}

func label(labels map[string]string, procs []*process.Process) {
	for _, p := range procs {
		labels[p.ID()] = hostName(p)
	}
}

// prefixer prints each line with the host of its process, cut to width
// columns when width is positive.
func prefixer(p *styles.Printer, mu *sync.Mutex, labels map[string]string, mark string, width int) output.LineFunc {
	return func(l output.Line) {
		if l.Text == "" {
			return
		}
		line := styles.HostLabel.Render(labels[l.Source]+mark) + " " + strings.TrimRight(l.Text, "\n")
		if width > 0 {
			line = styles.TruncateANSI(line, width)
		}
		mu.Lock()
		defer mu.Unlock()
		p.Println(line)
	}
}

func printSummary(p *styles.Printer, procs []*process.Process) {
	p.Println("")
	for _, proc := range procs {
		p.Printf("%s %s %s\n", statusBadge(proc), hostName(proc), styles.Muted.Render(describe(proc)))
	}

	stats := process.Collect(procs...)
	p.Println(styles.Title.Render(fmt.Sprintf("%d ok, %d failed, %d timeouts in %s",
		stats.Ok, stats.Processes-stats.Ok, stats.Timeouts, stats.Duration().Round(time.Millisecond))))
}

func statusBadge(p *process.Process) string {
	switch {
	case !p.Ended():
		return styles.Badge("PENDING", styles.StatePending)
	case p.Timeouted():
		return styles.Badge("TIMEOUT", styles.StateTimeout)
	case p.Ok():
		return styles.Badge("OK", styles.StateOk)
	default:
		return styles.Badge("FAILED", styles.StateFailed)
	}
}

func describe(p *process.Process) string {
	switch {
	case p.Err() != nil:
		return p.Err().Error()
	case p.ExitSignal() != 0:
		return fmt.Sprintf("killed by %s", p.ExitSignal())
	default:
		return fmt.Sprintf("exit %d", p.ExitCode())
	}
}
