package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/convoy/internal/forward"
	"github.com/Iron-Ham/convoy/internal/host"
	"github.com/Iron-Ham/convoy/internal/styles"
)

var forwardCmd = &cobra.Command{
	Use:   "forward",
	Short: "Forward a local port to a service reachable from a host",
	Long: `Open an ssh local port forwarding through a host and keep it open until
interrupted.

Examples:
  # Reach a node's web service through the site frontend
  convoy forward -H frontend.lyon --remote taurus-1.lyon:8080

  # Choose the local port
  convoy forward -H frontend.lyon --remote taurus-1.lyon:8080 --local-port 18080`,
	Args: cobra.NoArgs,
	RunE: runForward,
}

var (
	forwardHost      string
	forwardRemote    string
	forwardLocalPort int
	forwardBind      string
	forwardWait      time.Duration
)

func init() {
	rootCmd.AddCommand(forwardCmd)

	forwardCmd.Flags().StringVarP(&forwardHost, "host", "H", "", "Host the ssh connection goes to ([user@]host[:port])")
	forwardCmd.Flags().StringVar(&forwardRemote, "remote", "", "Service to reach from the host, as host:port")
	forwardCmd.Flags().IntVar(&forwardLocalPort, "local-port", 0, "Local port (default: a free port)")
	forwardCmd.Flags().StringVar(&forwardBind, "bind", forward.DefaultBindAddress, "Local address to listen on")
	forwardCmd.Flags().DurationVar(&forwardWait, "wait", 30*time.Second, "How long to wait for the forwarding to listen")
	_ = forwardCmd.MarkFlagRequired("host")
	_ = forwardCmd.MarkFlagRequired("remote")
}

func parseHostPort(s string) (string, int, error) {
	h, p, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, fmt.Errorf("invalid remote %q: %w", s, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid remote port %q", p)
	}
	if h == "" {
		return "", 0, fmt.Errorf("invalid remote %q: missing host", s)
	}
	return h, port, nil
}

func runForward(cmd *cobra.Command, args []string) error {
	h, err := host.Parse(forwardHost)
	if err != nil {
		return err
	}
	remoteHost, remotePort, err := parseHostPort(forwardRemote)
	if err != nil {
		return err
	}

	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	fwd, err := forward.New(rt.sup, forward.Options{
		Host:        h,
		Params:      rt.connection(),
		RemoteHost:  remoteHost,
		RemotePort:  remotePort,
		LocalPort:   forwardLocalPort,
		BindAddress: forwardBind,
		Logger:      rt.logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := fwd.Start(); err != nil {
		return err
	}
	defer func() { _ = fwd.Close(context.Background()) }()

	readyCtx, cancel := context.WithTimeout(ctx, forwardWait)
	err = fwd.WaitReady(readyCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("forwarding to %s did not come up: %w", forwardRemote, err)
	}

	p := styles.NewPrinter(os.Stdout)
	p.Printf("%s %s -> %s via %s\n",
		styles.Success.Render("listening"), fwd.Address(), forwardRemote, h.String())

	if err := fwd.Process().Wait(ctx); err != nil {
		// interrupted
		return nil
	}
	return fmt.Errorf("forwarding ended: %s", describe(fwd.Process()))
}
