package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/convoy/internal/deploy"
	"github.com/Iron-Ham/convoy/internal/progress"
	"github.com/Iron-Ham/convoy/internal/reconcile"
	"github.com/Iron-Ham/convoy/internal/styles"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy an environment on cluster nodes, retrying until enough are deployed",
	Long: `Deploy an environment on cluster nodes.

Hosts are grouped by site and each site runs one deployment command, on the
site frontend or on this machine for the local site. Nodes are then probed
with the check command (unless --no-check) and the deployment is retried on
the nodes still undeployed, up to --tries attempts or until the --enough
expression holds.

The --enough expression is Lua; it sees deployed, undeployed and total
(counts) and deployed_hosts and undeployed_hosts (arrays).

Examples:
  # Deploy a registered environment on three nodes
  convoy deploy -m taurus-1.lyon -m taurus-2.lyon -m graphene-3.nancy -e debian11-min

  # Deploy from a description file, stop at 90% and export statistics
  convoy deploy -f nodes.txt -a env.yaml --enough 'deployed >= 0.9 * total' --stats-out stats.json`,
	Args: cobra.NoArgs,
	RunE: runDeploy,
}

var (
	deployHosts    []string
	deployHostFile string
	deployExclude  []string
	deployEnvName  string
	deployEnvFile  string
	deployUser     string
	deployExtra    string
	deployTries    int
	deployCheck    string
	deployNoCheck  bool
	deployEnough   string
	deployStatsOut string
	deployFanout   bool
	deployEcho     bool
	deployProgress bool
)

func init() {
	rootCmd.AddCommand(deployCmd)

	deployCmd.Flags().StringArrayVarP(&deployHosts, "machine", "m", nil, "Node to deploy; repeatable")
	deployCmd.Flags().StringVarP(&deployHostFile, "hosts-file", "f", "", "File with one node per line")
	deployCmd.Flags().StringArrayVar(&deployExclude, "exclude", nil, "Glob pattern of nodes to skip; repeatable")
	deployCmd.Flags().StringVarP(&deployEnvName, "env-name", "e", "", "Registered environment name")
	deployCmd.Flags().StringVarP(&deployEnvFile, "env-file", "a", "", "Environment description file")
	deployCmd.Flags().StringVarP(&deployUser, "user", "u", "", "Deploy on behalf of this user")
	deployCmd.Flags().StringVar(&deployExtra, "options", "", "Extra options for the deployment tool")
	deployCmd.Flags().IntVar(&deployTries, "tries", 0, "Number of deployment attempts (default from config)")
	deployCmd.Flags().StringVar(&deployCheck, "check", "", "Command run on nodes to check they are deployed (default from config)")
	deployCmd.Flags().BoolVar(&deployNoCheck, "no-check", false, "Trust the deployment tool's report instead of checking nodes")
	deployCmd.Flags().StringVar(&deployEnough, "enough", "", "Lua expression deciding when enough nodes are deployed")
	deployCmd.Flags().StringVar(&deployStatsOut, "stats-out", "", "Write iteration statistics to a .yaml, .json or .toml file")
	deployCmd.Flags().BoolVar(&deployFanout, "fanout", false, "Check nodes through the fan-out tool")
	deployCmd.Flags().BoolVar(&deployEcho, "echo", false, "Copy the deployment tool's output to stdout")
	deployCmd.Flags().BoolVar(&deployProgress, "progress", false, "Show live per-site progress (terminals only)")

	deployCmd.MarkFlagsMutuallyExclusive("env-name", "env-file")
	deployCmd.MarkFlagsMutuallyExclusive("check", "no-check")
	deployCmd.MarkFlagsMutuallyExclusive("echo", "progress")
}

func deployEnvironment() deploy.Environment {
	switch {
	case deployEnvName != "":
		return deploy.EnvName(deployEnvName)
	case deployEnvFile != "":
		return deploy.EnvFile(deployEnvFile)
	default:
		return nil
	}
}

func deployCheckPolicy(cmd *cobra.Command) reconcile.CheckPolicy {
	switch {
	case deployNoCheck:
		return reconcile.NoCheck()
	case cmd.Flags().Changed("check"):
		return reconcile.CheckWith(deployCheck)
	default:
		return reconcile.CheckPolicy{}
	}
}

func runDeploy(cmd *cobra.Command, args []string) error {
	hosts, err := targets(deployHosts, deployHostFile, deployExclude)
	if err != nil {
		return err
	}
	if len(hosts) == 0 {
		return fmt.Errorf("no nodes to deploy: use -m or -f")
	}

	var format string
	if deployStatsOut != "" {
		if format, err = reconcile.FormatFromPath(deployStatsOut); err != nil {
			return err
		}
	}

	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	req, err := deploy.NewRequest(addressSet(hosts), deployEnvironment(), deployUser, deployExtra,
		deploy.DefaultsFromConfig(rt.cfg.Deploy))
	if err != nil {
		return err
	}

	sufficient := reconcile.AllDeployed
	if deployEnough != "" {
		script, err := reconcile.CompileScript(deployEnough)
		if err != nil {
			return err
		}
		sufficient = script.Sufficiency(rt.logger)
	}

	dcfg := deploy.ConfigFrom(rt.cfg)
	dcfg.Process.Logger = rt.logger
	dcfg.Process.Events = rt.events
	if deployEcho {
		dcfg.Echo = os.Stdout
	}
	sites := deploy.NewSiteResolver(rt.cfg.Deploy.Domain, rt.cfg.Deploy.LocalSite)
	deployer := deploy.New(rt.sup, sites, dcfg, rt.logger)

	prober := &reconcile.RemoteProber{
		Sched:   rt.sup,
		Params:  rt.connection(),
		Timeout: rt.cfg.Deploy.CheckTimeout,
		Fanout:  deployFanout,
		Logger:  rt.logger,
	}

	tries := rt.cfg.Deploy.NumTries
	if deployTries > 0 {
		tries = deployTries
	}
	loop := reconcile.New(deployer, prober, reconcile.Options{
		NumTries:     tries,
		Check:        deployCheckPolicy(cmd),
		DefaultCheck: rt.cfg.Deploy.CheckCommand,
		Sufficient:   sufficient,
		Logger:       rt.logger,
		Events:       rt.events,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer := styles.NewPrinter(os.Stdout)
	var view *progress.Display
	if deployProgress && printer.Color() {
		view = progress.Start(rt.events, "deploying "+strconv.Itoa(len(hosts))+" nodes", os.Stdout)
		defer view.Stop()
	}

	report, err := loop.Run(ctx, req)
	if view != nil {
		view.Stop()
	}
	if report != nil {
		printer.Print(report.Render())
		if deployStatsOut != "" {
			if werr := writeStats(report, deployStatsOut, format); werr != nil {
				return werr
			}
		}
	}
	return err
}

func writeStats(report *reconcile.Report, path, format string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create statistics file: %w", err)
	}
	if err := report.Export(f, format); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
