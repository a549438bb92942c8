package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/convoy/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify convoy configuration",
	Long: `View or modify convoy configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  convoy config set deploy.num_tries 3
  convoy config set deploy.local_site lyon
  convoy config set connection.user root
  convoy config set process.kill_timeout 10s

Run 'convoy config show' to see every key and its current value.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/convoy/config.yaml with the common options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

type keyKind int

const (
	kindString keyKind = iota
	kindBool
	kindInt
	kindDuration
)

// settableKeys lists the keys accepted by config set. List valued keys
// (ssh_options, taktuk_options) are edited in the file directly.
var settableKeys = map[string]keyKind{
	"process.kill_timeout":             kindDuration,
	"process.compact_output_threshold": kindInt,
	"process.read_chunk_size":          kindInt,

	"deploy.command":                   kindString,
	"deploy.options":                   kindString,
	"deploy.default_env_name":          kindString,
	"deploy.default_env_file":          kindString,
	"deploy.timeout":                   kindDuration,
	"deploy.check_command":             kindString,
	"deploy.check_timeout":             kindDuration,
	"deploy.num_tries":                 kindInt,
	"deploy.no_ssh_for_local_frontend": kindBool,
	"deploy.domain":                    kindString,
	"deploy.local_site":                kindString,
	"deploy.job_id_env":                kindString,
	"deploy.job_id_flag":               kindString,
	"deploy.key_file_env":              kindString,
	"deploy.key_file_flag":             kindString,

	"logging.enabled":     kindBool,
	"logging.level":       kindString,
	"logging.dir":         kindString,
	"logging.max_size_mb": kindInt,
	"logging.max_backups": kindInt,
	"logging.compress":    kindBool,
}

func init() {
	for _, section := range []string{"connection", "frontend"} {
		settableKeys[section+".user"] = kindString
		settableKeys[section+".keyfile"] = kindString
		settableKeys[section+".port"] = kindInt
		settableKeys[section+".ssh"] = kindString
		settableKeys[section+".taktuk"] = kindString
		settableKeys[section+".taktuk_connector"] = kindString
		settableKeys[section+".pty"] = kindBool
		settableKeys[section+".host_suffix"] = kindString
	}
}

func settableKeyNames() []string {
	keys := make([]string, 0, len(settableKeys))
	for k := range settableKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// parseConfigValue converts value to the type stored under key.
func parseConfigValue(key, value string) (any, error) {
	kind, ok := settableKeys[key]
	if !ok {
		return nil, fmt.Errorf("unknown configuration key: %s\nValid keys: %s", key, strings.Join(settableKeyNames(), ", "))
	}

	switch kind {
	case kindBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return b, nil
	case kindInt:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if n < 0 {
			return nil, fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		return n, nil
	case kindDuration:
		d, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected a duration such as 30s", key)
		}
		return d.String(), nil
	default:
		return value, nil
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Config file: %s\n\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Config file: (none - using defaults)\n\n")
	}

	settings := viper.AllSettings()
	// Flag-only keys are not configuration.
	delete(settings, "config")
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	_, err = out.Write(data)
	return err
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	typed, err := parseConfigValue(key, value)
	if err != nil {
		return err
	}

	viper.Set(key, typed)
	if _, err := config.Load(); err != nil {
		return fmt.Errorf("refusing to save: %w", err)
	}

	configDir := config.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		configFile = config.ConfigFile()
	}
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\nConfig saved to %s\n", key, typed, configFile)
	return nil
}

const configTemplate = `# convoy configuration

# Process supervision
process:
  # Delay between SIGTERM and SIGKILL on graceful termination
  kill_timeout: 5s
  # Output longer than this is shortened in log messages
  compact_output_threshold: 4096

# How remote commands reach hosts
connection:
  # user: root
  # keyfile: ~/.ssh/id_ed25519
  ssh: ssh
  taktuk: taktuk
  taktuk_connector: ssh
  # Options of the fan-out connector; never force a tty here
  # taktuk_connector_options: ["-o", "BatchMode=yes", "-o", "ConnectTimeout=20"]

# How deployment commands reach site frontends
frontend:
  ssh: ssh

# Cluster deployment
deploy:
  command: kadeploy3
  options: "-k -d"
  # default_env_name: debian11-min
  timeout: 15m
  check_timeout: 30s
  num_tries: 2
  domain: grid5000.fr
  # Site of this machine; found from the hostname when empty
  # local_site: lyon
  # Run the deployment tool directly instead of through ssh for the local site
  no_ssh_for_local_frontend: false

logging:
  enabled: true
  level: info
  max_size_mb: 10
  max_backups: 3
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'convoy config set' to modify values", configFile)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Fprintf(out, "  2. $HOME/.config/convoy/config.yaml\n")
	fmt.Fprintf(out, "  3. ./config.yaml (current directory)\n")
	fmt.Fprintln(out, "\nEnvironment variables: CONVOY_* (e.g., CONVOY_DEPLOY_NUM_TRIES)")
	return nil
}
