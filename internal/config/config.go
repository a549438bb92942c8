package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all convoy configuration
type Config struct {
	Process    ProcessConfig    `mapstructure:"process"`
	Connection ConnectionConfig `mapstructure:"connection"`
	Frontend   ConnectionConfig `mapstructure:"frontend"`
	Deploy     DeployConfig     `mapstructure:"deploy"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ProcessConfig controls supervised process behavior
type ProcessConfig struct {
	// KillTimeout is the grace window between the graceful stop signal and
	// the forced kill when escalation is requested (default: 5s)
	KillTimeout time.Duration `mapstructure:"kill_timeout"`
	// CompactOutputThreshold bounds output dumps included in log records,
	// in bytes; 0 disables compaction (default: 4096)
	CompactOutputThreshold int `mapstructure:"compact_output_threshold"`
	// ReadChunkSize is the maximum number of bytes read from a stream in one
	// go by the supervisor (default: 32767)
	ReadChunkSize int `mapstructure:"read_chunk_size"`
}

// ConnectionConfig describes how remote commands are reached. It is used
// both for target nodes (connection) and for site frontends (frontend).
type ConnectionConfig struct {
	// User is the remote login; empty uses the ssh default
	User string `mapstructure:"user"`
	// Keyfile is an identity file passed with -i
	Keyfile string `mapstructure:"keyfile"`
	// Port is the remote port; 0 uses the ssh default
	Port int `mapstructure:"port"`
	// SSH is the remote shell program (default: ssh)
	SSH string `mapstructure:"ssh"`
	// SSHOptions are passed to the remote shell before the target address
	SSHOptions []string `mapstructure:"ssh_options"`
	// Taktuk is the fan-out program (default: taktuk)
	Taktuk string `mapstructure:"taktuk"`
	// TaktukOptions are passed to the fan-out program
	TaktukOptions []string `mapstructure:"taktuk_options"`
	// TaktukConnector is the connector the fan-out program uses (default: ssh)
	TaktukConnector string `mapstructure:"taktuk_connector"`
	// TaktukConnectorOptions are passed to the connector; no -tt, the
	// fan-out program speaks its own protocol over the connector's stdio
	TaktukConnectorOptions []string `mapstructure:"taktuk_connector_options"`
	// PTY allocates a pseudo terminal for the local end of remote commands
	PTY bool `mapstructure:"pty"`
	// HostSuffix is appended to target addresses, e.g. ".g5k"
	HostSuffix string `mapstructure:"host_suffix"`
}

// DeployConfig controls the deployment orchestrator and reconciliation loop
type DeployConfig struct {
	// Command is the deployment tool (default: kadeploy3)
	Command string `mapstructure:"command"`
	// Options is passed verbatim after the command (default: "-k -d")
	Options string `mapstructure:"options"`
	// DefaultEnvName is used when a request names no environment
	DefaultEnvName string `mapstructure:"default_env_name"`
	// DefaultEnvFile is used when a request names no environment
	DefaultEnvFile string `mapstructure:"default_env_file"`
	// Timeout bounds each deployment command (default: 15m)
	Timeout time.Duration `mapstructure:"timeout"`
	// CheckCommand is run on nodes to decide whether they are deployed;
	// empty disables probing
	CheckCommand string `mapstructure:"check_command"`
	// CheckTimeout bounds each probe (default: 30s)
	CheckTimeout time.Duration `mapstructure:"check_timeout"`
	// NumTries is the number of deployment attempts (default: 2)
	NumTries int `mapstructure:"num_tries"`
	// NoSSHForLocalFrontend runs the local site's deployment on this
	// machine instead of through ssh
	NoSSHForLocalFrontend bool `mapstructure:"no_ssh_for_local_frontend"`
	// Domain is the suffix of fully qualified node names (default: grid5000.fr)
	Domain string `mapstructure:"domain"`
	// LocalSite is the site of bare host names; empty derives it from the
	// local hostname
	LocalSite string `mapstructure:"local_site"`
	// JobIDEnv names the environment variable holding the job id
	JobIDEnv string `mapstructure:"job_id_env"`
	// JobIDFlag is the flag used to forward the job id
	JobIDFlag string `mapstructure:"job_id_flag"`
	// KeyFileEnv names the environment variable holding the credential file
	KeyFileEnv string `mapstructure:"key_file_env"`
	// KeyFileFlag is the flag used to forward the credential file
	KeyFileFlag string `mapstructure:"key_file_flag"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	// Enabled writes logs to Dir; disabled logs warnings to stderr only
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is the log directory; empty uses the config directory
	Dir string `mapstructure:"dir"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated log files
	Compress bool `mapstructure:"compress"`
}

// DefaultSSHOptions are the transport options used for every remote command:
// batch mode, no interactive prompts, no host key checks, bounded connect.
func DefaultSSHOptions() []string {
	return []string{
		"-tt",
		"-o", "BatchMode=yes",
		"-o", "PasswordAuthentication=no",
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "ConnectTimeout=20",
	}
}

// DefaultTaktukConnectorOptions are DefaultSSHOptions without the forced tty.
func DefaultTaktukConnectorOptions() []string {
	return []string{
		"-o", "BatchMode=yes",
		"-o", "PasswordAuthentication=no",
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "ConnectTimeout=20",
	}
}

// DefaultCheckCommand succeeds on a node booted from its deployed
// environment rather than from the default system partition.
const DefaultCheckCommand = "! (mount | grep -E '^/dev/[[:alpha:]]+2 on / ')"

func defaultConnection() ConnectionConfig {
	return ConnectionConfig{
		SSH:             "ssh",
		SSHOptions:      DefaultSSHOptions(),
		Taktuk:          "taktuk",
		TaktukOptions:   []string{"-s"},
		TaktukConnector: "ssh",

		TaktukConnectorOptions: DefaultTaktukConnectorOptions(),
	}
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Process: ProcessConfig{
			KillTimeout:            5 * time.Second,
			CompactOutputThreshold: 4096,
			ReadChunkSize:          32767,
		},
		Connection: defaultConnection(),
		Frontend:   defaultConnection(),
		Deploy: DeployConfig{
			Command:      "kadeploy3",
			Options:      "-k -d",
			Timeout:      900 * time.Second,
			CheckCommand: DefaultCheckCommand,
			CheckTimeout: 30 * time.Second,
			NumTries:     2,
			Domain:       "grid5000.fr",
			JobIDEnv:     "OAR_JOB_ID",
			JobIDFlag:    "--job-id",
			KeyFileEnv:   "OAR_JOB_KEY_FILE",
			KeyFileFlag:  "-k",
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("process.kill_timeout", defaults.Process.KillTimeout)
	viper.SetDefault("process.compact_output_threshold", defaults.Process.CompactOutputThreshold)
	viper.SetDefault("process.read_chunk_size", defaults.Process.ReadChunkSize)

	for _, section := range []string{"connection", "frontend"} {
		c := defaultConnection()
		viper.SetDefault(section+".user", c.User)
		viper.SetDefault(section+".keyfile", c.Keyfile)
		viper.SetDefault(section+".port", c.Port)
		viper.SetDefault(section+".ssh", c.SSH)
		viper.SetDefault(section+".ssh_options", c.SSHOptions)
		viper.SetDefault(section+".taktuk", c.Taktuk)
		viper.SetDefault(section+".taktuk_options", c.TaktukOptions)
		viper.SetDefault(section+".taktuk_connector", c.TaktukConnector)
		viper.SetDefault(section+".taktuk_connector_options", c.TaktukConnectorOptions)
		viper.SetDefault(section+".pty", c.PTY)
		viper.SetDefault(section+".host_suffix", c.HostSuffix)
	}

	viper.SetDefault("deploy.command", defaults.Deploy.Command)
	viper.SetDefault("deploy.options", defaults.Deploy.Options)
	viper.SetDefault("deploy.default_env_name", defaults.Deploy.DefaultEnvName)
	viper.SetDefault("deploy.default_env_file", defaults.Deploy.DefaultEnvFile)
	viper.SetDefault("deploy.timeout", defaults.Deploy.Timeout)
	viper.SetDefault("deploy.check_command", defaults.Deploy.CheckCommand)
	viper.SetDefault("deploy.check_timeout", defaults.Deploy.CheckTimeout)
	viper.SetDefault("deploy.num_tries", defaults.Deploy.NumTries)
	viper.SetDefault("deploy.no_ssh_for_local_frontend", defaults.Deploy.NoSSHForLocalFrontend)
	viper.SetDefault("deploy.domain", defaults.Deploy.Domain)
	viper.SetDefault("deploy.local_site", defaults.Deploy.LocalSite)
	viper.SetDefault("deploy.job_id_env", defaults.Deploy.JobIDEnv)
	viper.SetDefault("deploy.job_id_flag", defaults.Deploy.JobIDFlag)
	viper.SetDefault("deploy.key_file_env", defaults.Deploy.KeyFileEnv)
	viper.SetDefault("deploy.key_file_flag", defaults.Deploy.KeyFileFlag)

	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from viper and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults when the
// loaded configuration is unusable
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the configuration directory path
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "convoy")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".convoy"
	}
	return filepath.Join(home, ".config", "convoy")
}

// ConfigFile returns the default config file path
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// LogDir returns the directory logs are written to
func (c *LoggingConfig) LogDir() string {
	if c.Dir != "" {
		return c.Dir
	}
	return filepath.Join(ConfigDir(), "logs")
}
