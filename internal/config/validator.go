package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "deploy.num_tries")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateProcess()...)
	errors = append(errors, validateConnection("connection", &c.Connection)...)
	errors = append(errors, validateConnection("frontend", &c.Frontend)...)
	errors = append(errors, c.validateDeploy()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateProcess() []ValidationError {
	var errors []ValidationError

	if c.Process.KillTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "process.kill_timeout",
			Value:   c.Process.KillTimeout,
			Message: "must be positive",
		})
	}
	if c.Process.CompactOutputThreshold < 0 {
		errors = append(errors, ValidationError{
			Field:   "process.compact_output_threshold",
			Value:   c.Process.CompactOutputThreshold,
			Message: "must not be negative",
		})
	}
	if c.Process.ReadChunkSize <= 0 {
		errors = append(errors, ValidationError{
			Field:   "process.read_chunk_size",
			Value:   c.Process.ReadChunkSize,
			Message: "must be positive",
		})
	}

	return errors
}

func validateConnection(section string, c *ConnectionConfig) []ValidationError {
	var errors []ValidationError

	if c.SSH == "" {
		errors = append(errors, ValidationError{
			Field:   section + ".ssh",
			Value:   c.SSH,
			Message: "must not be empty",
		})
	}
	if c.Port < 0 || c.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   section + ".port",
			Value:   c.Port,
			Message: "must be between 0 and 65535",
		})
	}

	return errors
}

func (c *Config) validateDeploy() []ValidationError {
	var errors []ValidationError
	d := &c.Deploy

	if d.Command == "" {
		errors = append(errors, ValidationError{
			Field:   "deploy.command",
			Value:   d.Command,
			Message: "must not be empty",
		})
	}
	if d.DefaultEnvName != "" && d.DefaultEnvFile != "" {
		errors = append(errors, ValidationError{
			Field:   "deploy.default_env_file",
			Value:   d.DefaultEnvFile,
			Message: "cannot be set together with deploy.default_env_name",
		})
	}
	if d.Timeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "deploy.timeout",
			Value:   d.Timeout,
			Message: "must not be negative",
		})
	}
	if d.CheckTimeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "deploy.check_timeout",
			Value:   d.CheckTimeout,
			Message: "must not be negative",
		})
	}
	if d.NumTries < 1 {
		errors = append(errors, ValidationError{
			Field:   "deploy.num_tries",
			Value:   d.NumTries,
			Message: "must be at least 1",
		})
	}
	if d.Domain == "" {
		errors = append(errors, ValidationError{
			Field:   "deploy.domain",
			Value:   d.Domain,
			Message: "must not be empty",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must not be negative",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must not be negative",
		})
	}

	return errors
}
