// Package errors provides centralized error definitions and error handling utilities
// for convoy. It defines domain-specific errors, semantic error types, error
// constructors with context wrapping, and error classification helpers.
//
// # Error Types
//
// Domain-specific errors represent errors from specific subsystems:
//   - ProcessError: a supervised command could not be driven
//   - DeployError: a deployment run could not be prepared or aggregated
//   - SiteError: a host address does not follow any known site naming
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or state
//   - TimeoutError: operation timed out
//
// Failures of a supervised command itself (non-zero exit, timeout, launch
// failure) are not errors: they are recorded on the process and inspected
// through its Ok and FinishedOk predicates.
//
// # Usage
//
//	err := errors.NewSiteError("unknown site for host", errors.ErrUnknownSite).WithHost("a.b.c.d")
//	if errors.Is(err, errors.ErrUnknownSite) { ... }
//
//	var siteErr *errors.SiteError
//	if errors.As(err, &siteErr) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions so callers can import only this package.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Process-related sentinel errors
var (
	// ErrNotStarted is returned when waiting on a process that was never started.
	ErrNotStarted = New("process not started")
	// ErrAlreadyStarted is returned when an externally driven process is started twice.
	ErrAlreadyStarted = New("process already started")
	// ErrSupervisorClosed is returned when work is submitted to a closed supervisor.
	ErrSupervisorClosed = New("supervisor closed")
)

// Deployment-related sentinel errors
var (
	// ErrNoEnvironment indicates that no environment was given and no default is configured.
	ErrNoEnvironment = New("no environment given and no default configured")
	// ErrConflictingEnvironment indicates that both an environment name and file were set.
	ErrConflictingEnvironment = New("environment name and file are mutually exclusive")
	// ErrUnknownSite indicates that a host address matches no site naming convention.
	ErrUnknownSite = New("unknown site for host")
	// ErrInconsistentResult indicates that good and bad host sets do not partition the request.
	ErrInconsistentResult = New("inconsistent deployment result")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// ConvoyError is the base interface for all convoy errors.
type ConvoyError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the operation may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the message is safe to display to users.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error {
	return e.cause
}

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Severity() Severity {
	return e.severity
}

func (e *baseError) IsRetryable() bool {
	return e.retryable
}

func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// format renders "<kind> [k=v, ...]: message: cause".
func (e *baseError) format(kind string, parts []string) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// ProcessError represents a failure to drive a supervised process.
//
// Example:
//
//	err := errors.NewProcessError("failed to write stdin", cause).WithProcessID("3f2a").WithHost("node-1")
//	fmt.Println(err) // "process error [process=3f2a, host=node-1]: failed to write stdin: ..."
type ProcessError struct {
	baseError
	ProcessID string
	Host      string
}

// NewProcessError creates a new ProcessError.
func NewProcessError(message string, cause error) *ProcessError {
	return &ProcessError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
	}
}

// WithProcessID adds a process ID to the error context.
func (e *ProcessError) WithProcessID(id string) *ProcessError {
	e.ProcessID = id
	return e
}

// WithHost adds the target host to the error context.
func (e *ProcessError) WithHost(host string) *ProcessError {
	e.Host = host
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *ProcessError) WithRetryable(r bool) *ProcessError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *ProcessError) Error() string {
	var parts []string
	if e.ProcessID != "" {
		parts = append(parts, fmt.Sprintf("process=%s", e.ProcessID))
	}
	if e.Host != "" {
		parts = append(parts, fmt.Sprintf("host=%s", e.Host))
	}
	return e.format("process error", parts)
}

// Is checks if this error matches the target.
func (e *ProcessError) Is(target error) bool {
	if _, ok := target.(*ProcessError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// DeployError represents a deployment run that could not be prepared or
// whose results could not be trusted.
type DeployError struct {
	baseError
	Site  string
	Hosts []string
}

// NewDeployError creates a new DeployError.
func NewDeployError(message string, cause error) *DeployError {
	return &DeployError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
	}
}

// WithSite adds the site to the error context.
func (e *DeployError) WithSite(site string) *DeployError {
	e.Site = site
	return e
}

// WithHosts adds the hosts involved to the error context.
func (e *DeployError) WithHosts(hosts []string) *DeployError {
	e.Hosts = hosts
	return e
}

// Error returns the formatted error message.
func (e *DeployError) Error() string {
	var parts []string
	if e.Site != "" {
		parts = append(parts, fmt.Sprintf("site=%s", e.Site))
	}
	if len(e.Hosts) > 0 {
		parts = append(parts, fmt.Sprintf("hosts=%s", strings.Join(e.Hosts, " ")))
	}
	return e.format("deploy error", parts)
}

// Is checks if this error matches the target.
func (e *DeployError) Is(target error) bool {
	if _, ok := target.(*DeployError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// SiteError is returned when a host cannot be attributed to a site. It is
// the one failure reported before anything is launched.
type SiteError struct {
	baseError
	Host string
}

// NewSiteError creates a new SiteError.
func NewSiteError(message string, cause error) *SiteError {
	return &SiteError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
	}
}

// WithHost adds the offending host to the error context.
func (e *SiteError) WithHost(host string) *SiteError {
	e.Host = host
	return e
}

// Error returns the formatted error message.
func (e *SiteError) Error() string {
	var parts []string
	if e.Host != "" {
		parts = append(parts, fmt.Sprintf("host=%s", e.Host))
	}
	return e.format("site error", parts)
}

// Is checks if this error matches the target.
func (e *SiteError) Is(target error) bool {
	if _, ok := target.(*SiteError); ok {
		return true
	}
	if errors.Is(target, ErrUnknownSite) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("hosts file", "/tmp/nodes")
//	fmt.Println(err) // "hosts file not found: /tmp/nodes"
type NotFoundError struct {
	baseError
	Resource string
	ID       string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s not found", resource),
			severity:   SeverityWarning,
			userFacing: true,
		},
		Resource: resource,
		ID:       id,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("%s not found", e.Resource)
	if e.ID != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.ID)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("at least one host is required").WithField("hosts")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return e.format("validation error", parts)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("waiting for tunnel", 30*time.Second)
//	fmt.Println(err) // "timeout error: waiting for tunnel (timeout: 30s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var convoyErr ConvoyError
	if As(err, &convoyErr) {
		return convoyErr.IsRetryable()
	}

	return Is(err, ErrTimeout)
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var convoyErr ConvoyError
	if As(err, &convoyErr) {
		return convoyErr.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement ConvoyError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var convoyErr ConvoyError
	if As(err, &convoyErr) {
		return convoyErr.Severity()
	}
	return SeverityError
}

// IsDomainError returns true if the error is a ProcessError, DeployError or SiteError.
func IsDomainError(err error) bool {
	if err == nil {
		return false
	}

	var processErr *ProcessError
	var deployErr *DeployError
	var siteErr *SiteError

	return As(err, &processErr) || As(err, &deployErr) || As(err, &siteErr)
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
