package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

// -----------------------------------------------------------------------------
// Severity Tests
// -----------------------------------------------------------------------------

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// ProcessError Tests
// -----------------------------------------------------------------------------

func TestProcessError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ProcessError
		want string
	}{
		{
			name: "no context",
			err:  NewProcessError("write failed", nil),
			want: "process error: write failed",
		},
		{
			name: "with process id",
			err:  NewProcessError("write failed", nil).WithProcessID("p1"),
			want: "process error [process=p1]: write failed",
		},
		{
			name: "with process id, host and cause",
			err:  NewProcessError("write failed", ErrNotStarted).WithProcessID("p1").WithHost("node-1"),
			want: "process error [process=p1, host=node-1]: write failed: process not started",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProcessError_Is(t *testing.T) {
	err := NewProcessError("wait failed", ErrNotStarted)

	if !errors.Is(err, ErrNotStarted) {
		t.Error("errors.Is(err, ErrNotStarted) = false, want true")
	}
	if !errors.Is(err, &ProcessError{}) {
		t.Error("errors.Is(err, &ProcessError{}) = false, want true")
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("errors.Is(err, ErrTimeout) = true, want false")
	}
	if !err.WithRetryable(true).IsRetryable() {
		t.Error("IsRetryable() = false after WithRetryable(true)")
	}
}

// -----------------------------------------------------------------------------
// DeployError and SiteError Tests
// -----------------------------------------------------------------------------

func TestDeployError_Error(t *testing.T) {
	err := NewDeployError("result does not match request", ErrInconsistentResult).
		WithSite("lyon").
		WithHosts([]string{"a", "b"})

	want := "deploy error [site=lyon, hosts=a b]: result does not match request: inconsistent deployment result"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrInconsistentResult) {
		t.Error("errors.Is(err, ErrInconsistentResult) = false, want true")
	}
	if err.Severity() != SeverityError {
		t.Errorf("Severity() = %v, want SeverityError", err.Severity())
	}
}

func TestSiteError(t *testing.T) {
	err := NewSiteError("cannot partition hosts", nil).WithHost("a.b.c.d")

	if got, want := err.Error(), "site error [host=a.b.c.d]: cannot partition hosts"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrUnknownSite) {
		t.Error("SiteError should match ErrUnknownSite")
	}

	wrapped := fmt.Errorf("deploy: %w", err)
	var siteErr *SiteError
	if !errors.As(wrapped, &siteErr) {
		t.Fatal("errors.As failed to find SiteError")
	}
	if siteErr.Host != "a.b.c.d" {
		t.Errorf("Host = %q, want %q", siteErr.Host, "a.b.c.d")
	}
}

// -----------------------------------------------------------------------------
// Semantic Error Tests
// -----------------------------------------------------------------------------

func TestNotFoundError(t *testing.T) {
	tests := []struct {
		name string
		err  *NotFoundError
		want string
	}{
		{"without id", NewNotFoundError("hosts file", ""), "hosts file not found"},
		{"with id", NewNotFoundError("hosts file", "/tmp/nodes"), "hosts file not found: /tmp/nodes"},
		{
			"with cause",
			NewNotFoundError("hosts file", "/tmp/nodes").WithCause(New("no such file")),
			"hosts file not found: /tmp/nodes: no such file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("must be positive").WithField("num_tries").WithValue(0)

	if got, want := err.Error(), "validation error [field=num_tries, value=0]: must be positive"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("ValidationError should match ErrInvalidInput")
	}
	if err.Severity() != SeverityWarning {
		t.Errorf("Severity() = %v, want %v", err.Severity(), SeverityWarning)
	}
}

func TestTimeoutError(t *testing.T) {
	err := NewTimeoutError("waiting for tunnel", 30*time.Second)

	if got, want := err.Error(), "timeout error: waiting for tunnel (timeout: 30s)"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Error("TimeoutError should match ErrTimeout")
	}
	if !IsRetryable(err) {
		t.Error("IsRetryable(TimeoutError) = false, want true")
	}
}

// -----------------------------------------------------------------------------
// Classification Tests
// -----------------------------------------------------------------------------

func TestClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		retryable  bool
		userFacing bool
		severity   Severity
		domain     bool
	}{
		{"nil", nil, false, false, SeverityDebug, false},
		{"plain", New("boom"), false, false, SeverityError, false},
		{"bare timeout sentinel", ErrTimeout, true, false, SeverityError, false},
		{"process error", NewProcessError("x", nil), false, true, SeverityError, true},
		{"wrapped site error", Wrap(NewSiteError("x", nil), "ctx"), false, true, SeverityError, true},
		{"validation", NewValidationError("x"), false, true, SeverityWarning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
			if got := IsUserFacing(tt.err); got != tt.userFacing {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.userFacing)
			}
			if got := GetSeverity(tt.err); got != tt.severity {
				t.Errorf("GetSeverity() = %v, want %v", got, tt.severity)
			}
			if got := IsDomainError(tt.err); got != tt.domain {
				t.Errorf("IsDomainError() = %v, want %v", got, tt.domain)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if Wrapf(nil, "ctx %d", 1) != nil {
		t.Error("Wrapf(nil) should be nil")
	}

	err := Wrapf(ErrNoEnvironment, "site %s", "lyon")
	if got, want := err.Error(), "site lyon: no environment given and no default configured"; got != want {
		t.Errorf("Wrapf() = %q, want %q", got, want)
	}
	if !Is(err, ErrNoEnvironment) {
		t.Error("wrapped error should match sentinel")
	}
}
