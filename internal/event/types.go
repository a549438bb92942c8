package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a "category.action" identifier, e.g. "process.ended".
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// Event type identifiers
const (
	TypeProcessStarted     = "process.started"
	TypeProcessEnded       = "process.ended"
	TypeSiteDeployed       = "deploy.site_finished"
	TypeIterationCompleted = "reconcile.iteration"
)

// -----------------------------------------------------------------------------
// Process Lifecycle Events
// -----------------------------------------------------------------------------

// ProcessStartedEvent is emitted once a supervised process is running.
type ProcessStartedEvent struct {
	baseEvent
	ProcessID string
	Host      string // empty for local processes
	Command   string
	PID       int // zero for externally driven processes
}

// NewProcessStartedEvent creates a ProcessStartedEvent.
func NewProcessStartedEvent(processID, host, command string, pid int) ProcessStartedEvent {
	return ProcessStartedEvent{
		baseEvent: newBaseEvent(TypeProcessStarted),
		ProcessID: processID,
		Host:      host,
		Command:   command,
		PID:       pid,
	}
}

// ProcessEndedEvent is emitted after a supervised process terminated and
// its resources were released.
type ProcessEndedEvent struct {
	baseEvent
	ProcessID string
	Host      string
	ExitCode  int
	OK        bool
	Timeouted bool
	Duration  time.Duration
}

// NewProcessEndedEvent creates a ProcessEndedEvent.
func NewProcessEndedEvent(processID, host string, exitCode int, ok, timeouted bool, d time.Duration) ProcessEndedEvent {
	return ProcessEndedEvent{
		baseEvent: newBaseEvent(TypeProcessEnded),
		ProcessID: processID,
		Host:      host,
		ExitCode:  exitCode,
		OK:        ok,
		Timeouted: timeouted,
		Duration:  d,
	}
}

// -----------------------------------------------------------------------------
// Deployment Events
// -----------------------------------------------------------------------------

// SiteDeployedEvent is emitted when the deployment command of one site ends.
type SiteDeployedEvent struct {
	baseEvent
	Site     string
	Deployed int
	Failed   int
}

// NewSiteDeployedEvent creates a SiteDeployedEvent.
func NewSiteDeployedEvent(site string, deployed, failed int) SiteDeployedEvent {
	return SiteDeployedEvent{
		baseEvent: newBaseEvent(TypeSiteDeployed),
		Site:      site,
		Deployed:  deployed,
		Failed:    failed,
	}
}

// IterationCompletedEvent is emitted after each reconciliation iteration.
type IterationCompletedEvent struct {
	baseEvent
	Iteration  int
	Deployed   int
	Undeployed int
}

// NewIterationCompletedEvent creates an IterationCompletedEvent.
func NewIterationCompletedEvent(iteration, deployed, undeployed int) IterationCompletedEvent {
	return IterationCompletedEvent{
		baseEvent:  newBaseEvent(TypeIterationCompleted),
		Iteration:  iteration,
		Deployed:   deployed,
		Undeployed: undeployed,
	}
}
