package process

import "time"

// Stats summarizes a group of processes.
type Stats struct {
	Processes   int
	Started     int
	Ended       int
	Errors      int
	Timeouts    int
	ForcedKills int
	NonZero     int
	Ok          int
	FinishedOk  int
	// StartTime is the earliest start, EndTime the latest end.
	StartTime time.Time
	EndTime   time.Time
}

// Collect computes Stats over ps.
func Collect(ps ...*Process) Stats {
	var s Stats
	for _, p := range ps {
		r := p.snapshot()
		s.Processes++
		if r.started {
			s.Started++
			if s.StartTime.IsZero() || r.startTime.Before(s.StartTime) {
				s.StartTime = r.startTime
			}
		}
		if r.ended {
			s.Ended++
			if r.endTime.After(s.EndTime) {
				s.EndTime = r.endTime
			}
		}
		if r.err != nil {
			s.Errors++
		}
		if r.timeouted {
			s.Timeouts++
		}
		if r.forcedKill {
			s.ForcedKills++
		}
		if r.ended && r.exitCode != 0 {
			s.NonZero++
		}
		if r.ok() {
			s.Ok++
		}
		if r.started && r.ended && r.ok() {
			s.FinishedOk++
		}
	}
	return s
}

// AllOk reports whether every process of s is ok.
func (s Stats) AllOk() bool { return s.Ok == s.Processes }

// Duration is the span between the first start and the last end.
func (s Stats) Duration() time.Duration {
	if s.StartTime.IsZero() || s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}
