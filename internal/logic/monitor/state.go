package monitor

import "time"

// State is the monitoring mode toggled by the button.
type State int

const (
	Inactive State = iota
	Active
)

// String returns the value published as the monitoring status.
func (s State) String() string {
	if s == Active {
		return "Active"
	}
	return "Inactive"
}

// CaptureTimer limits captures to one per Interval.
type CaptureTimer struct {
	Last     time.Time // zero until the first successful capture
	Interval time.Duration
}

// Due reports whether a capture should be attempted at now.
func (t CaptureTimer) Due(now time.Time) bool {
	return t.Last.IsZero() || now.Sub(t.Last) >= t.Interval
}
