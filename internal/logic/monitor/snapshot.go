package monitor

import (
	"time"

	"github.com/SteveTheBeaver/GardenMonitor/internal/logic/indicator"
)

// ReadingView is the last valid reading as shown on the status page.
type ReadingView struct {
	TemperatureF float64   `json:"temperature_f"`
	HumidityPct  float64   `json:"humidity_pct"`
	At           time.Time `json:"at"`
}

// CaptureView describes the last stored image.
type CaptureView struct {
	Name string    `json:"name"`
	Path string    `json:"path"`
	At   time.Time `json:"at"`
}

// Snapshot is an immutable copy of the controller state for readers on
// other goroutines.
type Snapshot struct {
	State       string           `json:"state"`
	Reading     *ReadingView     `json:"reading,omitempty"`
	Signal      indicator.Signal `json:"signal"`
	LastCapture *CaptureView     `json:"last_capture,omitempty"`
	Cycles      uint64           `json:"cycles"`
	LastError   string           `json:"last_error,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Snapshot returns the state published at the end of the last cycle.
func (c *Controller) Snapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

func (c *Controller) publish(update func(*Snapshot)) {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	update(&c.snap)
	c.snap.State = c.state.String()
	c.snap.Signal = c.panel.Current()
	c.snap.UpdatedAt = c.now()
}
