package model

import "time"

// Watermark is the persisted upper bound of the completion window already
// processed. LastEndTime is monotonically non-decreasing across successful
// runs; it is only rewound by an explicit reset.
type Watermark struct {
	LastEndTime time.Time `json:"last_end_time"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Window is a half-open completion query interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// WindowTimeLayout is the second-precision format windows are rendered with
// in upstream query templates.
const WindowTimeLayout = "2006-01-02 15:04:05"
