package quota

import "time"

// Window is a UTC calendar day. Counters reset at day boundaries regardless
// of when a principal's first request arrived.
type Window struct {
	Start time.Time
}

func CurrentWindow(now time.Time) Window {
	return Window{Start: now.UTC().Truncate(24 * time.Hour)}
}

// Key identifies the window in counter storage.
func (w Window) Key() string {
	return w.Start.Format("2006-01-02")
}

func (w Window) ResetAt() time.Time {
	return w.Start.Add(24 * time.Hour)
}

func (w Window) UntilReset(now time.Time) time.Duration {
	return w.ResetAt().Sub(now.UTC())
}
