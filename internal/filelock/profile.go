package filelock

import "time"

// Profile tunes retry and staleness behaviour for one class of critical
// section.
type Profile struct {
	Name        string
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	StaleAfter  time.Duration
}

var (
	// Standard guards document rewrites, which may take tens of milliseconds.
	Standard = Profile{
		Name:        "standard",
		MaxAttempts: 10,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    500 * time.Millisecond,
		Multiplier:  2,
		StaleAfter:  10 * time.Second,
	}

	// Light guards sub-millisecond critical sections such as a single
	// append to the event log.
	Light = Profile{
		Name:        "light",
		MaxAttempts: 5,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    100 * time.Millisecond,
		Multiplier:  2,
		StaleAfter:  2 * time.Second,
	}
)

// withDefaults fills zero fields from Standard.
func (p Profile) withDefaults() Profile {
	if p.Name == "" {
		p.Name = "custom"
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = Standard.BaseDelay
	}
	if p.Multiplier <= 0 {
		p.Multiplier = Standard.Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = Standard.MaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.StaleAfter <= 0 {
		p.StaleAfter = Standard.StaleAfter
	}
	return p
}

// nextDelay grows d by the profile multiplier, capped at MaxDelay.
func (p Profile) nextDelay(d time.Duration) time.Duration {
	next := time.Duration(float64(d) * p.Multiplier)
	if next > p.MaxDelay {
		next = p.MaxDelay
	}
	return next
}
