package worker

import "time"

// SleepParams holds one worker's idle-backoff state. It is never shared
// between workers, so no locking is needed.
type SleepParams struct {
	// Current sleep period, applied after an empty poll.
	Current time.Duration
	// Min is the value Current resets to when work reappears.
	Min time.Duration
	// Max caps Current; once reached, Current stops growing.
	Max time.Duration
	// Step is added to Current on every empty poll.
	Step time.Duration
}

// DefaultSleepParams mirrors the stock configuration: 5s start, +5s per
// empty poll, capped at 15s.
func DefaultSleepParams() SleepParams {
	return SleepParams{
		Current: 5 * time.Second,
		Min:     5 * time.Second,
		Max:     15 * time.Second,
		Step:    5 * time.Second,
	}
}

// MaybeIncrease grows Current by Step, capped at Max. Called once per
// empty poll.
func (p *SleepParams) MaybeIncrease() {
	if p.Current < p.Max {
		p.Current += p.Step
		if p.Current > p.Max {
			p.Current = p.Max
		}
	}
}

// MaybeReset drops Current back to Min. Called whenever a task was claimed.
func (p *SleepParams) MaybeReset() {
	if p.Current != p.Min {
		p.Current = p.Min
	}
}
