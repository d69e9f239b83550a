package domain

import "time"

// ProgressSnapshot is a point-in-time aggregate view of a run. It is
// recomputed on demand and safe to hand to external observers.
type ProgressSnapshot struct {
	Total           int                `json:"total"`
	Counts          map[TaskStatus]int `json:"counts"`
	Stages          map[Stage]int      `json:"stages"`
	PercentComplete float64            `json:"percent_complete"`
	Elapsed         time.Duration      `json:"elapsed"`

	// ETA is advisory only, never used for control decisions.
	ETA time.Duration `json:"eta"`
}

// Done reports whether every task reached a terminal status.
func (s ProgressSnapshot) Done() bool {
	done := 0
	for status, n := range s.Counts {
		if status.Terminal() {
			done += n
		}
	}
	return done == s.Total
}
