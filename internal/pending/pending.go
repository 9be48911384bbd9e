// Package pending decides item eligibility. It is pure: callers gather
// the evidence (registry state plus log-derived history) and Check
// answers from that alone, so the policy is trivially testable.
package pending

import "time"

// Input is everything the policy looks at for one item.
type Input struct {
	Now time.Time

	// MinWait is the minimum gap since the last dataset log entry.
	MinWait time.Duration

	// DailyCap is the effective per-day cap (0 = uncapped).
	DailyCap int

	// LastCalled is zero when the item has never been invoked.
	LastCalled time.Time
	Dismissals int

	// CalledToday is the 05:00-boundary "called today" determination.
	CalledToday bool

	// DatasetExists reports whether the item's effective dataset has
	// ever been written (the internal success log, for dataset-less
	// items).
	DatasetExists bool
	// LastLog is the most recent effective-dataset entry time (posted
	// time or the last row's embedded datestamp, per the item's lookup
	// mode). Zero when nothing has been written.
	LastLog time.Time

	// EntriesToday counts today's dataset rows; SuccessesToday counts
	// today's successes (dataset rows, or internal success-log records
	// for dataset-less items).
	EntriesToday   int
	SuccessesToday int
}

// Decision is the policy verdict plus the first failing reason, for logs.
type Decision struct {
	Pending bool
	Reason  string
}

// Check applies the four eligibility conjuncts. Missing data always
// favors eligibility: an item with no history is pending.
func Check(in Input) Decision {
	// 1. Not recently logged.
	if in.DatasetExists && !in.LastLog.IsZero() {
		if in.Now.Sub(in.LastLog) < in.MinWait {
			return Decision{Reason: "logged within min wait"}
		}
	}

	// 2. Not already satisfied today.
	satisfied := in.CalledToday &&
		in.DatasetExists &&
		in.DailyCap > 0 &&
		in.EntriesToday >= in.DailyCap
	if satisfied {
		return Decision{Reason: "daily cap reached"}
	}

	// 3. Dismissal backoff: each dismissal adds an hour of cooldown
	// since the last call.
	if in.Dismissals > 0 && !in.LastCalled.IsZero() {
		cooldown := time.Duration(in.Dismissals) * time.Hour
		if in.Now.Sub(in.LastCalled) < cooldown {
			return Decision{Reason: "dismissal cooldown"}
		}
	}

	// 4. Success cap.
	if in.DailyCap > 0 && in.SuccessesToday >= in.DailyCap {
		return Decision{Reason: "success cap reached"}
	}

	return Decision{Pending: true}
}
