package config

// Config is the full daemon configuration. Durations are Go duration
// strings (e.g. "500ms", "10s", "2h").
type Config struct {
	// CacheDir holds the variable log, per-item success logs, datasets
	// with relative paths, and the PID marker.
	CacheDir string `json:"cache_dir"`

	Logging   LoggingConfig   `json:"logging"`
	Idle      IdleConfig      `json:"idle"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Snapshot  SnapshotConfig  `json:"snapshot"`

	// History enables the sqlite run-history store when present.
	History *HistoryConfig `json:"history,omitempty"`

	Prompt PromptConfig `json:"prompt"`

	// Items is the static item set. Adding or removing an item requires
	// a restart; caps and wait windows hot-reload.
	Items []ItemConfig `json:"items"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// IdleConfig tunes the presence state machine.
type IdleConfig struct {
	// ShortThreshold is the probed idle time that flips PRESENT to IDLE.
	ShortThreshold string `json:"short_threshold,omitempty"` // default 600s
	// LongIdle gates whether a return from idle triggers a scheduling
	// pass rather than just a log line.
	LongIdle    string `json:"long_idle,omitempty"`    // default 5400s
	PresentPoll string `json:"present_poll,omitempty"` // default 111s
	IdlePoll    string `json:"idle_poll,omitempty"`    // default 2s

	// Seat is the logind seat to probe on linux.
	Seat string `json:"seat,omitempty"` // default "seat0"

	// FallbackTracker opts in to the activity-tracker probe when no
	// platform probe is available.
	FallbackTracker bool `json:"fallback_tracker,omitempty"`

	// CorrectDetectionLag subtracts the short threshold from reported
	// idle lengths to correct for detection delay.
	CorrectDetectionLag bool `json:"correct_detection_lag,omitempty"`
}

type SchedulerConfig struct {
	// ExcursionWatchdog bounds how long an excursion waits for its
	// auxiliary resources to close.
	ExcursionWatchdog string `json:"excursion_watchdog,omitempty"` // default 300s
	// DisableAfter is the dismissal count that triggers the disable
	// confirmation.
	DisableAfter int `json:"disable_after,omitempty"` // default 3
	// HighPrecision switches posted times to 7-fractional-digit floats.
	HighPrecision bool `json:"high_precision,omitempty"`
}

type SnapshotConfig struct {
	// Interval between periodic state snapshots to the variable log.
	Interval string `json:"interval,omitempty"` // default 5m
}

type HistoryConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	// Retention prunes rows older than this at the daily rollover.
	Retention string `json:"retention,omitempty"`
}

// PromptConfig selects how questions reach the user.
type PromptConfig struct {
	// Transport is "console" or "telegram".
	Transport string                `json:"transport"`
	Telegram  *TelegramPromptConfig `json:"telegram,omitempty"`
}

type TelegramPromptConfig struct {
	Token       string `json:"token"`
	OwnerID     int64  `json:"owner_id"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// ItemConfig declares one registered item. The body is resolved by
// name at startup: "prompt" (the default) asks Text as a question,
// other names bind built-in collectors such as "speedtest".
type ItemConfig struct {
	FN   string `json:"fn"`
	Body string `json:"body,omitempty"`
	// Kind is "query" or "excursion"; default "query".
	Kind string `json:"kind,omitempty"`
	Text string `json:"text,omitempty"`

	MinHoursWait       float64 `json:"min_hours_wait,omitempty"`
	MaxCallsPerDay     int     `json:"max_calls_per_day,omitempty"`
	MaxEntriesPerDay   int     `json:"max_entries_per_day,omitempty"`
	MaxSuccessesPerDay int     `json:"max_successes_per_day,omitempty"`

	// Dataset is the item's TSV log, relative to the cache dir unless
	// absolute. Empty means the item only has an internal success log.
	Dataset          string `json:"dataset,omitempty"`
	LookupPostedTime bool   `json:"lookup_posted_time,omitempty"`
}
