package config

import (
	"fmt"
	"strings"
)

// Validate checks structural soundness: parseable durations, known
// enum values, unique item ids. It does not touch the filesystem.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.CacheDir) == "" {
		return fmt.Errorf("cache_dir is required")
	}

	durations := []struct{ path, raw string }{
		{"idle.short_threshold", c.Idle.ShortThreshold},
		{"idle.long_idle", c.Idle.LongIdle},
		{"idle.present_poll", c.Idle.PresentPoll},
		{"idle.idle_poll", c.Idle.IdlePoll},
		{"scheduler.excursion_watchdog", c.Scheduler.ExcursionWatchdog},
		{"snapshot.interval", c.Snapshot.Interval},
	}
	if c.History != nil {
		durations = append(durations,
			struct{ path, raw string }{"history.busy_timeout", c.History.BusyTimeout},
			struct{ path, raw string }{"history.retention", c.History.Retention},
		)
	}
	if c.Prompt.Telegram != nil {
		durations = append(durations,
			struct{ path, raw string }{"prompt.telegram.poll_timeout", c.Prompt.Telegram.PollTimeout})
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	switch c.Prompt.Transport {
	case "", "console":
	case "telegram":
		if c.Prompt.Telegram == nil || strings.TrimSpace(c.Prompt.Telegram.Token) == "" {
			return fmt.Errorf("prompt.telegram.token is required for the telegram transport")
		}
		if c.Prompt.Telegram.OwnerID == 0 {
			return fmt.Errorf("prompt.telegram.owner_id is required for the telegram transport")
		}
	default:
		return fmt.Errorf("prompt.transport: unknown transport %q", c.Prompt.Transport)
	}

	seen := make(map[string]struct{}, len(c.Items))
	for i, it := range c.Items {
		if strings.TrimSpace(it.FN) == "" {
			return fmt.Errorf("items[%d]: fn is required", i)
		}
		if _, dup := seen[it.FN]; dup {
			return fmt.Errorf("items[%d]: duplicate fn %q", i, it.FN)
		}
		seen[it.FN] = struct{}{}
		switch it.Kind {
		case "", "query", "excursion":
		default:
			return fmt.Errorf("items[%d]: unknown kind %q", i, it.Kind)
		}
		if it.MinHoursWait < 0 {
			return fmt.Errorf("items[%d]: min_hours_wait must be >= 0", i)
		}
	}
	return nil
}
