package config

import (
	"reflect"
	"sort"
)

// changedSections names the top-level sections that differ between two
// configs, for the reload log line. Secrets never appear here; only
// section names do.
func changedSections(oldCfg, newCfg *Config) []string {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var changed []string
	add := func(name string, differs bool) {
		if differs {
			changed = append(changed, name)
		}
	}

	add("cache_dir", oldCfg.CacheDir != newCfg.CacheDir)
	add("logging", oldCfg.Logging != newCfg.Logging)
	add("idle", oldCfg.Idle != newCfg.Idle)
	add("scheduler", oldCfg.Scheduler != newCfg.Scheduler)
	add("snapshot", oldCfg.Snapshot != newCfg.Snapshot)
	add("history", !reflect.DeepEqual(oldCfg.History, newCfg.History))
	add("prompt", !reflect.DeepEqual(oldCfg.Prompt, newCfg.Prompt))
	add("items", !reflect.DeepEqual(oldCfg.Items, newCfg.Items))

	sort.Strings(changed)
	return changed
}

// ChangedItems names items whose tuning differs, plus items added or
// removed (which only take effect after a restart).
func ChangedItems(oldCfg, newCfg *Config) []string {
	oldByFN := make(map[string]ItemConfig)
	if oldCfg != nil {
		for _, it := range oldCfg.Items {
			oldByFN[it.FN] = it
		}
	}
	newByFN := make(map[string]ItemConfig)
	if newCfg != nil {
		for _, it := range newCfg.Items {
			newByFN[it.FN] = it
		}
	}

	set := make(map[string]struct{})
	for fn, it := range newByFN {
		if old, ok := oldByFN[fn]; !ok || old != it {
			set[fn] = struct{}{}
		}
	}
	for fn := range oldByFN {
		if _, ok := newByFN[fn]; !ok {
			set[fn] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for fn := range set {
		out = append(out, fn)
	}
	sort.Strings(out)
	return out
}
