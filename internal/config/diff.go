package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VideoChanged is true if any privacy-relevant video setting changed
	// (blocked apps, capture schedule, or stealth mode). These are the
	// only video fields safe to hot-reload; SegmentSeconds and device
	// selection require restarting the capture daemon.
	VideoChanged     bool
	BlockedAppsDiff  []string // apps added or removed, for logging
	ScheduleChanged  bool
	NewSchedule      string
	StealthChanged   bool
	NewStealth       bool

	// QueryChanged is true if any query-service setting changed. queryd
	// reapplies only RatePerMinute and ComplexityPerMinute (via the rate
	// limiter's UpdateConfig); the planner's settings are fixed when it is
	// constructed.
	QueryChanged bool
	NewQuery     QueryConfig
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}

	if diffStringSlices(old.Video.BlockedApps, new.Video.BlockedApps) {
		d.VideoChanged = true
		d.BlockedAppsDiff = new.Video.BlockedApps
	}
	if old.Video.Schedule != new.Video.Schedule {
		d.VideoChanged = true
		d.ScheduleChanged = true
		d.NewSchedule = new.Video.Schedule
	}
	if old.Video.Stealth != new.Video.Stealth {
		d.VideoChanged = true
		d.StealthChanged = true
		d.NewStealth = new.Video.Stealth
	}

	if old.Query != new.Query {
		d.QueryChanged = true
		d.NewQuery = new.Query
	}

	return d
}

// diffStringSlices reports whether two string slices contain different sets
// of elements, ignoring order.
func diffStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return true
	}
	counts := make(map[string]int, len(a))
	for _, s := range a {
		counts[s]++
	}
	for _, s := range b {
		counts[s]--
	}
	for _, c := range counts {
		if c != 0 {
			return true
		}
	}
	return false
}
