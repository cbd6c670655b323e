package config_test

import (
	"testing"

	"github.com/voicepane/voicepane/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := config.Defaults()
	d := config.Diff(&cfg, &cfg)
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if d.VideoChanged {
		t.Error("expected VideoChanged=false for identical configs")
	}
	if d.QueryChanged {
		t.Error("expected QueryChanged=false for identical configs")
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := config.Defaults()
	old.LogLevel = config.LogInfo
	newCfg := old
	newCfg.LogLevel = config.LogDebug

	d := config.Diff(&old, &newCfg)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel = %q, want %q", d.NewLogLevel, config.LogDebug)
	}
}

func TestDiff_BlockedAppsChanged(t *testing.T) {
	t.Parallel()
	old := config.Defaults()
	old.Video.BlockedApps = []string{"1password"}
	newCfg := old
	newCfg.Video.BlockedApps = []string{"1password", "signal"}

	d := config.Diff(&old, &newCfg)
	if !d.VideoChanged {
		t.Error("expected VideoChanged=true")
	}
	if len(d.BlockedAppsDiff) != 2 {
		t.Errorf("BlockedAppsDiff = %v, want 2 entries", d.BlockedAppsDiff)
	}
}

func TestDiff_BlockedAppsReorderedIsNotAChange(t *testing.T) {
	t.Parallel()
	old := config.Defaults()
	old.Video.BlockedApps = []string{"a", "b"}
	newCfg := old
	newCfg.Video.BlockedApps = []string{"b", "a"}

	d := config.Diff(&old, &newCfg)
	if d.VideoChanged {
		t.Error("expected VideoChanged=false for reordered-but-equal set")
	}
}

func TestDiff_ScheduleChanged(t *testing.T) {
	t.Parallel()
	old := config.Defaults()
	old.Video.Schedule = "24/7"
	newCfg := old
	newCfg.Video.Schedule = "weekdays-9-5"

	d := config.Diff(&old, &newCfg)
	if !d.VideoChanged || !d.ScheduleChanged {
		t.Error("expected VideoChanged=true and ScheduleChanged=true")
	}
	if d.NewSchedule != "weekdays-9-5" {
		t.Errorf("NewSchedule = %q, want %q", d.NewSchedule, "weekdays-9-5")
	}
}

func TestDiff_StealthChanged(t *testing.T) {
	t.Parallel()
	old := config.Defaults()
	old.Video.Stealth = true
	newCfg := old
	newCfg.Video.Stealth = false

	d := config.Diff(&old, &newCfg)
	if !d.VideoChanged || !d.StealthChanged {
		t.Error("expected VideoChanged=true and StealthChanged=true")
	}
	if d.NewStealth != false {
		t.Error("expected NewStealth=false")
	}
}

func TestDiff_QueryLimitsChanged(t *testing.T) {
	t.Parallel()
	old := config.Defaults()
	newCfg := old
	newCfg.Query.RatePerMinute = 120

	d := config.Diff(&old, &newCfg)
	if !d.QueryChanged {
		t.Error("expected QueryChanged=true")
	}
	if d.NewQuery.RatePerMinute != 120 {
		t.Errorf("NewQuery.RatePerMinute = %d, want 120", d.NewQuery.RatePerMinute)
	}
}

func TestDiff_AudioSegmentSecondsIsNotHotReloadable(t *testing.T) {
	t.Parallel()
	// Audio segment length requires restarting the capture daemon; Diff
	// must not report it as a change since no hot-reload path consumes it.
	old := config.Defaults()
	newCfg := old
	newCfg.Audio.SegmentSeconds = 600

	d := config.Diff(&old, &newCfg)
	if d.VideoChanged || d.QueryChanged || d.LogLevelChanged {
		t.Error("expected no reloadable-field changes for an audio-only edit")
	}
}
