package video

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voicepane/voicepane/internal/config"
)

// PrivacyGate implements the pre-capture privacy checks: a blocklist by
// application identity, an optional time-window schedule, and a kill
// switch. It is consulted before every capture attempt.
//
// The kill switch is intentionally not part of [config.VideoConfig]: it is
// ambient runtime state (an operator toggle, e.g. from a tray icon or
// signal), not persisted policy, so it lives here as an explicit field on
// the gate rather than global state.
type PrivacyGate struct {
	mu         sync.RWMutex
	cfg        config.VideoConfig
	killSwitch atomic.Bool
}

// NewPrivacyGate builds a gate from the current video configuration. Call
// [PrivacyGate.UpdateConfig] when the config hot-reloads (internal/config's
// watcher reports VideoChanged).
func NewPrivacyGate(cfg config.VideoConfig) *PrivacyGate {
	return &PrivacyGate{cfg: cfg}
}

// UpdateConfig swaps in a new video configuration, for hot-reload.
func (g *PrivacyGate) UpdateConfig(cfg config.VideoConfig) {
	g.mu.Lock()
	g.cfg = cfg
	g.mu.Unlock()
}

// SetKillSwitch sets the runtime kill switch. While active, every capture is
// suppressed regardless of schedule or blocklist.
func (g *PrivacyGate) SetKillSwitch(active bool) {
	g.killSwitch.Store(active)
}

// Stealth reports whether the capturer must keep its own windows and UI
// artifacts out of the captured image. Hot-reloadable via UpdateConfig.
func (g *PrivacyGate) Stealth() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg.Stealth
}

// Reason enumerates why a capture was suppressed.
type Reason string

const (
	ReasonKillSwitch    Reason = "kill_switch"
	ReasonBlockedApp    Reason = "blocked_app"
	ReasonOutsideWindow Reason = "outside_schedule_window"
)

// Check reports whether a capture is allowed right now given the current
// foreground application identity. When it returns false, reason explains
// why (suitable for wrapping [errkind.Suppressed]).
func (g *PrivacyGate) Check(now time.Time, foregroundApp string) (allowed bool, reason Reason) {
	if g.killSwitch.Load() {
		return false, ReasonKillSwitch
	}
	g.mu.RLock()
	blockedApps := g.cfg.BlockedApps
	schedule := g.cfg.Schedule
	g.mu.RUnlock()
	for _, blocked := range blockedApps {
		if strings.EqualFold(strings.TrimSpace(blocked), strings.TrimSpace(foregroundApp)) {
			return false, ReasonBlockedApp
		}
	}
	if !scheduleAllows(schedule, now) {
		return false, ReasonOutsideWindow
	}
	return true, ""
}

// scheduleAllows evaluates the free-form schedule expression. Two
// schedules are recognised: "24/7" (always) and "weekdays-9-5" (Mon-Fri,
// 09:00-17:00 local time). An unrecognised schedule fails open to "24/7"
// rather than silently halting capture on a typo.
func scheduleAllows(schedule string, now time.Time) bool {
	switch schedule {
	case "", "24/7":
		return true
	case "weekdays-9-5":
		if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
			return false
		}
		h := now.Hour()
		return h >= 9 && h < 17
	default:
		return true
	}
}
