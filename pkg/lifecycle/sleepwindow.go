package lifecycle

import (
	"fmt"
	"sync"
	"time"

	"github.com/Keeeeeeeks/opencode-dashboard/pkg/models"
)

// sleepWindow holds the Lifecycle Manager's sleep-schedule config (spec
// §4.6.6), guarded independently of the per-agent locks since it is read
// by every CompleteTask call regardless of which agent it's for.
type sleepWindow struct {
	mu        sync.RWMutex
	startHour int
	endHour   int
	loc       *time.Location
	enabled   bool
}

// Configure replaces the active sleep schedule. An invalid IANA timezone
// falls back to UTC rather than failing the whole settings write. EndHour
// may reach 24 (exclusive upper bound), so {start:0, end:24} expresses a
// full-day, always-sleep window (spec §8 scenario 4).
func (m *Manager) Configure(cfg models.SleepSchedule) error {
	if cfg.StartHour < 0 || cfg.StartHour > 23 || cfg.EndHour < 0 || cfg.EndHour > 24 {
		return fmt.Errorf("sleep schedule start_hour must be in [0,23] and end_hour in [0,24], got start=%d end=%d", cfg.StartHour, cfg.EndHour)
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}
	m.sleep.mu.Lock()
	defer m.sleep.mu.Unlock()
	m.sleep.startHour = cfg.StartHour
	m.sleep.endHour = cfg.EndHour
	m.sleep.loc = loc
	m.sleep.enabled = cfg.Enabled
	return nil
}

// Current returns the active sleep-schedule config.
func (m *Manager) Current() models.SleepSchedule {
	m.sleep.mu.RLock()
	defer m.sleep.mu.RUnlock()
	tz := "UTC"
	if m.sleep.loc != nil {
		tz = m.sleep.loc.String()
	}
	return models.SleepSchedule{
		StartHour: m.sleep.startHour,
		EndHour:   m.sleep.endHour,
		Timezone:  tz,
		Enabled:   m.sleep.enabled,
	}
}

// isInWindow evaluates at, converted to the configured timezone, against
// the half-open [startHour, endHour) range, wrapping midnight when
// startHour >= endHour (spec §4.6.6, e.g. 22→6 matches {22,...,23,0,...,5}).
// endHour may be 24, which never excludes an hour — {start:0, end:24} is
// therefore a full-day, always-true window (spec §8 scenario 4).
func (s *sleepWindow) isInWindow(at time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.enabled {
		return false
	}
	loc := s.loc
	if loc == nil {
		loc = time.UTC
	}
	hour := at.In(loc).Hour()
	if s.startHour < s.endHour {
		return hour >= s.startHour && hour < s.endHour
	}
	return hour >= s.startHour || hour < s.endHour
}
