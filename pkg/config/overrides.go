package config

import (
	"fmt"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/Keeeeeeeks/opencode-dashboard/pkg/models"
)

// OverridesFile is the optional alert-rules.yaml shape: an operator can
// override/extend the seeded default AlertRule table and the sleep
// window without recompiling.
type OverridesFile struct {
	Rules         []AlertRuleOverride   `yaml:"rules"`
	SleepSchedule *models.SleepSchedule `yaml:"sleep_schedule,omitempty"`
}

// AlertRuleOverride patches or adds one row of the AlertRule table, keyed
// by (Trigger, PriorityFilter).
type AlertRuleOverride struct {
	Trigger        models.Trigger        `yaml:"trigger"`
	PriorityFilter models.PriorityFilter `yaml:"priority_filter"`
	DelayMS        int64                 `yaml:"delay_ms"`
	Channel        models.Channel        `yaml:"channel"`
	Enabled        bool                  `yaml:"enabled"`
}

// LoadOverridesFile reads path, if present. A missing file is not an
// error — the seeded defaults stand alone.
func LoadOverridesFile(path string) (*OverridesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &OverridesFile{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var f OverridesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return &f, nil
}

// MergeAlertRules overlays overrides onto builtin by (Trigger,
// PriorityFilter) key: an override matching an existing key patches that
// rule in place, mergo.WithOverride style (tarsy's pkg/config/loader.go
// merges QueueConfig the same way); an override with no matching key is
// appended as a new rule. Because mergo.WithOverride skips zero-valued
// source fields, an override's enabled:false, delay_ms:0 or empty channel
// leaves the existing rule's value in place: an override cannot disable an
// existing rule or set its delay to 0.
func MergeAlertRules(builtin []models.AlertRule, overrides []AlertRuleOverride) ([]models.AlertRule, error) {
	type key struct {
		trigger models.Trigger
		filter  models.PriorityFilter
	}

	merged := make([]models.AlertRule, len(builtin))
	copy(merged, builtin)

	index := make(map[key]int, len(merged))
	for i, r := range merged {
		index[key{r.Trigger, r.PriorityFilter}] = i
	}

	for _, ov := range overrides {
		k := key{ov.Trigger, ov.PriorityFilter}
		patch := models.AlertRule{DelayMS: ov.DelayMS, Channel: ov.Channel, Enabled: ov.Enabled}

		if i, ok := index[k]; ok {
			if err := mergo.Merge(&merged[i], patch, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("merge alert rule override %s/%s: %w", ov.Trigger, ov.PriorityFilter, err)
			}
			continue
		}

		index[k] = len(merged)
		merged = append(merged, models.AlertRule{
			Trigger:        ov.Trigger,
			PriorityFilter: ov.PriorityFilter,
			DelayMS:        ov.DelayMS,
			Channel:        ov.Channel,
			Enabled:        ov.Enabled,
		})
	}

	return merged, nil
}

// MergeSleepSchedule overlays an optional override onto the built-in
// sleep window default, the same mergo.WithOverride pattern as
// MergeAlertRules.
func MergeSleepSchedule(builtin models.SleepSchedule, override *models.SleepSchedule) (models.SleepSchedule, error) {
	if override == nil {
		return builtin, nil
	}
	merged := builtin
	if err := mergo.Merge(&merged, *override, mergo.WithOverride); err != nil {
		return models.SleepSchedule{}, fmt.Errorf("merge sleep schedule override: %w", err)
	}
	return merged, nil
}
