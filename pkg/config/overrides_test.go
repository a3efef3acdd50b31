package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Keeeeeeeks/opencode-dashboard/pkg/models"
)

func TestLoadOverridesFile_MissingFileReturnsEmpty(t *testing.T) {
	f, err := LoadOverridesFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Empty(t, f.Rules)
	require.Nil(t, f.SleepSchedule)
}

func TestLoadOverridesFile_ParsesRulesAndSleepSchedule(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alert-rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - trigger: blocked
    priority_filter: low
    delay_ms: 120000
    channel: push
    enabled: true
sleep_schedule:
  start_hour: 22
  end_hour: 7
  timezone: America/New_York
  enabled: true
`), 0o644))

	f, err := LoadOverridesFile(path)
	require.NoError(t, err)
	require.Len(t, f.Rules, 1)
	require.Equal(t, models.TriggerBlocked, f.Rules[0].Trigger)
	require.Equal(t, int64(120000), f.Rules[0].DelayMS)
	require.NotNil(t, f.SleepSchedule)
	require.Equal(t, 22, f.SleepSchedule.StartHour)
	require.Equal(t, "America/New_York", f.SleepSchedule.Timezone)
}

func TestMergeAlertRules_PatchesExistingRuleByKey(t *testing.T) {
	builtin := []models.AlertRule{
		{Trigger: models.TriggerBlocked, PriorityFilter: models.PriorityFilterLow, DelayMS: 3_600_000, Channel: models.ChannelInApp, Enabled: true},
	}
	overrides := []AlertRuleOverride{
		{Trigger: models.TriggerBlocked, PriorityFilter: models.PriorityFilterLow, DelayMS: 60_000, Channel: models.ChannelPush, Enabled: true},
	}

	merged, err := MergeAlertRules(builtin, overrides)
	require.NoError(t, err)
	require.Len(t, merged, 1)
	require.Equal(t, int64(60_000), merged[0].DelayMS)
	require.Equal(t, models.ChannelPush, merged[0].Channel)
}

func TestMergeAlertRules_AppendsUnmatchedOverride(t *testing.T) {
	builtin := []models.AlertRule{
		{Trigger: models.TriggerBlocked, PriorityFilter: models.PriorityFilterHigh, DelayMS: 0, Channel: models.ChannelBoth, Enabled: true},
	}
	overrides := []AlertRuleOverride{
		{Trigger: models.TriggerStaleTask, PriorityFilter: models.PriorityFilterAll, DelayMS: 7_200_000, Channel: models.ChannelPush, Enabled: true},
	}

	merged, err := MergeAlertRules(builtin, overrides)
	require.NoError(t, err)
	require.Len(t, merged, 2)
	require.Equal(t, models.TriggerStaleTask, merged[1].Trigger)
}

func TestMergeSleepSchedule_NilOverrideKeepsBuiltin(t *testing.T) {
	builtin := models.SleepSchedule{StartHour: 0, EndHour: 0, Timezone: "UTC", Enabled: false}
	merged, err := MergeSleepSchedule(builtin, nil)
	require.NoError(t, err)
	require.Equal(t, builtin, merged)
}

func TestMergeSleepSchedule_OverrideAppliesFields(t *testing.T) {
	builtin := models.SleepSchedule{StartHour: 0, EndHour: 0, Timezone: "UTC", Enabled: false}
	override := &models.SleepSchedule{StartHour: 22, EndHour: 7, Timezone: "America/New_York", Enabled: true}

	merged, err := MergeSleepSchedule(builtin, override)
	require.NoError(t, err)
	require.Equal(t, 22, merged.StartHour)
	require.Equal(t, 7, merged.EndHour)
	require.Equal(t, "America/New_York", merged.Timezone)
	require.True(t, merged.Enabled)
}
