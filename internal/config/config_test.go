package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/pkg/types"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "monitor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestDefaultTargetWindowWiderThanSubject(t *testing.T) {
	cfg := Default()
	target := cfg.Categories[cfg.Sessions.TargetPresent.Category]
	subject := cfg.Categories[cfg.Sessions.SubjectAbsent.Category]
	assert.Greater(t, target.InterpolationWindow, subject.InterpolationWindow)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
model:
  iou_threshold: 0.5
categories:
  cat:
    confidence_threshold: 0.6
    interpolation_window: 4s
sessions:
  target_present:
    category: cat
    alert_threshold: 10s
    alert_cooldown: 1m
    clear_stable_window: 2500ms
driver:
  interval: 250ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.5, cfg.Model.IoUThreshold)
	assert.Equal(t, 640, cfg.Model.InputWidth, "unset fields keep defaults")
	assert.Equal(t, 4*time.Second, cfg.Categories["cat"].InterpolationWindow)
	assert.Equal(t, 0.45, cfg.Categories["person"].ConfidenceThreshold)
	assert.Equal(t, 2500*time.Millisecond, cfg.Sessions.TargetPresent.ClearStableWindow)
	assert.Equal(t, time.Minute, cfg.Sessions.TargetPresent.AlertCooldown)
	assert.Equal(t, 250*time.Millisecond, cfg.Driver.Interval)

	k, ok := cfg.Sessions.Kind(types.KindSubjectAbsent)
	require.True(t, ok)
	assert.Equal(t, "person", k.Category)
}

func TestLoadRejectsOutOfRange(t *testing.T) {
	path := writeConfig(t, `
model:
  iou_threshold: 1.5
categories:
  cat:
    confidence_threshold: -0.1
    interpolation_window: 0s
`)

	_, err := Load(path)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "model.iou_threshold")
	assert.Contains(t, msg, "categories.cat.confidence_threshold")
	assert.Contains(t, msg, "categories.cat.interpolation_window")
}

func TestValidateUnknownCategory(t *testing.T) {
	cfg := Default()
	cfg.Sessions.SubjectAbsent.Category = "owl"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `sessions.subject_absent.category "owl"`)

	cfg = Default()
	cfg.Categories["owl"] = CategoryConfig{ConfidenceThreshold: 0.5, InterpolationWindow: time.Second}
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "categories.owl is not a model class")
}

func TestValidateModel(t *testing.T) {
	cfg := Default()
	cfg.Model.Classes = []string{"cat", "cat"}
	cfg.Model.InputWidth = 0
	cfg.Driver.Interval = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"cat" twice`)
	assert.Contains(t, err.Error(), "model input size")
	assert.Contains(t, err.Error(), "driver.interval")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "model: [unclosed"))
	assert.Error(t, err)
}

func TestBuilders(t *testing.T) {
	cfg := Default()

	dec := cfg.Decoder()
	assert.Equal(t, cfg.Model.Classes, dec.Classes)
	assert.Equal(t, 0.45, dec.IoUThreshold)
	dec.Classes[0] = "changed"
	assert.Equal(t, "person", cfg.Model.Classes[0], "decoder owns its class list")

	mon := cfg.Monitor()
	assert.Equal(t, "cat", mon.TargetCategory)
	assert.Equal(t, "person", mon.SubjectCategory)
	assert.Equal(t, 3*time.Second, mon.Categories["cat"].Window)
	assert.Equal(t, 0.45, mon.Categories["person"].Threshold)
	assert.Equal(t, 10*time.Minute, mon.TargetPresent.AlertThreshold)
	assert.Equal(t, time.Second, mon.SubjectAbsent.ClearStableWindow)

	assert.Equal(t, 500*time.Millisecond, cfg.Polling().Interval)
}

func TestShippedConfigMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "monitor.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
