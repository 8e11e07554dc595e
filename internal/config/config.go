// Package config loads and validates the monitor configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/pkg/types"
)

// ModelConfig describes the detector output layout and decode thresholds.
type ModelConfig struct {
	Classes        []string `yaml:"classes"`
	InputWidth     int      `yaml:"input_width"`
	InputHeight    int      `yaml:"input_height"`
	ScoreThreshold float64  `yaml:"score_threshold"`
	IoUThreshold   float64  `yaml:"iou_threshold"`
	MaxDetections  int      `yaml:"max_detections"`
}

// CategoryConfig configures presence debouncing for one category.
type CategoryConfig struct {
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	InterpolationWindow time.Duration `yaml:"interpolation_window"`
}

// KindConfig configures one session kind.
type KindConfig struct {
	Category          string        `yaml:"category"`
	AlertThreshold    time.Duration `yaml:"alert_threshold"`
	AlertCooldown     time.Duration `yaml:"alert_cooldown"`
	ClearStableWindow time.Duration `yaml:"clear_stable_window"`
}

// SessionsConfig holds one KindConfig per monitored kind.
type SessionsConfig struct {
	TargetPresent KindConfig `yaml:"target_present"`
	SubjectAbsent KindConfig `yaml:"subject_absent"`
}

// Kind returns the configuration of kind.
func (s SessionsConfig) Kind(kind types.Kind) (KindConfig, bool) {
	switch kind {
	case types.KindTargetPresent:
		return s.TargetPresent, true
	case types.KindSubjectAbsent:
		return s.SubjectAbsent, true
	default:
		return KindConfig{}, false
	}
}

// DriverConfig configures the polling loop.
type DriverConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// FrameConfig selects the frame source. URL wins over File.
type FrameConfig struct {
	URL     string        `yaml:"url"`
	File    string        `yaml:"file"`
	Timeout time.Duration `yaml:"timeout"`
}

// InferenceConfig points at the model server.
type InferenceConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// ServerConfig configures the HTTP API and event delivery.
type ServerConfig struct {
	HTTPAddr         string   `yaml:"http_addr"`
	EventBuffer      int      `yaml:"event_buffer"`
	JournalDir       string   `yaml:"journal_dir"`
	STUNServers      []string `yaml:"stun_servers"`
	MaxWebRTCClients int      `yaml:"max_webrtc_clients"`
}

// Config is the root configuration.
type Config struct {
	Model      ModelConfig               `yaml:"model"`
	Categories map[string]CategoryConfig `yaml:"categories"`
	Sessions   SessionsConfig            `yaml:"sessions"`
	Driver     DriverConfig              `yaml:"driver"`
	Frame      FrameConfig               `yaml:"frame"`
	Inference  InferenceConfig           `yaml:"inference"`
	Server     ServerConfig              `yaml:"server"`
}

// Default returns a config for a cat-and-owner camera: the cat is the target object,
// the owner is the subject whose absence is tracked.
func Default() Config {
	return Config{
		Model: ModelConfig{
			Classes:        []string{"person", "cat", "dog"},
			InputWidth:     640,
			InputHeight:    640,
			ScoreThreshold: 0.25,
			IoUThreshold:   0.45,
			MaxDetections:  20,
		},
		Categories: map[string]CategoryConfig{
			"cat":    {ConfidenceThreshold: 0.5, InterpolationWindow: 3 * time.Second},
			"person": {ConfidenceThreshold: 0.45, InterpolationWindow: 1500 * time.Millisecond},
		},
		Sessions: SessionsConfig{
			TargetPresent: KindConfig{
				Category:          "cat",
				AlertThreshold:    10 * time.Minute,
				AlertCooldown:     30 * time.Minute,
				ClearStableWindow: 5 * time.Second,
			},
			SubjectAbsent: KindConfig{
				Category:          "person",
				AlertThreshold:    60 * time.Minute,
				AlertCooldown:     60 * time.Minute,
				ClearStableWindow: time.Second,
			},
		},
		Driver: DriverConfig{
			Interval: 500 * time.Millisecond,
		},
		Frame: FrameConfig{
			URL:     "http://localhost:8080/api/snapshot",
			Timeout: 2 * time.Second,
		},
		Inference: InferenceConfig{
			URL:     "http://localhost:9000/v1/detect",
			Timeout: 5 * time.Second,
		},
		Server: ServerConfig{
			HTTPAddr:         ":8082",
			EventBuffer:      64,
			JournalDir:       "./journal",
			STUNServers:      []string{"stun:stun.l.google.com:19302"},
			MaxWebRTCClients: 4,
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", cleanPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid field. Values are never clamped.
func (c Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	m := c.Model
	if len(m.Classes) == 0 {
		fail("model.classes must not be empty")
	}
	seen := make(map[string]bool, len(m.Classes))
	for _, cls := range m.Classes {
		if cls == "" {
			fail("model.classes contains an empty name")
		}
		if seen[cls] {
			fail("model.classes contains %q twice", cls)
		}
		seen[cls] = true
	}
	if m.InputWidth <= 0 || m.InputHeight <= 0 {
		fail("model input size must be positive, got %dx%d", m.InputWidth, m.InputHeight)
	}
	if !inUnit(m.ScoreThreshold) {
		fail("model.score_threshold must be in [0,1], got %v", m.ScoreThreshold)
	}
	if m.IoUThreshold <= 0 || m.IoUThreshold > 1 {
		fail("model.iou_threshold must be in (0,1], got %v", m.IoUThreshold)
	}
	if m.MaxDetections < 0 {
		fail("model.max_detections must not be negative, got %d", m.MaxDetections)
	}

	for name, cat := range c.Categories {
		if !seen[name] {
			fail("categories.%s is not a model class", name)
		}
		if !inUnit(cat.ConfidenceThreshold) {
			fail("categories.%s.confidence_threshold must be in [0,1], got %v", name, cat.ConfidenceThreshold)
		}
		if cat.InterpolationWindow <= 0 {
			fail("categories.%s.interpolation_window must be positive, got %v", name, cat.InterpolationWindow)
		}
	}

	for _, kind := range types.Kinds {
		k, _ := c.Sessions.Kind(kind)
		if _, ok := c.Categories[k.Category]; !ok {
			fail("sessions.%s.category %q has no categories entry", kind, k.Category)
		}
		if k.AlertThreshold < 0 || k.AlertCooldown < 0 || k.ClearStableWindow < 0 {
			fail("sessions.%s durations must not be negative", kind)
		}
	}

	if c.Driver.Interval <= 0 {
		fail("driver.interval must be positive, got %v", c.Driver.Interval)
	}
	if c.Frame.URL == "" && c.Frame.File == "" {
		fail("frame.url or frame.file is required")
	}
	if c.Inference.URL == "" {
		fail("inference.url is required")
	}
	if c.Server.EventBuffer <= 0 {
		fail("server.event_buffer must be positive, got %d", c.Server.EventBuffer)
	}
	if c.Server.MaxWebRTCClients < 0 {
		fail("server.max_webrtc_clients must not be negative, got %d", c.Server.MaxWebRTCClients)
	}

	return errors.Join(errs...)
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}
