package config

import (
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/detector"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/driver"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/monitor"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/presence"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/session"
)

// Decoder builds the box decoder.
func (c Config) Decoder() *detector.Decoder {
	return &detector.Decoder{
		Classes:        append([]string(nil), c.Model.Classes...),
		InputWidth:     c.Model.InputWidth,
		InputHeight:    c.Model.InputHeight,
		ScoreThreshold: c.Model.ScoreThreshold,
		IoUThreshold:   c.Model.IoUThreshold,
		MaxDetections:  c.Model.MaxDetections,
	}
}

// Monitor builds the monitor configuration.
func (c Config) Monitor() monitor.Config {
	categories := make(map[string]presence.CategoryConfig, len(c.Categories))
	for name, cat := range c.Categories {
		categories[name] = presence.CategoryConfig{
			Threshold: cat.ConfidenceThreshold,
			Window:    cat.InterpolationWindow,
		}
	}
	return monitor.Config{
		Categories:      categories,
		TargetCategory:  c.Sessions.TargetPresent.Category,
		SubjectCategory: c.Sessions.SubjectAbsent.Category,
		TargetPresent:   c.Sessions.TargetPresent.session(),
		SubjectAbsent:   c.Sessions.SubjectAbsent.session(),
	}
}

// Polling builds the driver configuration.
func (c Config) Polling() driver.Config {
	return driver.Config{Interval: c.Driver.Interval}
}

func (k KindConfig) session() session.Config {
	return session.Config{
		AlertThreshold:    k.AlertThreshold,
		AlertCooldown:     k.AlertCooldown,
		ClearStableWindow: k.ClearStableWindow,
	}
}
