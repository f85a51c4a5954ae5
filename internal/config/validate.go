package config

import (
	"errors"
	"fmt"
)

var knownModels = map[string]struct{}{
	"tiny":     {},
	"base":     {},
	"small":    {},
	"medium":   {},
	"large-v2": {},
	"large-v3": {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWhisper(); err != nil {
		return err
	}
	if err := c.validateSubtitles(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateWhisper() error {
	if _, ok := knownModels[c.Whisper.Model]; !ok {
		return fmt.Errorf("whisper.model %q is not a recognized model variant", c.Whisper.Model)
	}
	if c.Whisper.FallbackModel != "" {
		if _, ok := knownModels[c.Whisper.FallbackModel]; !ok {
			return fmt.Errorf("whisper.fallback_model %q is not a recognized model variant", c.Whisper.FallbackModel)
		}
	}
	if c.Whisper.QualityThreshold < 0 || c.Whisper.QualityThreshold > 1 {
		return errors.New("whisper.quality_threshold must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateSubtitles() error {
	switch c.Subtitles.Format {
	case "srt", "vtt":
	default:
		return fmt.Errorf("subtitles.format must be srt or vtt, got %q", c.Subtitles.Format)
	}
	if c.Subtitles.MinDisplayMillis >= c.Subtitles.MaxDisplaySecs*1000 {
		return errors.New("subtitles.min_display_millis must be less than subtitles.max_display_seconds")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"fetch.timeout_seconds":             c.Fetch.TimeoutSeconds,
		"whisper.timeout_seconds":           c.Whisper.TimeoutSeconds,
		"translation.timeout_seconds":       c.Translation.TimeoutSeconds,
		"translation.batch_size":            c.Translation.BatchSize,
		"workflow.max_running_tasks":        c.Workflow.MaxRunningTasks,
		"workflow.task_retention_hours":     c.Workflow.TaskRetentionHours,
		"workflow.cleanup_interval_seconds": c.Workflow.CleanupIntervalSeconds,
	}); err != nil {
		return err
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
