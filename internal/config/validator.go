package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Camera.URI == "" {
		errs = append(errs, errors.New("camera.uri is required"))
	}
	switch c.Camera.Driver {
	case "opencv", "gstreamer":
	default:
		errs = append(errs, fmt.Errorf("camera.driver must be opencv or gstreamer, got %q", c.Camera.Driver))
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		errs = append(errs, errors.New("camera.width and camera.height must be > 0"))
	}
	if c.Camera.FPS <= 0 {
		errs = append(errs, errors.New("camera.fps must be > 0"))
	}
	if c.Camera.BufferSize < 1 {
		errs = append(errs, errors.New("camera.buffer_size must be >= 1"))
	}
	if c.Camera.OpenTimeoutMS <= 0 || c.Camera.ReadTimeoutMS <= 0 {
		errs = append(errs, errors.New("camera timeouts must be > 0"))
	}

	if c.Display.JPEGQuality < 1 || c.Display.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("display.jpeg_quality must be in 1..100, got %d", c.Display.JPEGQuality))
	}
	if c.Display.MaxWidth <= 0 || c.Display.MaxHeight <= 0 {
		errs = append(errs, errors.New("display limits must be > 0"))
	}

	switch c.Detection.Strategy {
	case "basic", "enhanced":
	default:
		errs = append(errs, fmt.Errorf("detection.strategy must be basic or enhanced, got %q", c.Detection.Strategy))
	}
	if c.Detection.RegionSize <= 0 {
		errs = append(errs, errors.New("detection.region_size must be > 0"))
	}
	if c.Detection.StaleAfter <= 0 {
		errs = append(errs, errors.New("detection.stale_after must be > 0"))
	}
	if c.Detection.MaxFallbackAge < c.Detection.StaleAfter {
		errs = append(errs, errors.New("detection.max_fallback_age must be >= detection.stale_after"))
	}

	if c.Reconnect.FailureThreshold < 1 {
		errs = append(errs, errors.New("reconnect.failure_threshold must be >= 1"))
	}
	if c.Reconnect.MaxAttempts < 1 {
		errs = append(errs, errors.New("reconnect.max_attempts must be >= 1"))
	}
	if c.Reconnect.BaseDelay < 0 || c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		errs = append(errs, errors.New("reconnect delays must satisfy 0 <= base_delay <= max_delay"))
	}

	if c.Stream.ClientBuffer < 1 {
		errs = append(errs, errors.New("stream.client_buffer must be >= 1"))
	}

	if c.Auth.Enabled && c.Auth.Password == "" {
		errs = append(errs, errors.New("auth.password is required when auth is enabled"))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	}
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			errs = append(errs, errors.New("telegram bot token is required when enabled"))
		}
		if c.Telegram.ChatID == "" {
			errs = append(errs, errors.New("telegram chat ID is required when enabled"))
		}
	}
	if c.Telegram.CooldownSeconds < 0 {
		errs = append(errs, errors.New("telegram cooldown seconds cannot be negative"))
	}

	return errors.Join(errs...)
}
