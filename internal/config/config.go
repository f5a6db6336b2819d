package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete huewatch configuration. It is built once at startup
// from Default, then overlaid by an optional YAML file and the environment.
type Config struct {
	Camera    CameraConfig    `yaml:"camera"`
	Display   DisplayConfig   `yaml:"display"`
	Detection DetectionConfig `yaml:"detection"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Stream    StreamConfig    `yaml:"stream"`
	HTTP      HTTPConfig      `yaml:"http"`
	Auth      AuthConfig      `yaml:"auth"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Log       LogConfig       `yaml:"log"`
}

// CameraConfig describes the capture source and how it is opened.
type CameraConfig struct {
	Driver        string `yaml:"driver"` // opencv, gstreamer
	URI           string `yaml:"uri"`
	Preset        string `yaml:"preset,omitempty"` // overrides width/height when set
	Width         int    `yaml:"width"`
	Height        int    `yaml:"height"`
	FPS           int    `yaml:"fps"`
	BufferSize    int    `yaml:"buffer_size"`
	OpenTimeoutMS int    `yaml:"open_timeout_ms"`
	ReadTimeoutMS int    `yaml:"read_timeout_ms"`
}

// DisplayConfig bounds the size and quality of the images sent to viewers.
type DisplayConfig struct {
	MaxWidth    int `yaml:"max_width"`
	MaxHeight   int `yaml:"max_height"`
	JPEGQuality int `yaml:"jpeg_quality"`
}

// DetectionConfig configures the color classifier and the polling query.
type DetectionConfig struct {
	Strategy       string        `yaml:"strategy"` // basic, enhanced
	RegionSize     int           `yaml:"region_size"`
	StaleAfter     time.Duration `yaml:"stale_after"`
	MaxFallbackAge time.Duration `yaml:"max_fallback_age"`
}

// ReconnectConfig is the supervisor's retry policy.
type ReconnectConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	MaxAttempts      int           `yaml:"max_attempts"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	SettleDelay      time.Duration `yaml:"settle_delay"`
}

// StreamConfig paces the acquisition loop and sizes subscriber buffers.
type StreamConfig struct {
	RetryPause     time.Duration `yaml:"retry_pause"`
	TransientPause time.Duration `yaml:"transient_pause"`
	ClientBuffer   int           `yaml:"client_buffer"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	Debug           bool          `yaml:"debug"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig protects operator endpoints.
type AuthConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"` // plaintext or bcrypt hash
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// MQTTConfig configures the optional telemetry emitter.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// TelegramConfig configures operator alerts.
type TelegramConfig struct {
	Enabled         bool   `yaml:"enabled"`
	BotToken        string `yaml:"bot_token"`
	ChatID          string `yaml:"chat_id"`
	CooldownSeconds int    `yaml:"cooldown_seconds"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console, json
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	return &Config{
		Camera: CameraConfig{
			Driver:        "opencv",
			Width:         1280,
			Height:        720,
			FPS:           15,
			BufferSize:    1,
			OpenTimeoutMS: 5000,
			ReadTimeoutMS: 5000,
		},
		Display: DisplayConfig{
			MaxWidth:    1024,
			MaxHeight:   768,
			JPEGQuality: 85,
		},
		Detection: DetectionConfig{
			Strategy:       "enhanced",
			RegionSize:     200,
			StaleAfter:     5 * time.Second,
			MaxFallbackAge: 30 * time.Second,
		},
		Reconnect: ReconnectConfig{
			FailureThreshold: 10,
			MaxAttempts:      5,
			BaseDelay:        time.Second,
			MaxDelay:         30 * time.Second,
			SettleDelay:      500 * time.Millisecond,
		},
		Stream: StreamConfig{
			RetryPause:     time.Second,
			TransientPause: 100 * time.Millisecond,
			ClientBuffer:   5,
		},
		HTTP: HTTPConfig{
			Addr:            "localhost:8080",
			ShutdownTimeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			Username: "admin",
			TokenTTL: 24 * time.Hour,
		},
		MQTT: MQTTConfig{
			ClientID:    "huewatch",
			TopicPrefix: "huewatch",
		},
		Telegram: TelegramConfig{
			CooldownSeconds: 300,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds a configuration from defaults, the YAML file at path (skipped
// when path is empty), the environment and finally overrides, then validates
// it.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	for _, override := range overrides {
		override(cfg)
	}

	if err := cfg.ApplyPreset(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overlays environment variables onto the configuration. lookup has
// the signature of os.LookupEnv so tests can supply a map.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = strings.EqualFold(v, "true") || v == "1"
		}
	}
	duration := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("HUEWATCH_CAMERA_URI", &c.Camera.URI)
	str("HUEWATCH_CAMERA_DRIVER", &c.Camera.Driver)
	str("HUEWATCH_CAMERA_PRESET", &c.Camera.Preset)
	str("HUEWATCH_DETECTION_STRATEGY", &c.Detection.Strategy)
	str("HUEWATCH_HTTP_ADDR", &c.HTTP.Addr)
	str("HUEWATCH_LOG_LEVEL", &c.Log.Level)
	str("HUEWATCH_LOG_FORMAT", &c.Log.Format)
	str("HUEWATCH_MQTT_BROKER", &c.MQTT.Broker)
	boolean("HUEWATCH_MQTT_ENABLED", &c.MQTT.Enabled)

	for key, dst := range map[string]*int{
		"HUEWATCH_CAMERA_WIDTH":           &c.Camera.Width,
		"HUEWATCH_CAMERA_HEIGHT":          &c.Camera.Height,
		"HUEWATCH_CAMERA_FPS":             &c.Camera.FPS,
		"HUEWATCH_CAMERA_OPEN_TIMEOUT_MS": &c.Camera.OpenTimeoutMS,
		"HUEWATCH_CAMERA_READ_TIMEOUT_MS": &c.Camera.ReadTimeoutMS,
		"HUEWATCH_DETECTION_REGION_SIZE":  &c.Detection.RegionSize,
		"HUEWATCH_JPEG_QUALITY":           &c.Display.JPEGQuality,
		"HUEWATCH_RECONNECT_MAX_ATTEMPTS": &c.Reconnect.MaxAttempts,
	} {
		if err := integer(key, dst); err != nil {
			return err
		}
	}
	if err := duration("HUEWATCH_DETECTION_MAX_FALLBACK_AGE", &c.Detection.MaxFallbackAge); err != nil {
		return err
	}

	// Auth and Telegram keep the variable names operators already use.
	boolean("AUTH_ENABLED", &c.Auth.Enabled)
	str("AUTH_USERNAME", &c.Auth.Username)
	str("AUTH_PASSWORD", &c.Auth.Password)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	if err := duration("JWT_EXPIRY", &c.Auth.TokenTTL); err != nil {
		return err
	}
	str("TELEGRAM_BOT_TOKEN", &c.Telegram.BotToken)
	str("TELEGRAM_CHAT_ID", &c.Telegram.ChatID)
	boolean("TELEGRAM_ENABLED", &c.Telegram.Enabled)

	return nil
}

// ApplyPreset replaces the target resolution with a named preset.
func (c *Config) ApplyPreset() error {
	if c.Camera.Preset == "" {
		return nil
	}
	res, ok := Presets[strings.ToUpper(c.Camera.Preset)]
	if !ok {
		return fmt.Errorf("unknown resolution preset %q", c.Camera.Preset)
	}
	c.Camera.Width, c.Camera.Height = res.Width, res.Height
	return nil
}

// OpenTimeout returns the camera open timeout as a duration.
func (c CameraConfig) OpenTimeout() time.Duration {
	return time.Duration(c.OpenTimeoutMS) * time.Millisecond
}

// ReadTimeout returns the camera read timeout as a duration.
func (c CameraConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMS) * time.Millisecond
}
