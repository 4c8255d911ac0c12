package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Movement policies accepted by MOVEMENT_MODE.
const (
	MovementFacing = "facing"
	MovementWorld  = "world"
)

// AutoPort selects the serial endpoint by USB discovery instead of a fixed path.
const AutoPort = "auto"

// Config holds all application configuration values.
type Config struct {
	// Serial link
	SerialPort             string   // fixed endpoint path, or "auto"
	SerialBaudRate         int
	SerialDeviceIDs        []string // USB vendor ids (lowercase hex) accepted by discovery
	SerialConnectTimeout   time.Duration
	SerialResetDelay       time.Duration
	SerialReadTimeout      time.Duration
	SerialTimeoutThreshold int // consecutive read timeouts before the link is declared down
	SerialRetryInterval    time.Duration

	// Input normalization
	Deadzone        float64
	ButtonActiveLow bool

	// Character
	MovementSpeed float64 // units per nominal tick
	RotationSpeed float64 // degrees per nominal tick
	JumpImpulse   float64
	Gravity       float64
	GroundHeight  float64
	MovementMode  string

	// Timing
	ControlTickRate  int           // Hz
	RenderTickRate   int           // Hz
	InputIdleTimeout time.Duration // silence after which a tick runs on the empty signal
	MaxTickScale     float64       // cap on one step in nominal ticks, 0 for none

	// Model
	ModelPath  string
	ModelScale float64

	// Web Server
	WebServerPort int
	WebDir        string

	// MQTT
	MQTTBroker             string // empty disables publishing
	MQTTClientIDController string
	MQTTClientIDConsole    string
	MQTTClientIDDisplay    string
	TopicTransform         string
	TopicLink              string
	PublishInterval        time.Duration

	// Display
	DisplayI2CBus         string
	DisplayI2CAddr        uint16
	DisplayUpdateInterval time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

// Default returns a Config with every field set to its documented default.
func Default() *Config {
	return &Config{
		SerialPort:             AutoPort,
		SerialBaudRate:         9600,
		SerialDeviceIDs:        []string{"2341", "2a03", "1a86", "0403", "10c4"},
		SerialConnectTimeout:   3 * time.Second,
		SerialResetDelay:       2 * time.Second,
		SerialReadTimeout:      time.Second,
		SerialTimeoutThreshold: 3,
		SerialRetryInterval:    time.Second,

		Deadzone: 0.1,

		MovementSpeed: 0.1,
		RotationSpeed: 2.0,
		JumpImpulse:   0.2,
		Gravity:       0.01,
		GroundHeight:  0,
		MovementMode:  MovementFacing,

		ControlTickRate:  60,
		RenderTickRate:   60,
		InputIdleTimeout: 250 * time.Millisecond,

		ModelPath:  "model.fbx",
		ModelScale: 0.01,

		WebServerPort: 8080,
		WebDir:        "web",

		MQTTClientIDController: "joypose-controller",
		MQTTClientIDConsole:    "joypose-console",
		MQTTClientIDDisplay:    "joypose-display",
		TopicTransform:         "joypose/transform",
		TopicLink:              "joypose/link",
		PublishInterval:        50 * time.Millisecond,

		DisplayI2CAddr:        0x3C,
		DisplayUpdateInterval: 200 * time.Millisecond,

		LogLevel:  "info",
		LogFormat: "console",
	}
}

// Load reads the configuration file on top of the defaults.
// An empty path returns the defaults unchanged.
func Load(configPath string) (*Config, error) {
	cfg := Default()
	if configPath == "" {
		return cfg, nil
	}

	values, err := godotenv.Read(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := cfg.setValue(key, strings.TrimSpace(values[key])); err != nil {
			return nil, fmt.Errorf("config %s: %w", configPath, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// Serial link
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		c.SerialBaudRate, err = parseInt(key, value, 1, 4_000_000)
	case "SERIAL_DEVICE_IDS":
		c.SerialDeviceIDs = parseList(value)
	case "SERIAL_CONNECT_TIMEOUT_MS":
		c.SerialConnectTimeout, err = parseMillis(key, value, 0)
	case "SERIAL_RESET_DELAY_MS":
		c.SerialResetDelay, err = parseMillis(key, value, 0)
	case "SERIAL_READ_TIMEOUT_MS":
		c.SerialReadTimeout, err = parseMillis(key, value, 0)
	case "SERIAL_TIMEOUT_THRESHOLD":
		c.SerialTimeoutThreshold, err = parseInt(key, value, 1, 1000)
	case "SERIAL_RETRY_INTERVAL_MS":
		c.SerialRetryInterval, err = parseMillis(key, value, 0)

	// Input normalization
	case "DEADZONE":
		c.Deadzone, err = parseFloat(key, value)
		if err == nil && (c.Deadzone < 0 || c.Deadzone >= 1) {
			err = fmt.Errorf("DEADZONE must be in [0, 1), got %g", c.Deadzone)
		}
	case "BUTTON_ACTIVE_LOW":
		c.ButtonActiveLow, err = strconv.ParseBool(value)
		if err != nil {
			err = fmt.Errorf("invalid BUTTON_ACTIVE_LOW %q: %w", value, err)
		}

	// Character
	case "MOVEMENT_SPEED":
		c.MovementSpeed, err = parseFloat(key, value)
	case "ROTATION_SPEED":
		c.RotationSpeed, err = parseFloat(key, value)
	case "JUMP_IMPULSE":
		c.JumpImpulse, err = parseFloat(key, value)
	case "GRAVITY":
		c.Gravity, err = parseFloat(key, value)
	case "GROUND_HEIGHT":
		c.GroundHeight, err = parseFloat(key, value)
	case "MOVEMENT_MODE":
		mode := strings.ToLower(value)
		if mode != MovementFacing && mode != MovementWorld {
			return fmt.Errorf("MOVEMENT_MODE must be %q or %q, got %q", MovementFacing, MovementWorld, value)
		}
		c.MovementMode = mode

	// Timing
	case "CONTROL_TICK_RATE":
		c.ControlTickRate, err = parseInt(key, value, 1, 1000)
	case "RENDER_TICK_RATE":
		c.RenderTickRate, err = parseInt(key, value, 1, 1000)
	case "INPUT_IDLE_TIMEOUT_MS":
		c.InputIdleTimeout, err = parseMillis(key, value, 1)
	case "MAX_TICK_SCALE":
		c.MaxTickScale, err = parseFloat(key, value)

	// Model
	case "MODEL_PATH":
		c.ModelPath = value
	case "MODEL_SCALE":
		c.ModelScale, err = parseFloat(key, value)

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value, 0, 65535)
	case "WEB_DIR":
		c.WebDir = value

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_CONTROLLER":
		c.MQTTClientIDController = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value
	case "TOPIC_TRANSFORM":
		c.TopicTransform = value
	case "TOPIC_LINK":
		c.TopicLink = value
	case "PUBLISH_INTERVAL_MS":
		c.PublishInterval, err = parseMillis(key, value, 0)

	// Display
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value
	case "DISPLAY_I2C_ADDR":
		addr, perr := strconv.ParseUint(value, 0, 16)
		if perr != nil {
			return fmt.Errorf("invalid DISPLAY_I2C_ADDR %q: %w", value, perr)
		}
		c.DisplayI2CAddr = uint16(addr)
	case "DISPLAY_UPDATE_INTERVAL":
		c.DisplayUpdateInterval, err = parseMillis(key, value, 1)

	// Logging
	case "LOG_LEVEL":
		c.LogLevel = strings.ToLower(value)
	case "LOG_FORMAT":
		c.LogFormat = strings.ToLower(value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// validate checks cross-field constraints after all keys are applied.
func (c *Config) validate() error {
	if c.SerialPort == "" {
		return fmt.Errorf("SERIAL_PORT is required (a device path or %q)", AutoPort)
	}
	if c.SerialPort == AutoPort && len(c.SerialDeviceIDs) == 0 {
		return fmt.Errorf("SERIAL_DEVICE_IDS is required when SERIAL_PORT=%s", AutoPort)
	}
	if c.SerialReadTimeout <= 0 {
		return fmt.Errorf("SERIAL_READ_TIMEOUT_MS must be positive")
	}
	if c.SerialConnectTimeout <= c.SerialResetDelay {
		return fmt.Errorf("SERIAL_CONNECT_TIMEOUT_MS (%v) must exceed SERIAL_RESET_DELAY_MS (%v)",
			c.SerialConnectTimeout, c.SerialResetDelay)
	}
	if c.Gravity <= 0 {
		return fmt.Errorf("GRAVITY must be positive, got %g", c.Gravity)
	}
	if c.JumpImpulse < 0 {
		return fmt.Errorf("JUMP_IMPULSE must not be negative, got %g", c.JumpImpulse)
	}
	if c.MaxTickScale != 0 && c.MaxTickScale < 1 {
		return fmt.Errorf("MAX_TICK_SCALE must be 0 (no cap) or at least 1, got %g", c.MaxTickScale)
	}
	if c.ModelScale <= 0 {
		return fmt.Errorf("MODEL_SCALE must be positive, got %g", c.ModelScale)
	}
	if c.ModelPath == "" {
		return fmt.Errorf("MODEL_PATH is required")
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be console or json, got %q", c.LogFormat)
	}
	return nil
}

// ControlTick returns the nominal duration of one input tick.
func (c *Config) ControlTick() time.Duration {
	return time.Second / time.Duration(c.ControlTickRate)
}

// RenderTick returns the nominal duration of one render tick.
func (c *Config) RenderTick() time.Duration {
	return time.Second / time.Duration(c.RenderTickRate)
}

func parseInt(key, value string, lo, hi int) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%s must be %d-%d, got %d", key, lo, hi, v)
	}
	return v, nil
}

func parseFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func parseMillis(key, value string, lo int) (time.Duration, error) {
	ms, err := parseInt(key, value, lo, 3_600_000)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func parseList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
