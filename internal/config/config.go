package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. ROLLCALL_DISTANCE_THRESHOLD.
const EnvPrefix = "ROLLCALL"

// Config represents the complete rollcall configuration
type Config struct {
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Enrollment EnrollmentConfig `yaml:"enrollment"`
	Index      IndexConfig      `yaml:"index"`
	Engine     EngineConfig     `yaml:"engine"`
	Stream     StreamConfig     `yaml:"stream"`
	Attendance AttendanceConfig `yaml:"attendance"`
	Log        LogConfig        `yaml:"log"`
}

// ThresholdsConfig holds the acceptance threshold. A match is accepted only
// when its squared distance is strictly below Distance.
type ThresholdsConfig struct {
	Distance float64 `yaml:"distance"`
}

// EnrollmentConfig describes where the gallery is loaded from.
type EnrollmentConfig struct {
	Source     string `yaml:"source"` // dir, postgres
	Dir        string `yaml:"dir"`
	Dim        int    `yaml:"dim"`
	AllowEmpty bool   `yaml:"allow_empty"`
	Watch      bool   `yaml:"watch"` // rebuild the gallery when Dir changes
}

// IndexConfig selects the nearest-neighbor backend.
type IndexConfig struct {
	Kind     string `yaml:"kind"` // flat, hnsw
	M        int    `yaml:"m"`
	EfSearch int    `yaml:"ef_search"`
}

// EngineConfig configures the external detector/landmark/descriptor capability.
type EngineConfig struct {
	Kind        string        `yaml:"kind"` // python, dlib
	Python      string        `yaml:"python"`
	Script      string        `yaml:"script"`
	ModelsDir   string        `yaml:"models_dir"`
	DetectWidth int           `yaml:"detect_width"` // 0 disables downscaling before detection
	CNN         bool          `yaml:"cnn"`          // dlib only: CNN detector instead of HOG
	Timeout     time.Duration `yaml:"timeout"`
}

// StreamConfig configures the frame loop.
type StreamConfig struct {
	Source      string        `yaml:"source"` // camera:0, dir:<path>, or a file/URL handed to ffmpeg
	Debounce    time.Duration `yaml:"debounce"`
	EveryNth    int           `yaml:"every_nth"`
	SnapshotDir string        `yaml:"snapshot_dir"`
}

// AttendanceConfig configures where attendance events go.
type AttendanceConfig struct {
	Mode        string     `yaml:"mode"` // debounced, every-match
	DatabaseURL string     `yaml:"database_url"`
	MQTT        MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig contains MQTT broker settings. An empty Broker disables the publisher.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text, json
}

// envOverlay lists the settings that may be overridden from the environment.
// Pointer fields stay nil when the variable is unset.
type envOverlay struct {
	Distance       *float64       `envconfig:"DISTANCE_THRESHOLD"`
	EnrollmentDir  *string        `envconfig:"ENROLLMENT_DIR"`
	EnrollmentFrom *string        `envconfig:"ENROLLMENT_SOURCE"`
	IndexKind      *string        `envconfig:"INDEX_KIND"`
	EngineKind     *string        `envconfig:"ENGINE"`
	ModelsDir      *string        `envconfig:"MODELS_DIR"`
	StreamSource   *string        `envconfig:"SOURCE"`
	Debounce       *time.Duration `envconfig:"DEBOUNCE"`
	Mode           *string        `envconfig:"ATTENDANCE_MODE"`
	DatabaseURL    *string        `envconfig:"DATABASE_URL"`
	MQTTBroker     *string        `envconfig:"MQTT_BROKER"`
	LogLevel       *string        `envconfig:"LOG_LEVEL"`
	LogFormat      *string        `envconfig:"LOG_FORMAT"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Thresholds: ThresholdsConfig{Distance: 0.5},
		Enrollment: EnrollmentConfig{Source: "dir", Dir: "embeddings", Dim: 128},
		Index:      IndexConfig{Kind: "flat", M: 16, EfSearch: 64},
		Engine: EngineConfig{
			Kind:      "python",
			Python:    "python3",
			Script:    "python/worker.py",
			ModelsDir: "models",
			Timeout:   30 * time.Second,
		},
		Stream: StreamConfig{
			Source:   "camera:0",
			Debounce: time.Second,
			EveryNth: 1,
		},
		Attendance: AttendanceConfig{
			Mode: "debounced",
			MQTT: MQTTConfig{ClientID: "rollcall", Topic: "rollcall/attendance"},
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads a YAML configuration file on top of the defaults, applies
// environment overrides, and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
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

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var env envOverlay
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("load environment: %w", err)
	}

	setFloat(&c.Thresholds.Distance, env.Distance)
	setString(&c.Enrollment.Dir, env.EnrollmentDir)
	setString(&c.Enrollment.Source, env.EnrollmentFrom)
	setString(&c.Index.Kind, env.IndexKind)
	setString(&c.Engine.Kind, env.EngineKind)
	setString(&c.Engine.ModelsDir, env.ModelsDir)
	setString(&c.Stream.Source, env.StreamSource)
	setString(&c.Attendance.Mode, env.Mode)
	setString(&c.Attendance.DatabaseURL, env.DatabaseURL)
	setString(&c.Attendance.MQTT.Broker, env.MQTTBroker)
	setString(&c.Log.Level, env.LogLevel)
	setString(&c.Log.Format, env.LogFormat)
	if env.Debounce != nil {
		c.Stream.Debounce = *env.Debounce
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error

	d := c.Thresholds.Distance
	if math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
		errs = append(errs, fmt.Errorf("thresholds.distance must be a positive number, got %v", d))
	}
	if c.Enrollment.Dim < 1 {
		errs = append(errs, fmt.Errorf("enrollment.dim must be >= 1, got %d", c.Enrollment.Dim))
	}
	switch c.Enrollment.Source {
	case "dir":
		if c.Enrollment.Dir == "" {
			errs = append(errs, errors.New("enrollment.dir is required when enrollment.source is 'dir'"))
		}
	case "postgres":
	default:
		errs = append(errs, fmt.Errorf("enrollment.source must be 'dir' or 'postgres', got '%s'", c.Enrollment.Source))
	}
	switch c.Index.Kind {
	case "flat":
	case "hnsw":
		if c.Index.M < 2 {
			errs = append(errs, fmt.Errorf("index.m must be >= 2, got %d", c.Index.M))
		}
	default:
		errs = append(errs, fmt.Errorf("index.kind must be 'flat' or 'hnsw', got '%s'", c.Index.Kind))
	}
	if c.Engine.Kind != "python" && c.Engine.Kind != "dlib" {
		errs = append(errs, fmt.Errorf("engine.kind must be 'python' or 'dlib', got '%s'", c.Engine.Kind))
	}
	if c.Engine.DetectWidth < 0 {
		errs = append(errs, fmt.Errorf("engine.detect_width must be >= 0, got %d", c.Engine.DetectWidth))
	}
	if c.Stream.Debounce < 0 {
		errs = append(errs, fmt.Errorf("stream.debounce must be >= 0, got %s", c.Stream.Debounce))
	}
	if c.Stream.EveryNth < 1 {
		errs = append(errs, fmt.Errorf("stream.every_nth must be >= 1, got %d", c.Stream.EveryNth))
	}
	if c.Attendance.Mode != "debounced" && c.Attendance.Mode != "every-match" {
		errs = append(errs, fmt.Errorf("attendance.mode must be 'debounced' or 'every-match', got '%s'", c.Attendance.Mode))
	}
	if c.Attendance.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("attendance.mqtt.qos must be 0, 1 or 2, got %d", c.Attendance.MQTT.QoS))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be 'text' or 'json', got '%s'", c.Log.Format))
	}

	return errors.Join(errs...)
}
