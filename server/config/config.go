package config

// Package config loads the server configuration.
// Layers, from lowest to highest priority: built-in defaults, an optional YAML file,
// and HELMETCAM_ environment variables (eg HELMETCAM_DETECT_PROBABILITYTHRESHOLD=0.6).

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/helmetcam/pkg/kibi"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
)

const EnvPrefix = "HELMETCAM_"

type Config struct {
	Listen      string       `koanf:"listen"`      // eg ":8080"
	DB          DBConfig     `koanf:"db"`          // User database
	Model       ModelConfig  `koanf:"model"`       // Neural network files
	Detect      DetectConfig `koanf:"detect"`      // Detection thresholds
	Camera      CameraConfig `koanf:"camera"`      // Live webcam
	Upload      UploadConfig `koanf:"upload"`      // Single image uploads
	Session     Session      `koanf:"session"`     // Login sessions
	JPEGQuality int          `koanf:"jpegquality"` // Quality of JPEG images sent to the browser
}

// DBConfig mirrors dbh.DBConfig, with koanf tags
type DBConfig struct {
	Driver   string `koanf:"driver"` // "sqlite3" or "postgres"
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Database string `koanf:"database"` // For sqlite, this is the filename
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

type ModelConfig struct {
	Dir         string `koanf:"dir"`
	Config      string `koanf:"config"`
	Weights     string `koanf:"weights"`
	Labels      string `koanf:"labels"`
	InputWidth  int    `koanf:"inputwidth"`
	InputHeight int    `koanf:"inputheight"`
	Backend     string `koanf:"backend"`
	Target      string `koanf:"target"`
}

type DetectConfig struct {
	ProbabilityThreshold float32 `koanf:"probabilitythreshold"`
	NmsIouThreshold      float32 `koanf:"nmsiouthreshold"`
}

type CameraConfig struct {
	Device string  `koanf:"device"` // Device index (eg "0") or path
	MaxFPS float64 `koanf:"maxfps"`
}

type UploadConfig struct {
	MaxSize      string `koanf:"maxsize"`      // eg "20 MB"
	MaxDimension int    `koanf:"maxdimension"` // Larger images are scaled down to fit. Zero disables.

	MaxBytes int64 `koanf:"-"` // Parsed from MaxSize by Validate
}

type Session struct {
	Days int `koanf:"days"`
}

func (c *DBConfig) DBH() dbh.DBConfig {
	return dbh.DBConfig{
		Driver:   c.Driver,
		Host:     c.Host,
		Port:     c.Port,
		Database: c.Database,
		Username: c.Username,
		Password: c.Password,
	}
}

// Home directory for the default DB and model locations
func defaultRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, "helmetcam")
}

func defaults() map[string]any {
	root := defaultRoot()
	return map[string]any{
		"listen":                      ":8080",
		"db.driver":                   dbh.DriverSqlite,
		"db.database":                 filepath.Join(root, "users.sqlite"),
		"model.dir":                   filepath.Join(root, "model"),
		"model.config":                "yolov3-helmet.cfg",
		"model.weights":               "yolov3-helmet.weights",
		"model.labels":                "labels.txt",
		"model.inputwidth":            416,
		"model.inputheight":           416,
		"detect.probabilitythreshold": 0.5,
		"detect.nmsiouthreshold":      0.4,
		"camera.device":               "0",
		"camera.maxfps":               10,
		"upload.maxsize":              "20 MB",
		"upload.maxdimension":         4096,
		"session.days":                30,
		"jpegquality":                 85,
	}
}

// Load builds the configuration. configFile may be empty, in which case only defaults
// and environment variables are used.
func Load(configFile string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, err
	}

	if configFile != "" {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("Error loading config file %v: %w", configFile, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".")
	}), nil); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.Detect.ProbabilityThreshold <= 0 || c.Detect.ProbabilityThreshold > 1 {
		return fmt.Errorf("detect.probabilityThreshold must be in (0, 1], not %v", c.Detect.ProbabilityThreshold)
	}
	if c.Detect.NmsIouThreshold <= 0 || c.Detect.NmsIouThreshold > 1 {
		return fmt.Errorf("detect.nmsIouThreshold must be in (0, 1], not %v", c.Detect.NmsIouThreshold)
	}
	if c.DB.Driver != dbh.DriverSqlite && c.DB.Driver != dbh.DriverPostgres {
		return fmt.Errorf("db.driver must be %v or %v, not '%v'", dbh.DriverSqlite, dbh.DriverPostgres, c.DB.Driver)
	}
	maxBytes, err := kibi.ParseBytes(c.Upload.MaxSize)
	if err != nil {
		return fmt.Errorf("upload.maxSize: %w", err)
	}
	if maxBytes <= 0 {
		return fmt.Errorf("upload.maxSize must be positive")
	}
	c.Upload.MaxBytes = maxBytes
	if c.Session.Days < 0 {
		return fmt.Errorf("session.days may not be negative")
	}
	return nil
}
