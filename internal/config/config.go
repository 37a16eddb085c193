package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes bounds the size of a configuration file.
const MaxConfigFileBytes = 64 * 1024

// CameraConfig selects the device backend and the capture tunables.
type CameraConfig struct {
	Backend           string `yaml:"backend"`            // "sim" is the only backend so far
	Facing            string `yaml:"facing"`             // "back" or "front"
	MinHardwareLevel  string `yaml:"min_hardware_level"` // legacy, limited, full, level3
	PreviewMaxWidth   int    `yaml:"preview_max_width"`
	PreviewMaxHeight  int    `yaml:"preview_max_height"`
	ImageMaxWidth     int    `yaml:"image_max_width"`
	ImageMaxHeight    int    `yaml:"image_max_height"`
	JPEGQuality       int    `yaml:"jpeg_quality"` // 1-100
	BurstSize         int    `yaml:"burst_size"`
	PairingQueueSize  int    `yaml:"pairing_queue_size"`
	CallbackTimeoutMs int    `yaml:"callback_timeout_ms"`
	JPEGMaxImages     int    `yaml:"jpeg_max_images"`
	RawMaxImages      int    `yaml:"raw_max_images"`
}

// StorageConfig tells where pictures and the catalog live.
type StorageConfig struct {
	Dir             string `yaml:"dir"`
	CatalogPath     string `yaml:"catalog_path"`
	ThumbnailSample int    `yaml:"thumbnail_sample"` // downscale factor when no EXIF thumbnail
}

// ShutterConfig drives the capture indicator. Pin 0 disables it.
type ShutterConfig struct {
	IndicatorPin int  `yaml:"indicator_pin"`
	PulseMs      int  `yaml:"pulse_ms"`
	ActiveLow    bool `yaml:"active_low"`
}

// SensorsConfig holds fixed sensor readings used when no live source exists.
type SensorsConfig struct {
	RotationDeg *int     `yaml:"rotation_deg,omitempty"` // nil or -1 = unknown
	Latitude    *float64 `yaml:"latitude,omitempty"`
	Longitude   *float64 `yaml:"longitude,omitempty"`
}

// DefaultsConfig contains process-wide parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Camera   CameraConfig   `yaml:"camera"`
	Storage  StorageConfig  `yaml:"storage"`
	Shutter  ShutterConfig  `yaml:"shutter"`
	Sensors  SensorsConfig  `yaml:"sensors"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath accepts only *.yaml files directly inside a directory
// named "configs".
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain ..", path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	cam := &c.Camera
	if cam.Backend == "" {
		return fmt.Errorf("camera.backend is required")
	}
	if cam.Backend != "sim" {
		return fmt.Errorf("unsupported camera backend: %s", cam.Backend)
	}
	switch cam.Facing {
	case "":
		cam.Facing = "back"
	case "back", "front":
	default:
		return fmt.Errorf("camera.facing must be back or front, got %q", cam.Facing)
	}
	switch cam.MinHardwareLevel {
	case "":
		cam.MinHardwareLevel = "full"
	case "legacy", "limited", "full", "level3":
	default:
		return fmt.Errorf("camera.min_hardware_level %q is unknown", cam.MinHardwareLevel)
	}
	if cam.PreviewMaxWidth <= 0 || cam.PreviewMaxHeight <= 0 {
		cam.PreviewMaxWidth, cam.PreviewMaxHeight = 1440, 1080
	}
	if cam.ImageMaxWidth <= 0 || cam.ImageMaxHeight <= 0 {
		cam.ImageMaxWidth, cam.ImageMaxHeight = 4032, 3024
	}
	if cam.JPEGQuality == 0 {
		cam.JPEGQuality = 100
	}
	if cam.JPEGQuality < 1 || cam.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be between 1 and 100, got %d", cam.JPEGQuality)
	}
	if cam.BurstSize <= 0 {
		cam.BurstSize = 10
	}
	if cam.PairingQueueSize <= 0 {
		cam.PairingQueueSize = 32
	}
	if cam.CallbackTimeoutMs <= 0 {
		cam.CallbackTimeoutMs = 5000
	}
	if cam.JPEGMaxImages <= 0 {
		cam.JPEGMaxImages = 5
	}
	if cam.RawMaxImages <= 0 {
		cam.RawMaxImages = 3
	}

	if c.Storage.Dir == "" {
		c.Storage.Dir = filepath.Join("DCIM", "Camera")
	}
	if c.Storage.CatalogPath == "" {
		c.Storage.CatalogPath = "catalog.db"
	}
	if c.Storage.ThumbnailSample <= 0 {
		c.Storage.ThumbnailSample = 16
	}

	if c.Shutter.IndicatorPin < 0 {
		return fmt.Errorf("shutter.indicator_pin must be >= 0, got %d", c.Shutter.IndicatorPin)
	}
	if c.Shutter.PulseMs <= 0 {
		c.Shutter.PulseMs = 50
	}

	if r := c.Sensors.RotationDeg; r != nil && *r >= 360 {
		return fmt.Errorf("sensors.rotation_deg must be below 360, got %d", *r)
	}
	if (c.Sensors.Latitude == nil) != (c.Sensors.Longitude == nil) {
		return fmt.Errorf("sensors.latitude and sensors.longitude go together")
	}
	if lat := c.Sensors.Latitude; lat != nil && (*lat < -90 || *lat > 90) {
		return fmt.Errorf("sensors.latitude must be between -90 and 90, got %g", *lat)
	}
	if lon := c.Sensors.Longitude; lon != nil && (*lon < -180 || *lon > 180) {
		return fmt.Errorf("sensors.longitude must be between -180 and 180, got %g", *lon)
	}

	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// CallbackTimeout bounds every wait on a device callback.
func (c *Config) CallbackTimeout() time.Duration {
	return time.Duration(c.Camera.CallbackTimeoutMs) * time.Millisecond
}

// ShutterPulse returns the indicator hold time.
func (c *Config) ShutterPulse() time.Duration {
	return time.Duration(c.Shutter.PulseMs) * time.Millisecond
}

// Rotation returns the fixed device rotation in degrees, or -1 when unknown.
func (c *Config) Rotation() int {
	if c.Sensors.RotationDeg == nil {
		return -1
	}
	return *c.Sensors.RotationDeg
}

// Location returns the fixed last-known location, if configured.
func (c *Config) Location() (lat, lon float64, ok bool) {
	if c.Sensors.Latitude == nil || c.Sensors.Longitude == nil {
		return 0, 0, false
	}
	return *c.Sensors.Latitude, *c.Sensors.Longitude, true
}
