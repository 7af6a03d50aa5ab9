// Package config resolves the node's runtime parameters from a YAML file,
// once, at startup.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"clientID"`

	InputTopic          string `yaml:"inputTopic"`
	AnnotatedImageTopic string `yaml:"annotatedImageTopic"`
	DetectionTopic      string `yaml:"detectionTopic"`

	SourceModelPath    string   `yaml:"sourceModelPath"`
	OptimizedModelPath string   `yaml:"optimizedModelPath"`
	NamesFile          string   `yaml:"namesFile"`
	Names              []string `yaml:"names"`

	ConfidenceThreshold float32 `yaml:"confidenceThreshold"`
	InputSize           int     `yaml:"inputSize"`
	JPEGQuality         int     `yaml:"jpegQuality"`
	Warmup              bool    `yaml:"warmup"`

	MonitorPort int `yaml:"monitorPort"`
	APIPort     int `yaml:"apiPort"`

	UseRegServer  bool   `yaml:"useRegServer"`
	RegServerHost string `yaml:"regServerHost"`
	RegServerPort int    `yaml:"regServerPort"`
}

// Load reads, parses, defaults and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ClientID == "" {
		c.ClientID = "yolo-obb-node"
	}
	if c.InputTopic == "" {
		c.InputTopic = "camera/color/image_raw/compressed"
	}
	if c.AnnotatedImageTopic == "" {
		c.AnnotatedImageTopic = "yolo_obb/camera/color/compressed"
	}
	if c.DetectionTopic == "" {
		c.DetectionTopic = "yolo_obb"
	}
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = 0.5
	}
	if c.InputSize == 0 {
		c.InputSize = 640
	}
	if c.JPEGQuality == 0 {
		c.JPEGQuality = 90
	}
	if c.MonitorPort == 0 {
		c.MonitorPort = 50053
	}
	if c.APIPort == 0 {
		c.APIPort = 8080
	}
}

func (c *Config) validate() error {
	if c.Broker == "" {
		return fmt.Errorf("broker must be set")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidenceThreshold must be between 0.0 and 1.0, got %f", c.ConfidenceThreshold)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("jpegQuality must be between 1 and 100, got %d", c.JPEGQuality)
	}
	if c.SourceModelPath == "" && c.OptimizedModelPath == "" {
		return fmt.Errorf("at least one of sourceModelPath or optimizedModelPath must be set")
	}
	if c.UseRegServer && c.RegServerHost == "" {
		return fmt.Errorf("regServerHost must be set when useRegServer is enabled")
	}
	return nil
}
