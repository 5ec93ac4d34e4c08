package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Common errors for configuration loading/saving.
var (
	ErrFileNotFound     = errors.New("configuration file not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidJSON      = errors.New("invalid JSON syntax")
	ErrInvalidYAML      = errors.New("invalid YAML syntax")
	ErrEmptyFile        = errors.New("configuration file is empty")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// Load builds the effective configuration: defaults, then the optional file,
// then environment overrides. path may be empty.
func Load(path string) (*Config, error) {
	var cfg *Config
	if path != "" {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = &Config{}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile reads a Config from a JSON or YAML file. The format is
// detected from the file extension (.yaml/.yml for YAML, otherwise JSON).
// The returned config is validated with defaults applied.
func LoadFromFile(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", path)
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		return ParseYAML(data)
	}

	if !json.Valid(data) {
		return nil, fmt.Errorf("%w in file: %s", ErrInvalidJSON, path)
	}
	return ParseJSON(data)
}

// ParseYAML parses YAML bytes into a validated Config.
func ParseYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseJSON parses JSON bytes into a validated Config.
func ParseJSON(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveToFile writes a Config to a file using an atomic rename. The format is
// determined by file extension (.yaml/.yml for YAML, otherwise JSON).
// Parent directories are created as needed.
func SaveToFile(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}

	ext := strings.ToLower(filepath.Ext(path))
	var data []byte
	var err error
	if ext == ".yaml" || ext == ".yml" {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}

// Environment variable names recognized by applyEnv. These mirror the
// variables the simulator has always been driven by in container setups.
const (
	EnvMode               = "SIMULATOR_MODE"
	EnvAPIKey             = "SIMULATOR_API_KEY"
	EnvPort               = "SIMULATOR_PORT"
	EnvLogLevel           = "SIMULATOR_LOG_LEVEL"
	EnvRecordingDir       = "RECORDING_DIR"
	EnvRecordingAutosave  = "RECORDING_AUTOSAVE"
	EnvForwardEndpoint    = "AZURE_OPENAI_ENDPOINT"
	EnvForwardKey         = "AZURE_OPENAI_KEY"
	EnvDocIntelligenceRPS = "DOC_INTELLIGENCE_RPS"
	EnvOTelExporter       = "OTEL_EXPORTER"
	EnvOTelEndpoint       = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

// applyEnv overlays environment variables onto cfg. Environment wins over
// file values; CLI flags are applied later and win over both.
func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvMode); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(EnvRecordingDir); v != "" {
		cfg.Recording.Dir = v
	}
	if v := os.Getenv(EnvRecordingAutosave); v != "" {
		b := strings.EqualFold(v, "true") || v == "1"
		cfg.Recording.Autosave = &b
	}
	if v := os.Getenv(EnvForwardEndpoint); v != "" {
		cfg.Recording.ForwardURL = v
	}
	if v := os.Getenv(EnvForwardKey); v != "" {
		cfg.Recording.ForwardKey = v
	}
	if v := os.Getenv(EnvDocIntelligenceRPS); v != "" {
		if rps, err := strconv.Atoi(v); err == nil {
			cfg.DocIntelligenceRPS = rps
		}
	}
	if v := os.Getenv(EnvOTelExporter); v != "" {
		cfg.Telemetry.Exporter = v
	}
	if v := os.Getenv(EnvOTelEndpoint); v != "" {
		cfg.Telemetry.Endpoint = v
	}
}
