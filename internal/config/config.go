// Package config provides configuration management for the Clipbench Agent.
// Configuration is loaded from an optional YAML file with environment
// variable overrides on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Default values
	DefaultPort     = 8707
	DefaultLogLevel = "info"
	DefaultDataDir  = ".clipbench"

	// Environment variable names
	EnvPort       = "CLIPBENCH_PORT"
	EnvLogLevel   = "CLIPBENCH_LOG_LEVEL"
	EnvDataDir    = "CLIPBENCH_DATA_DIR"
	EnvConfigFile = "CLIPBENCH_CONFIG"

	// Renderer environment variable names
	EnvFFmpeg  = "CLIPBENCH_FFMPEG"
	EnvFFprobe = "CLIPBENCH_FFPROBE"
	EnvWhisper = "CLIPBENCH_WHISPER"

	// Database filename
	DBFilename = "clipbench.db"

	// Renderer defaults
	DefaultRenderTimeout     = 1800 // seconds
	DefaultTranscribeTimeout = 1800 // seconds
	DefaultWhisperModel      = "tiny"

	// History defaults: artifact history matches the single-file editor,
	// snapshot history matches the multi-clip editor.
	DefaultHistoryLimit  = 50
	DefaultSnapshotLimit = 4
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	ScratchDir() string
	FFmpegPath() string
	FFprobePath() string
	WhisperPath() string
	WhisperModel() string
	RenderTimeout() time.Duration
	TranscribeTimeout() time.Duration
	HistoryLimit() int
	SnapshotLimit() int
}

// fileConfig is the YAML representation. Zero values mean "use default".
type fileConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	DataDir  string `yaml:"data_dir"`

	Renderer struct {
		FFmpeg         string `yaml:"ffmpeg"`
		FFprobe        string `yaml:"ffprobe"`
		Whisper        string `yaml:"whisper"`
		WhisperModel   string `yaml:"whisper_model"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		TranscribeSecs int    `yaml:"transcribe_timeout_seconds"`
	} `yaml:"renderer"`

	History struct {
		ArtifactLimit int `yaml:"artifact_limit"`
		SnapshotLimit int `yaml:"snapshot_limit"`
	} `yaml:"history"`
}

// EnvConfig reads configuration from a YAML file and environment variables
type EnvConfig struct {
	port     int
	logLevel string
	dataDir  string

	ffmpegPath   string
	ffprobePath  string
	whisperPath  string
	whisperModel string

	renderTimeout     time.Duration
	transcribeTimeout time.Duration

	historyLimit  int
	snapshotLimit int
}

// New creates a new EnvConfig with defaults, YAML file values, and
// environment variable overrides applied in that order.
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:              DefaultPort,
		logLevel:          DefaultLogLevel,
		dataDir:           defaultDataDir(),
		whisperModel:      DefaultWhisperModel,
		renderTimeout:     DefaultRenderTimeout * time.Second,
		transcribeTimeout: DefaultTranscribeTimeout * time.Second,
		historyLimit:      DefaultHistoryLimit,
		snapshotLimit:     DefaultSnapshotLimit,
	}

	if err := cfg.applyFile(); err != nil {
		return nil, err
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	if ff := os.Getenv(EnvFFmpeg); ff != "" {
		cfg.ffmpegPath = ff
	}
	if fp := os.Getenv(EnvFFprobe); fp != "" {
		cfg.ffprobePath = fp
	}
	if w := os.Getenv(EnvWhisper); w != "" {
		cfg.whisperPath = w
	}

	return cfg, nil
}

// applyFile merges values from the first config file found. A missing file
// is not an error; a malformed one is.
func (c *EnvConfig) applyFile() error {
	path := os.Getenv(EnvConfigFile)
	if path == "" {
		path = findConfigFile()
	}
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	if fc.Port != 0 {
		if fc.Port < 1 || fc.Port > 65535 {
			return fmt.Errorf("config file %s: port must be between 1 and 65535", path)
		}
		c.port = fc.Port
	}
	if fc.LogLevel != "" {
		c.logLevel = fc.LogLevel
	}
	if fc.DataDir != "" {
		c.dataDir = fc.DataDir
	}
	if fc.Renderer.FFmpeg != "" {
		c.ffmpegPath = fc.Renderer.FFmpeg
	}
	if fc.Renderer.FFprobe != "" {
		c.ffprobePath = fc.Renderer.FFprobe
	}
	if fc.Renderer.Whisper != "" {
		c.whisperPath = fc.Renderer.Whisper
	}
	if fc.Renderer.WhisperModel != "" {
		c.whisperModel = fc.Renderer.WhisperModel
	}
	if fc.Renderer.TimeoutSeconds > 0 {
		c.renderTimeout = time.Duration(fc.Renderer.TimeoutSeconds) * time.Second
	}
	if fc.Renderer.TranscribeSecs > 0 {
		c.transcribeTimeout = time.Duration(fc.Renderer.TranscribeSecs) * time.Second
	}
	if fc.History.ArtifactLimit > 0 {
		c.historyLimit = fc.History.ArtifactLimit
	}
	if fc.History.SnapshotLimit > 0 {
		c.snapshotLimit = fc.History.SnapshotLimit
	}

	return nil
}

func findConfigFile() string {
	candidates := []string{
		"./clipbench.yaml",
		"./clipbench.yml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, DefaultDataDir, "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// ScratchDir returns the directory holding per-session working copies
func (c *EnvConfig) ScratchDir() string {
	return filepath.Join(c.dataDir, "scratch")
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

func (c *EnvConfig) WhisperPath() string {
	return c.whisperPath
}

func (c *EnvConfig) WhisperModel() string {
	return c.whisperModel
}

func (c *EnvConfig) RenderTimeout() time.Duration {
	return c.renderTimeout
}

func (c *EnvConfig) TranscribeTimeout() time.Duration {
	return c.transcribeTimeout
}

func (c *EnvConfig) HistoryLimit() int {
	return c.historyLimit
}

func (c *EnvConfig) SnapshotLimit() int {
	return c.snapshotLimit
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
