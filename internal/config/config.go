// Package config provides the configuration structure for pdf-to-podcast.
package config

import (
	"fmt"
	"os"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Environment variables consulted when a model is not set on the command
// line.
const (
	EnvDetectModel = "PODCAST_MODEL_DETECT"
	EnvScriptModel = "PODCAST_MODEL_SCRIPT"
)

// Default model identifiers.
const (
	DefaultDetectModel = "gemini-2.5-flash"
	DefaultScriptModel = "gemini-2.5-pro"
)

// LLMConfig holds the configuration for the text-generation service.
type LLMConfig struct {
	BaseURL        string `toml:"base_url"`
	DetectModel    string `toml:"detect_model"`
	ScriptModel    string `toml:"script_model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	RPMLimit       int    `toml:"rpm_limit"`
	MaxRetries     int    `toml:"max_retries"`
}

// TTSConfig holds the configuration for the speech synthesis service.
type TTSConfig struct {
	BaseURL        string `toml:"base_url"`
	Voice          string `toml:"voice"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	RPMLimit       int    `toml:"rpm_limit"`
	MaxRetries     int    `toml:"max_retries"`
}

// EpisodeConfig holds the configuration for final episode assembly.
type EpisodeConfig struct {
	Bitrate   string `toml:"bitrate"`
	Channels  int    `toml:"channels"`
	BGMPath   string `toml:"bgm_path"`
	Normalize bool   `toml:"normalize"`
}

// NATSConfig holds the optional NATS integration settings. When URL is
// empty, artifacts stay on the local filesystem and no progress events are
// published.
type NATSConfig struct {
	URL             string `toml:"url"`
	ArtifactBucket  string `toml:"artifact_bucket"`
	ProgressSubject string `toml:"progress_subject"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	LLM     LLMConfig     `toml:"llm"`
	TTS     TTSConfig     `toml:"tts"`
	Episode EpisodeConfig `toml:"episode"`
	NATS    NATSConfig    `toml:"nats"`
	Paths   PathsConfig   `toml:"paths"`
}

// Load loads the configuration for pdf-to-podcast.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return &cfg, nil
}

// ResolveModel picks a model identifier with CLI flag > environment
// variable > built-in default precedence.
func ResolveModel(cliValue, envVar, defaultValue string) string {
	if cliValue != "" {
		return cliValue
	}

	envValue := os.Getenv(envVar)
	if envValue != "" {
		return envValue
	}

	return defaultValue
}
