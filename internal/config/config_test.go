// Package config_test tests the configuration loading for pdf-to-podcast.
package config_test

import (
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yheihei/pdf-to-podcast/internal/config"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	tomlData := `
[llm]
base_url = "http://127.0.0.1:8100"
detect_model = "gemini-2.5-flash"
script_model = "gemini-2.5-pro"
timeout_seconds = 120
rpm_limit = 15
max_retries = 5

[tts]
base_url = "http://127.0.0.1:8000"
voice = "Kore"
timeout_seconds = 300
rpm_limit = 10
max_retries = 5

[episode]
bitrate = "128k"
channels = 1
bgm_path = "assets/bgm.mp3"
normalize = true

[nats]
url = "nats://127.0.0.1:4222"
artifact_bucket = "PODCAST_ARTIFACTS"
progress_subject = "podcast.progress"

[paths]
base_logs_dir = "/var/log/pdf-to-podcast"
`

	var cfg config.Config

	err := toml.Unmarshal([]byte(tomlData), &cfg)
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:8100", cfg.LLM.BaseURL)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM.DetectModel)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.ScriptModel)
	assert.Equal(t, 120, cfg.LLM.TimeoutSeconds)
	assert.Equal(t, 15, cfg.LLM.RPMLimit)
	assert.Equal(t, 5, cfg.LLM.MaxRetries)
	assert.Equal(t, "http://127.0.0.1:8000", cfg.TTS.BaseURL)
	assert.Equal(t, "Kore", cfg.TTS.Voice)
	assert.Equal(t, 300, cfg.TTS.TimeoutSeconds)
	assert.Equal(t, "128k", cfg.Episode.Bitrate)
	assert.Equal(t, 1, cfg.Episode.Channels)
	assert.Equal(t, "assets/bgm.mp3", cfg.Episode.BGMPath)
	assert.True(t, cfg.Episode.Normalize)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "PODCAST_ARTIFACTS", cfg.NATS.ArtifactBucket)
	assert.Equal(t, "podcast.progress", cfg.NATS.ProgressSubject)
	assert.Equal(t, "/var/log/pdf-to-podcast", cfg.Paths.BaseLogsDir)
}

func TestResolveModel_CLIWins(t *testing.T) {
	t.Setenv(config.EnvDetectModel, "from-env")

	resolved := config.ResolveModel("from-cli", config.EnvDetectModel, config.DefaultDetectModel)
	require.Equal(t, "from-cli", resolved)
}

func TestResolveModel_EnvOverDefault(t *testing.T) {
	t.Setenv(config.EnvScriptModel, "from-env")

	resolved := config.ResolveModel("", config.EnvScriptModel, config.DefaultScriptModel)
	require.Equal(t, "from-env", resolved)
}

func TestResolveModel_Default(t *testing.T) {
	t.Setenv(config.EnvScriptModel, "")

	resolved := config.ResolveModel("", config.EnvScriptModel, config.DefaultScriptModel)
	require.Equal(t, config.DefaultScriptModel, resolved)
}
