package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/yheihei/pdf-to-podcast/internal/assemble"
	"github.com/yheihei/pdf-to-podcast/internal/chunker"
	"github.com/yheihei/pdf-to-podcast/internal/config"
	"github.com/yheihei/pdf-to-podcast/internal/llm"
	"github.com/yheihei/pdf-to-podcast/internal/manifest"
	"github.com/yheihei/pdf-to-podcast/internal/notify"
	"github.com/yheihei/pdf-to-podcast/internal/pipeline"
	"github.com/yheihei/pdf-to-podcast/internal/ratelimit"
	"github.com/yheihei/pdf-to-podcast/internal/store"
	"github.com/yheihei/pdf-to-podcast/internal/tts"
	"github.com/yheihei/pdf-to-podcast/internal/validate"
)

// Fallbacks applied when the configuration file leaves a value unset.
const (
	defaultLLMTimeout = 120 * time.Second
	defaultTTSTimeout = 300 * time.Second
	defaultVoice      = "Kore"
	defaultBitrate    = "128k"
	defaultChannels   = 1
)

// runtime bundles everything the subcommands need to drive a run.
type runtime struct {
	cfg      *config.Config
	log      *logger.Logger
	deps     pipeline.Deps
	natsConn *nats.Conn
}

// Close releases the run's resources.
func (r *runtime) Close() {
	if r.natsConn != nil {
		r.natsConn.Close()
	}

	if r.log != nil {
		_ = r.log.Close()
	}
}

func setupBootstrapLogger() (*logger.Logger, error) {
	log, err := logger.New(os.TempDir(), "pdf-podcast-bootstrap.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create bootstrap logger: %w", err)
	}

	return log, nil
}

// newRuntime loads configuration and wires the service clients, artifact
// store, and supporting components for one run.
func newRuntime(outputDir, detectModelFlag, scriptModelFlag string) (*runtime, error) {
	bootstrapLog, bootstrapErr := setupBootstrapLogger()
	if bootstrapErr != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", bootstrapErr)

		return nil, bootstrapErr
	}

	cfg, cfgErr := config.Load(bootstrapLog)
	if cfgErr != nil {
		bootstrapLog.Error("Failed to load configuration: %v", cfgErr)

		return nil, fmt.Errorf("failed to load configuration: %w", cfgErr)
	}

	logsDir := cfg.Paths.BaseLogsDir
	if logsDir == "" {
		logsDir = filepath.Join(outputDir, "logs")
	}

	log, logErr := logger.New(logsDir, "pdf-podcast.log")
	if logErr != nil {
		bootstrapLog.Error("Failed to create run logger: %v", logErr)

		return nil, fmt.Errorf("failed to create run logger: %w", logErr)
	}

	r := &runtime{cfg: cfg, log: log}

	wireErr := r.wire(outputDir, detectModelFlag, scriptModelFlag)
	if wireErr != nil {
		r.Close()

		return nil, wireErr
	}

	return r, nil
}

func (r *runtime) wire(outputDir, detectModelFlag, scriptModelFlag string) error {
	cfg := r.cfg

	detectModel := config.ResolveModel(detectModelFlag, config.EnvDetectModel, config.DefaultDetectModel)
	scriptModel := config.ResolveModel(scriptModelFlag, config.EnvScriptModel, config.DefaultScriptModel)
	r.log.Info("Models: detect=%s script=%s", detectModel, scriptModel)

	llmTimeout := defaultLLMTimeout
	if cfg.LLM.TimeoutSeconds > 0 {
		llmTimeout = time.Duration(cfg.LLM.TimeoutSeconds) * time.Second
	}

	ttsTimeout := defaultTTSTimeout
	if cfg.TTS.TimeoutSeconds > 0 {
		ttsTimeout = time.Duration(cfg.TTS.TimeoutSeconds) * time.Second
	}

	// The detector and generator share one client; they differ only in
	// the model they request, resolved per prompt by the script model.
	llmClient := llm.New(cfg.LLM.BaseURL, scriptModel, llmTimeout, r.log)
	detectClient := llm.New(cfg.LLM.BaseURL, detectModel, llmTimeout, r.log)
	ttsClient := tts.New(cfg.TTS.BaseURL, ttsTimeout)

	artifacts, notifier, storeErr := r.setupArtifacts(outputDir)
	if storeErr != nil {
		return storeErr
	}

	bitrate := cfg.Episode.Bitrate
	if bitrate == "" {
		bitrate = defaultBitrate
	}

	channels := cfg.Episode.Channels
	if channels == 0 {
		channels = defaultChannels
	}

	r.deps = pipeline.Deps{
		Parser:      nil,
		Detector:    detectClient,
		Generator:   llmClient,
		Synthesizer: ttsClient,
		LLMLimiter:  ratelimit.New(limiterConfig(cfg.LLM.RPMLimit, cfg.LLM.MaxRetries), r.log),
		TTSLimiter:  ratelimit.New(limiterConfig(cfg.TTS.RPMLimit, cfg.TTS.MaxRetries), r.log),
		Artifacts:   artifacts,
		Manifest:    manifest.NewManager(filepath.Join(outputDir, manifest.FileName), r.log),
		Chunker:     chunker.New(chunker.DefaultLimits(), r.log),
		Validator:   validate.New(validate.FormatLecture, r.log),
		Mixer:       assemble.NewMixer(bitrate, channels, r.log),
		Notifier:    notifier,
		Log:         r.log,
	}

	return nil
}

// setupArtifacts picks the artifact store: NATS JetStream when configured,
// the run's output directory otherwise.
func (r *runtime) setupArtifacts(outputDir string) (store.ArtifactStore, *notify.Publisher, error) {
	cfg := r.cfg

	if cfg.NATS.URL == "" {
		fsStore, fsErr := store.NewFSStore(outputDir)
		if fsErr != nil {
			return nil, nil, fmt.Errorf("failed to create artifact store: %w", fsErr)
		}

		return fsStore, nil, nil
	}

	conn, connErr := nats.Connect(cfg.NATS.URL)
	if connErr != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, connErr)
	}

	r.natsConn = conn

	jetstreamContext, jsErr := conn.JetStream()
	if jsErr != nil {
		return nil, nil, fmt.Errorf("failed to open JetStream context: %w", jsErr)
	}

	natsStore, storeErr := store.NewNatsStore(jetstreamContext, cfg.NATS.ArtifactBucket)
	if storeErr != nil {
		return nil, nil, storeErr
	}

	var notifier *notify.Publisher
	if cfg.NATS.ProgressSubject != "" {
		notifier = notify.New(conn, cfg.NATS.ProgressSubject, r.log)
		r.log.Info("Publishing progress events to %s (workflow %s)",
			cfg.NATS.ProgressSubject, notifier.WorkflowID())
	}

	return natsStore, notifier, nil
}

func limiterConfig(rpmLimit, maxRetries int) ratelimit.Config {
	cfg := ratelimit.DefaultConfig()

	if rpmLimit > 0 {
		cfg.RPMLimit = rpmLimit
	}

	if maxRetries > 0 {
		cfg.MaxRetries = maxRetries
	}

	return cfg
}
