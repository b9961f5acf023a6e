package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yheihei/pdf-to-podcast/internal/fileutil"
	"github.com/yheihei/pdf-to-podcast/internal/pipeline"
)

var audioFlags struct {
	scriptsDir     string
	outputDir      string
	voice          string
	maxConcurrency int
	skipExisting   bool
	bgm            string
	normalize      bool
}

var scriptsToAudioCmd = &cobra.Command{
	Use:   "scripts-to-audio",
	Short: "Resume the pipeline at the audio stage from existing scripts",
	Long: `Synthesizes audio and assembles the episode from a directory of
script files, without rerunning detection or script generation. Items come
from the output directory's manifest when one exists, otherwise from the
*.txt files in the scripts directory.`,
	RunE: runScriptsToAudio,
}

func init() {
	scriptsToAudioCmd.Flags().StringVar(&audioFlags.scriptsDir, "scripts-dir", "", "Directory containing script .txt files (required)")
	scriptsToAudioCmd.Flags().StringVar(&audioFlags.outputDir, "output-dir", "", "Directory for audio and the episode (required)")
	scriptsToAudioCmd.Flags().StringVar(&audioFlags.voice, "voice", defaultVoice, "Voice name for the narrator")
	scriptsToAudioCmd.Flags().IntVar(&audioFlags.maxConcurrency, "max-concurrency", 1, "Maximum concurrent service requests")
	scriptsToAudioCmd.Flags().BoolVar(&audioFlags.skipExisting, "skip-existing", false, "Skip items whose audio already exists (resume)")
	scriptsToAudioCmd.Flags().StringVar(&audioFlags.bgm, "bgm", "", "Path to a background music file")
	scriptsToAudioCmd.Flags().BoolVar(&audioFlags.normalize, "normalize", true, "Apply loudness normalization to the episode")

	_ = scriptsToAudioCmd.MarkFlagRequired("scripts-dir")
	_ = scriptsToAudioCmd.MarkFlagRequired("output-dir")

	rootCmd.AddCommand(scriptsToAudioCmd)
}

func runScriptsToAudio(cmd *cobra.Command, _ []string) error {
	dirErr := fileutil.EnsureDir(audioFlags.outputDir)
	if dirErr != nil {
		printError("failed to create output directory", dirErr)

		return dirErr
	}

	rt, rtErr := newRuntime(audioFlags.outputDir, "", "")
	if rtErr != nil {
		printError("failed to initialize", rtErr)

		return rtErr
	}
	defer rt.Close()

	bgm := audioFlags.bgm
	if bgm == "" {
		bgm = rt.cfg.Episode.BGMPath
	}

	opts := pipeline.Options{
		OutputDir:      audioFlags.outputDir,
		Voice:          audioFlags.voice,
		MaxConcurrency: audioFlags.maxConcurrency,
		SkipExisting:   audioFlags.skipExisting,
		BGMPath:        bgm,
		Normalize:      audioFlags.normalize,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := pipeline.New(rt.deps, opts).RunAudioOnly(ctx, audioFlags.scriptsDir)
	if runErr != nil {
		printError("audio run failed", runErr)

		return runErr
	}

	return nil
}
