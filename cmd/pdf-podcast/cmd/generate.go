package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yheihei/pdf-to-podcast/internal/config"
	"github.com/yheihei/pdf-to-podcast/internal/fileutil"
	"github.com/yheihei/pdf-to-podcast/internal/pdf"
	"github.com/yheihei/pdf-to-podcast/internal/pipeline"
)

var generateFlags struct {
	input          string
	outputDir      string
	voice          string
	maxConcurrency int
	skipExisting   bool
	bgm            string
	normalize      bool
	pageOffset     int
	detectModel    string
	scriptModel    string
	seriesTitle    string
	style          string
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run the full pipeline from a PDF to a finished episode",
	Long: `Runs every stage: chapter detection, script generation, speech
synthesis, and episode assembly. Rerunning with --skip-existing resumes from
the manifest in the output directory.`,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVar(&generateFlags.input, "input", "", "Path to the source PDF (required)")
	generateCmd.Flags().StringVar(&generateFlags.outputDir, "output-dir", "", "Directory for scripts, audio and the episode (required)")
	generateCmd.Flags().StringVar(&generateFlags.voice, "voice", defaultVoice, "Voice name for the narrator")
	generateCmd.Flags().IntVar(&generateFlags.maxConcurrency, "max-concurrency", 1, "Maximum concurrent service requests")
	generateCmd.Flags().BoolVar(&generateFlags.skipExisting, "skip-existing", false, "Skip items whose artifacts already exist (resume)")
	generateCmd.Flags().StringVar(&generateFlags.bgm, "bgm", "", "Path to a background music file")
	generateCmd.Flags().BoolVar(&generateFlags.normalize, "normalize", true, "Apply loudness normalization to the episode")
	generateCmd.Flags().IntVar(&generateFlags.pageOffset, "page-offset", 0, "Offset from logical page numbers to physical PDF pages")
	generateCmd.Flags().StringVar(&generateFlags.detectModel, "model-detect", "", "Model for chapter detection")
	generateCmd.Flags().StringVar(&generateFlags.scriptModel, "model-script", "", "Model for script generation")
	generateCmd.Flags().StringVar(&generateFlags.seriesTitle, "series-title", "", "Series name woven into the narration")
	generateCmd.Flags().StringVar(&generateFlags.style, "style", "", "Narration style hint")

	_ = generateCmd.MarkFlagRequired("input")
	_ = generateCmd.MarkFlagRequired("output-dir")

	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	dirErr := fileutil.EnsureDir(generateFlags.outputDir)
	if dirErr != nil {
		printError("failed to create output directory", dirErr)

		return dirErr
	}

	rt, rtErr := newRuntime(generateFlags.outputDir, generateFlags.detectModel, generateFlags.scriptModel)
	if rtErr != nil {
		printError("failed to initialize", rtErr)

		return rtErr
	}
	defer rt.Close()

	parser, parserErr := pdf.NewParser(generateFlags.input, generateFlags.pageOffset, rt.log)
	if parserErr != nil {
		printError("failed to open PDF", parserErr)

		return parserErr
	}

	rt.deps.Parser = parser

	bgm := generateFlags.bgm
	if bgm == "" {
		bgm = rt.cfg.Episode.BGMPath
	}

	opts := pipeline.Options{
		OutputDir:      generateFlags.outputDir,
		Model:          config.ResolveModel(generateFlags.scriptModel, config.EnvScriptModel, config.DefaultScriptModel),
		Voice:          generateFlags.voice,
		MaxConcurrency: generateFlags.maxConcurrency,
		SkipExisting:   generateFlags.skipExisting,
		BGMPath:        bgm,
		Normalize:      generateFlags.normalize,
		SeriesTitle:    generateFlags.seriesTitle,
		Style:          generateFlags.style,
	}

	// An interrupt cancels in-flight work; completed items are already
	// persisted, so a rerun with --skip-existing resumes from there.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := pipeline.New(rt.deps, opts).Run(ctx)
	if runErr != nil {
		printError("pipeline run failed", runErr)

		return runErr
	}

	return nil
}
