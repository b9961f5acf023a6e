// Package assemble concatenates per-chapter audio into the final podcast
// episode with ffmpeg, embedding chapter markers so players can navigate.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/book-expert/logger"

	"github.com/yheihei/pdf-to-podcast/internal/chunker"
)

const (
	ffmpegBinary = "ffmpeg"

	// Gap between chapters in the final episode.
	interChapterSilenceSeconds = 1.0

	// Silence sources are generated at the pipeline's synthesis format;
	// the concat filter resamples real inputs to match.
	silenceSampleRate = 24000

	bgmVolumeDB = -20.0

	dirPermissions  = 0o750
	filePermissions = 0o600
)

// Static errors.
var (
	ErrNoChapters     = errors.New("no chapter audio files provided")
	ErrChapterMissing = errors.New("chapter audio file not found")
)

// ChapterAudio names one chapter's synthesized audio file.
type ChapterAudio struct {
	Title string
	Path  string
}

// ChapterTimestamp is one chapter's position within the episode.
type ChapterTimestamp struct {
	Title string
	Start float64
	End   float64
}

// Options adjusts episode assembly.
type Options struct {
	// BGMPath optionally names a music file looped under the narration.
	BGMPath string
	// Normalize applies loudness normalization to the final mix.
	Normalize bool
}

// Mixer builds podcast episodes from chapter audio files.
type Mixer struct {
	bitrate  string
	channels int
	log      *logger.Logger
}

// NewMixer creates a mixer producing output at the given bitrate (e.g.
// "128k") and channel count.
func NewMixer(bitrate string, channels int, log *logger.Logger) *Mixer {
	return &Mixer{
		bitrate:  bitrate,
		channels: channels,
		log:      log,
	}
}

// Mix concatenates the chapters, separated by one second of silence, into a
// single episode file and tags it with chapter markers. It returns the total
// episode duration and the chapter timestamps.
func (m *Mixer) Mix(
	ctx context.Context,
	chapters []ChapterAudio,
	outputPath string,
	opts Options,
) (float64, []ChapterTimestamp, error) {
	if len(chapters) == 0 {
		return 0, nil, ErrNoChapters
	}

	timestamps, total, tsErr := computeTimestamps(chapters)
	if tsErr != nil {
		return 0, nil, tsErr
	}

	mkdirErr := os.MkdirAll(filepath.Dir(outputPath), dirPermissions)
	if mkdirErr != nil {
		return 0, nil, fmt.Errorf("failed to create episode directory: %w", mkdirErr)
	}

	metadataPath, metaErr := m.writeChapterMetadata(outputPath, timestamps)
	if metaErr != nil {
		return 0, nil, metaErr
	}

	defer func() { _ = os.Remove(metadataPath) }()

	args := buildFfmpegArgs(chapters, metadataPath, outputPath, opts, m.bitrate, m.channels)

	cmd := exec.CommandContext(ctx, ffmpegBinary, args...)

	output, runErr := cmd.CombinedOutput()
	if runErr != nil {
		return 0, nil, fmt.Errorf(
			"ffmpeg execution failed: %w - output: %s",
			runErr,
			string(output),
		)
	}

	m.log.Info("Episode created: %s (%.1fs, %d chapters)", outputPath, total, len(timestamps))

	return total, timestamps, nil
}

// FileDuration reads the duration of a WAV file from its header.
func FileDuration(path string) (float64, error) {
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		return 0, fmt.Errorf("failed to read audio file %q: %w", path, readErr)
	}

	seconds, durErr := chunker.Duration(data)
	if durErr != nil {
		return 0, fmt.Errorf("failed to parse audio file %q: %w", path, durErr)
	}

	return seconds, nil
}

// computeTimestamps derives each chapter's position in the episode from the
// WAV headers, accounting for the inter-chapter silence gaps.
func computeTimestamps(chapters []ChapterAudio) ([]ChapterTimestamp, float64, error) {
	timestamps := make([]ChapterTimestamp, 0, len(chapters))
	currentTime := 0.0

	for i, chapter := range chapters {
		seconds, durErr := FileDuration(chapter.Path)
		if durErr != nil {
			return nil, 0, fmt.Errorf("%w: %q: %w", ErrChapterMissing, chapter.Path, durErr)
		}

		timestamps = append(timestamps, ChapterTimestamp{
			Title: chapter.Title,
			Start: currentTime,
			End:   currentTime + seconds,
		})

		currentTime += seconds

		if i < len(chapters)-1 {
			currentTime += interChapterSilenceSeconds
		}
	}

	return timestamps, currentTime, nil
}

// writeChapterMetadata renders an FFMETADATA1 chapter list next to the
// output file.
func (m *Mixer) writeChapterMetadata(outputPath string, timestamps []ChapterTimestamp) (string, error) {
	metadataPath := outputPath + ".ffmeta"

	content := renderChapterMetadata(timestamps)

	writeErr := os.WriteFile(metadataPath, []byte(content), filePermissions)
	if writeErr != nil {
		return "", fmt.Errorf("failed to write chapter metadata: %w", writeErr)
	}

	return metadataPath, nil
}

func renderChapterMetadata(timestamps []ChapterTimestamp) string {
	var builder strings.Builder

	builder.WriteString(";FFMETADATA1\n")

	for _, ts := range timestamps {
		builder.WriteString("[CHAPTER]\n")
		builder.WriteString("TIMEBASE=1/1000\n")
		builder.WriteString(fmt.Sprintf("START=%d\n", int64(ts.Start*1000)))
		builder.WriteString(fmt.Sprintf("END=%d\n", int64(ts.End*1000)))
		builder.WriteString("title=" + escapeMetadataValue(ts.Title) + "\n")
	}

	return builder.String()
}

// escapeMetadataValue escapes the characters the FFMETADATA format treats
// specially.
func escapeMetadataValue(value string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		`=`, `\=`,
		`;`, `\;`,
		`#`, `\#`,
		"\n", `\`+"\n",
	)

	return replacer.Replace(value)
}

// buildFfmpegArgs assembles the full ffmpeg invocation: chapter inputs
// interleaved with lavfi silence gaps through the concat filter, an optional
// looped BGM bed mixed underneath, optional loudness normalization, and the
// chapter metadata mapped onto the output.
func buildFfmpegArgs(
	chapters []ChapterAudio,
	metadataPath string,
	outputPath string,
	opts Options,
	bitrate string,
	channels int,
) []string {
	args := []string{"-y", "-hide_banner", "-nostdin"}

	for _, chapter := range chapters {
		args = append(args, "-i", chapter.Path)
	}

	gapCount := len(chapters) - 1
	silenceSource := fmt.Sprintf(
		"anullsrc=channel_layout=mono:sample_rate=%d",
		silenceSampleRate,
	)

	for range gapCount {
		args = append(args,
			"-f", "lavfi",
			"-t", strconv.FormatFloat(interChapterSilenceSeconds, 'f', -1, 64),
			"-i", silenceSource,
		)
	}

	bgmIndex := -1
	if opts.BGMPath != "" {
		bgmIndex = len(chapters) + gapCount

		args = append(args, "-stream_loop", "-1", "-i", opts.BGMPath)
	}

	metadataIndex := len(chapters) + gapCount
	if bgmIndex >= 0 {
		metadataIndex++
	}

	args = append(args, "-i", metadataPath)

	filter := buildFilterGraph(len(chapters), bgmIndex, opts.Normalize)

	args = append(args,
		"-filter_complex", filter,
		"-map", "[out]",
		"-map_metadata", strconv.Itoa(metadataIndex),
		"-ac", strconv.Itoa(channels),
		"-b:a", bitrate,
		outputPath,
	)

	return args
}

// buildFilterGraph interleaves chapter streams with silence gap streams into
// one concat filter, then optionally mixes the BGM bed and normalizes.
func buildFilterGraph(chapterCount, bgmIndex int, normalize bool) string {
	var builder strings.Builder

	segments := 0

	for i := range chapterCount {
		builder.WriteString(fmt.Sprintf("[%d:a]", i))

		segments++

		if i < chapterCount-1 {
			builder.WriteString(fmt.Sprintf("[%d:a]", chapterCount+i))

			segments++
		}
	}

	builder.WriteString(fmt.Sprintf("concat=n=%d:v=0:a=1[narration]", segments))

	label := "narration"

	if bgmIndex >= 0 {
		builder.WriteString(fmt.Sprintf(
			";[%d:a]volume=%.1fdB[bgm];[narration][bgm]amix=inputs=2:duration=first:dropout_transition=0[mixed]",
			bgmIndex,
			bgmVolumeDB,
		))

		label = "mixed"
	}

	if normalize {
		builder.WriteString(fmt.Sprintf(";[%s]loudnorm[out]", label))
	} else {
		builder.WriteString(fmt.Sprintf(";[%s]anull[out]", label))
	}

	return builder.String()
}
