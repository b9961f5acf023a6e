package assemble

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yheihei/pdf-to-podcast/internal/chunker"
)

func writeSilenceWAV(t *testing.T, dir, name string, seconds float64) string {
	t.Helper()

	path := filepath.Join(dir, name)

	writeErr := os.WriteFile(path, chunker.Silence(seconds), 0o600)
	require.NoError(t, writeErr)

	return path
}

func TestComputeTimestamps(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	chapters := []ChapterAudio{
		{Title: "序章", Path: writeSilenceWAV(t, dir, "ch1.wav", 2.0)},
		{Title: "第1章", Path: writeSilenceWAV(t, dir, "ch2.wav", 3.0)},
		{Title: "第2章", Path: writeSilenceWAV(t, dir, "ch3.wav", 1.0)},
	}

	timestamps, total, err := computeTimestamps(chapters)
	require.NoError(t, err)
	require.Len(t, timestamps, 3)

	// 2s + 1s gap + 3s + 1s gap + 1s
	require.InDelta(t, 8.0, total, 0.01)

	require.InDelta(t, 0.0, timestamps[0].Start, 0.01)
	require.InDelta(t, 2.0, timestamps[0].End, 0.01)
	require.InDelta(t, 3.0, timestamps[1].Start, 0.01)
	require.InDelta(t, 6.0, timestamps[1].End, 0.01)
	require.InDelta(t, 7.0, timestamps[2].Start, 0.01)
	require.InDelta(t, 8.0, timestamps[2].End, 0.01)
}

func TestComputeTimestamps_MissingFile(t *testing.T) {
	t.Parallel()

	chapters := []ChapterAudio{
		{Title: "序章", Path: filepath.Join(t.TempDir(), "missing.wav")},
	}

	_, _, err := computeTimestamps(chapters)
	require.ErrorIs(t, err, ErrChapterMissing)
}

func TestRenderChapterMetadata(t *testing.T) {
	t.Parallel()

	timestamps := []ChapterTimestamp{
		{Title: "序章", Start: 0, End: 90.5},
		{Title: "第1章 = はじめに", Start: 91.5, End: 200},
	}

	content := renderChapterMetadata(timestamps)

	require.True(t, strings.HasPrefix(content, ";FFMETADATA1\n"))
	require.Contains(t, content, "START=0\n")
	require.Contains(t, content, "END=90500\n")
	require.Contains(t, content, "START=91500\n")
	require.Contains(t, content, "title=序章\n")
	require.Contains(t, content, `title=第1章 \= はじめに`)
}

func TestBuildFilterGraph_NoBGM(t *testing.T) {
	t.Parallel()

	filter := buildFilterGraph(3, -1, false)

	// 3 chapters with 2 silence gaps: inputs 0,1,2 are chapters, 3,4 gaps.
	require.Equal(t,
		"[0:a][3:a][1:a][4:a][2:a]concat=n=5:v=0:a=1[narration];[narration]anull[out]",
		filter,
	)
}

func TestBuildFilterGraph_BGMAndNormalize(t *testing.T) {
	t.Parallel()

	filter := buildFilterGraph(2, 3, true)

	require.Contains(t, filter, "concat=n=3:v=0:a=1[narration]")
	require.Contains(t, filter, "[3:a]volume=-20.0dB[bgm]")
	require.Contains(t, filter, "amix=inputs=2:duration=first")
	require.Contains(t, filter, "[mixed]loudnorm[out]")
}

func TestBuildFfmpegArgs(t *testing.T) {
	t.Parallel()

	chapters := []ChapterAudio{
		{Title: "序章", Path: "/audio/ch1.wav"},
		{Title: "第1章", Path: "/audio/ch2.wav"},
	}

	args := buildFfmpegArgs(chapters, "/out/episode.mp3.ffmeta", "/out/episode.mp3",
		Options{BGMPath: "/bgm/loop.mp3"}, "128k", 1)

	joined := strings.Join(args, " ")

	require.Contains(t, joined, "-i /audio/ch1.wav")
	require.Contains(t, joined, "-i /audio/ch2.wav")
	require.Contains(t, joined, "-stream_loop -1 -i /bgm/loop.mp3")
	require.Contains(t, joined, "-i /out/episode.mp3.ffmeta")
	// Inputs: 2 chapters, 1 gap, bgm at 3, metadata at 4.
	require.Contains(t, joined, "-map_metadata 4")
	require.Contains(t, joined, "-b:a 128k")
	require.Contains(t, joined, "-ac 1")
	require.Equal(t, "/out/episode.mp3", args[len(args)-1])
}
