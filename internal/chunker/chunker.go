// Package chunker splits oversized narration text into synthesis-safe pieces
// at natural boundaries and re-merges the resulting audio segments.
package chunker

import (
	"context"
	"strings"
	"time"

	"github.com/book-expert/logger"
)

// Chunking parameters derived from practical TTS request limits.
const (
	DefaultMaxSegments       = 15
	DefaultMaxChars          = 1200
	DefaultPreferredSegments = 12
	DefaultPreferredChars    = 1000

	// boundaryLookback is how many trailing segments are searched for a
	// natural cut point before falling back to a hard cut.
	boundaryLookback = 5

	// interChunkDelay paces successive synthesis requests.
	interChunkDelay = 2 * time.Second

	// silenceDuration is the substitute length for a failed chunk.
	silenceDuration = 1.0

	silenceSampleRate  = 24000
	silenceChannels    = 1
	silenceSampleWidth = 2

	// chunkOverheadSeconds is the rough per-chunk synthesis cost used for
	// operator-facing estimates.
	chunkOverheadSeconds = 60
)

// Limits bounds the size of a single synthesis request.
type Limits struct {
	MaxSegments       int
	MaxChars          int
	PreferredSegments int
	PreferredChars    int
}

// DefaultLimits returns the stock request-size bounds.
func DefaultLimits() Limits {
	return Limits{
		MaxSegments:       DefaultMaxSegments,
		MaxChars:          DefaultMaxChars,
		PreferredSegments: DefaultPreferredSegments,
		PreferredChars:    DefaultPreferredChars,
	}
}

// Chunk is one synthesis-safe piece of a script.
type Chunk struct {
	Text         string
	SegmentCount int
	CharCount    int
}

// SynthFunc produces audio for one chunk of text.
type SynthFunc func(ctx context.Context, text string) ([]byte, error)

// Chunker splits long scripts and reassembles their audio.
type Chunker struct {
	limits Limits
	log    *logger.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// Option customizes a Chunker.
type Option func(*Chunker)

// WithSleep overrides the inter-chunk pacing primitive, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Chunker) {
		c.sleep = sleep
	}
}

// New creates a Chunker with the given limits.
func New(limits Limits, log *logger.Logger, opts ...Option) *Chunker {
	if limits.MaxSegments <= 0 {
		limits = DefaultLimits()
	}

	chk := &Chunker{
		limits: limits,
		log:    log,
		sleep:  sleepContext,
	}

	for _, opt := range opts {
		opt(chk)
	}

	return chk
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// naturalEndings mark segment tails where a cut does not interrupt the
// narration mid-flow.
var naturalEndings = []string{
	"。", "！", "？", ".", "!", "?", "ですね", "ですが", "ました", "ます",
}

// isNaturalEnding reports whether a segment ends at a sentence-final form.
func isNaturalEnding(text string) bool {
	trimmed := strings.TrimSpace(text)
	for _, ending := range naturalEndings {
		if strings.HasSuffix(trimmed, ending) {
			return true
		}
	}

	return false
}

// segments splits a script into paragraph blocks, dropping empty ones.
func segments(content string) []string {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	blocks := strings.Split(normalized, "\n\n")

	parts := make([]string, 0, len(blocks))
	for _, block := range blocks {
		trimmed := strings.TrimSpace(block)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}

	return parts
}

func charCount(parts []string) int {
	total := 0
	for _, part := range parts {
		total += len([]rune(part))
	}

	return total
}

func makeChunk(parts []string) Chunk {
	return Chunk{
		Text:         strings.Join(parts, "\n\n"),
		SegmentCount: len(parts),
		CharCount:    charCount(parts),
	}
}

// Split divides a script into synthesis-safe chunks. Content already under
// the preferred bounds is returned unsplit. Chunks close at the last natural
// boundary within the lookback window when one exists, otherwise at the hard
// limit. A single oversized paragraph becomes its own chunk. One exception
// to the char limit: segments carried past a natural boundary stay with the
// following chunk, which is not re-split and can close above MaxChars.
func (c *Chunker) Split(content string) []Chunk {
	parts := segments(content)
	if len(parts) == 0 {
		return nil
	}

	if len(parts) <= c.limits.PreferredSegments &&
		charCount(parts) <= c.limits.PreferredChars {
		c.log.Info(
			"No split needed: %d segments, %d chars",
			len(parts), charCount(parts),
		)

		return []Chunk{makeChunk(parts)}
	}

	var (
		chunks       []Chunk
		current      []string
		currentChars int
	)

	for _, part := range parts {
		partChars := len([]rune(part))

		exceedsSegments := len(current)+1 > c.limits.MaxSegments
		exceedsChars := currentChars+partChars > c.limits.MaxChars

		if len(current) > 0 && (exceedsSegments || exceedsChars) {
			splitAt := c.findNaturalSplit(current)

			if splitAt != len(current) {
				closed := current[:splitAt]
				carried := append([]string{}, current[splitAt:]...)

				chunks = append(chunks, makeChunk(closed))

				current = append(carried, part)
				currentChars = charCount(current)
			} else {
				chunks = append(chunks, makeChunk(current))

				current = []string{part}
				currentChars = partChars
			}
		} else {
			current = append(current, part)
			currentChars += partChars
		}
	}

	if len(current) > 0 {
		chunks = append(chunks, makeChunk(current))
	}

	c.log.Info("Split complete: %d segments -> %d chunks", len(parts), len(chunks))

	return chunks
}

// findNaturalSplit searches the trailing lookback window of the current
// chunk for a boundary where the preceding segment ends a sentence. Returns
// the split index, or len(current) when no better point exists.
func (c *Chunker) findNaturalSplit(current []string) int {
	lookback := boundaryLookback
	if lookback > len(current) {
		lookback = len(current)
	}

	for i := len(current) - lookback; i < len(current); i++ {
		if i <= 0 {
			continue
		}

		if isNaturalEnding(current[i-1]) {
			return i
		}
	}

	return len(current)
}

// ProcessSequentially synthesizes each chunk one at a time, pacing requests
// with a fixed delay. A failed chunk is replaced by a short silent segment
// so a single bad chunk cannot fail the whole item.
func (c *Chunker) ProcessSequentially(
	ctx context.Context,
	chunks []Chunk,
	synth SynthFunc,
) ([][]byte, error) {
	audio := make([][]byte, 0, len(chunks))

	for i, chunk := range chunks {
		c.log.Info(
			"Processing chunk %d/%d (%d segments, %d chars)",
			i+1, len(chunks), chunk.SegmentCount, chunk.CharCount,
		)

		data, synthErr := synth(ctx, chunk.Text)
		if synthErr != nil {
			c.log.Error("Chunk %d failed: %v", i+1, synthErr)

			data = Silence(silenceDuration)

			c.log.Warn("Substituted silence for chunk %d", i+1)
		}

		audio = append(audio, data)

		if i < len(chunks)-1 {
			sleepErr := c.sleep(ctx, interChunkDelay)
			if sleepErr != nil {
				return audio, sleepErr
			}
		}
	}

	c.log.Info("All %d chunks processed", len(audio))

	return audio, nil
}

// Merge concatenates chunk audio into one stream. The output reuses the
// first chunk's WAV header; chunks with a differing format are logged and
// concatenated best-effort. A singleton input is returned unchanged and an
// empty input yields an empty result.
func (c *Chunker) Merge(audioChunks [][]byte) []byte {
	if len(audioChunks) == 0 {
		c.log.Warn("No audio chunks to merge")

		return nil
	}

	if len(audioChunks) == 1 {
		return audioChunks[0]
	}

	var (
		merged   []byte
		refFmt   wavFormat
		haveRef  bool
		parsable bool
	)

	for i, chunk := range audioChunks {
		format, frames, parseErr := parseWAV(chunk)
		if parseErr != nil {
			c.log.Error("Failed to read chunk %d: %v", i+1, parseErr)

			continue
		}

		if !haveRef {
			refFmt = format
			haveRef = true
		} else if format != refFmt {
			c.log.Warn("Chunk %d has a differing audio format", i+1)
		}

		merged = append(merged, frames...)
		parsable = true
	}

	if !parsable {
		// Structured re-muxing is not possible; degrade to naive
		// concatenation.
		c.log.Warn("No parsable WAV chunks, falling back to raw concatenation")

		var raw []byte
		for _, chunk := range audioChunks {
			raw = append(raw, chunk...)
		}

		return raw
	}

	result := encodeWAV(refFmt, merged)
	c.log.Info("Audio merge complete: %d bytes", len(result))

	return result
}

// Silence produces a silent mono PCM WAV segment of the given length in
// seconds, used as a stand-in for failed chunks.
func Silence(seconds float64) []byte {
	frames := make(
		[]byte,
		int(seconds*silenceSampleRate)*silenceChannels*silenceSampleWidth,
	)

	return encodeWAV(wavFormat{
		SampleRate:  silenceSampleRate,
		Channels:    silenceChannels,
		SampleWidth: silenceSampleWidth,
	}, frames)
}

// EstimateProcessing reports the expected chunk count and a rough synthesis
// time in seconds for operator visibility before a long run.
func (c *Chunker) EstimateProcessing(content string) (int, int) {
	chunks := c.Split(content)
	count := len(chunks)

	if count == 0 {
		return 0, 0
	}

	estimated := count*chunkOverheadSeconds +
		(count-1)*int(interChunkDelay.Seconds())

	return count, estimated
}
