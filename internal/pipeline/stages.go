package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yheihei/pdf-to-podcast/internal/assemble"
	"github.com/yheihei/pdf-to-podcast/internal/chunker"
	"github.com/yheihei/pdf-to-podcast/internal/core"
	"github.com/yheihei/pdf-to-podcast/internal/fileutil"
	"github.com/yheihei/pdf-to-podcast/internal/manifest"
	"github.com/yheihei/pdf-to-podcast/internal/notify"
)

// ErrNoTextExtracted marks items whose pages yielded no extractable text.
var ErrNoTextExtracted = errors.New("no text extracted for item")

// chunkFallbackDivisor halves the chunker limits for the one-shot
// resynthesis after a synthesis timeout on large content.
const (
	chunkFallbackDivisor   = 2
	largeContentRuneFloor  = 400
	numericDurationUnknown = 0.0
)

// runScriptStage generates narration scripts for every item that does not
// have one yet.
func (p *Pipeline) runScriptStage(ctx context.Context, items []workItem) (int, int) {
	pending := make([]workItem, 0, len(items))

	for _, wi := range items {
		if p.needsScript(wi) {
			pending = append(pending, wi)
		}
	}

	if len(pending) == 0 {
		p.deps.Log.Info("Script stage: nothing to do")

		return 0, 0
	}

	p.deps.Log.Info("Generating scripts for %d items", len(pending))

	return p.runGroup(ctx, pending, p.deps.LLMLimiter, p.processScriptItem)
}

func (p *Pipeline) needsScript(wi workItem) bool {
	status, known := p.itemStatus(wi.title)
	if !known {
		return true
	}

	switch status {
	case manifest.StatusPending, manifest.StatusFailed, manifest.StatusFailedRateLimit:
		return true
	case manifest.StatusScriptGenerated, manifest.StatusAudioGenerated, manifest.StatusCompleted:
		return false
	default:
		return true
	}
}

func (p *Pipeline) processScriptItem(ctx context.Context, wi workItem) bool {
	if p.opts.SkipExisting {
		exists, existsErr := p.deps.Artifacts.Exists(ctx, wi.scriptKey)
		if existsErr == nil && exists {
			p.deps.Log.Info("Skipping script for %q, artifact already present", wi.title)
			p.backfillScript(ctx, wi)

			return true
		}
	}

	if strings.TrimSpace(wi.item.Text) == "" {
		p.failItem(wi, notify.StageScript, fmt.Errorf("%w: %q", ErrNoTextExtracted, wi.title))

		return false
	}

	genCtx := core.GenerationContext{
		SeriesTitle:   p.opts.SeriesTitle,
		PreviousTitle: wi.prevTitle,
		NextTitle:     wi.nextTitle,
		Style:         p.opts.Style,
	}

	var generated string

	genErr := p.deps.LLMLimiter.Do(ctx, func(callCtx context.Context) error {
		content, err := p.deps.Generator.Generate(callCtx, wi.item, genCtx)
		if err != nil {
			return err
		}

		generated = content

		return nil
	})
	if genErr != nil {
		p.failItem(wi, notify.StageScript, genErr)

		return false
	}

	script := core.NewGeneratedScript(wi.item.ID, generated)

	result := p.deps.Validator.Validate(script.Content)
	p.deps.Validator.LogResults(result, wi.item.ID)

	if !result.IsValid() {
		p.failItem(wi, notify.StageScript, fmt.Errorf(
			"script validation failed: %s", strings.Join(result.Errors, "; "),
		))

		return false
	}

	ref, saveErr := p.deps.Artifacts.Save(ctx, wi.scriptKey, []byte(script.Content))
	if saveErr != nil {
		p.failItem(wi, notify.StageScript, saveErr)

		return false
	}

	p.updateItem(wi.title, manifest.Update{
		Status:     manifest.StatusPtr(manifest.StatusScriptGenerated),
		ScriptPath: manifest.StringPtr(ref),
		TextChars:  manifest.IntPtr(script.CharCount),
	})

	p.deps.Notifier.ItemProgress(notify.StageScript, wi.title, "completed", "")

	return true
}

// scriptStageDone reports whether the item already advanced past script
// generation.
func scriptStageDone(status manifest.ItemStatus) bool {
	switch status {
	case manifest.StatusScriptGenerated, manifest.StatusAudioGenerated, manifest.StatusCompleted:
		return true
	default:
		return false
	}
}

// audioStageDone reports whether the item already advanced past audio
// synthesis.
func audioStageDone(status manifest.ItemStatus) bool {
	switch status {
	case manifest.StatusAudioGenerated, manifest.StatusCompleted:
		return true
	default:
		return false
	}
}

// backfillScript records an already-present script artifact in the manifest.
// An entry that failed at a later stage still gets its status moved back to
// script_generated, so the audio stage picks the item up again on a rerun.
func (p *Pipeline) backfillScript(ctx context.Context, wi workItem) {
	entry := p.itemEntry(wi.title)
	if entry != nil && entry.ScriptPath != "" && scriptStageDone(entry.Status) {
		return
	}

	chars := 0

	data, loadErr := p.deps.Artifacts.Load(ctx, wi.scriptKey)
	if loadErr == nil {
		chars = len([]rune(string(data)))
	}

	p.updateItem(wi.title, manifest.Update{
		Status:     manifest.StatusPtr(manifest.StatusScriptGenerated),
		ScriptPath: manifest.StringPtr(p.artifactRef(wi.scriptKey)),
		TextChars:  manifest.IntPtr(chars),
	})
}

// runAudioStage synthesizes audio for every item holding a script.
func (p *Pipeline) runAudioStage(ctx context.Context, items []workItem) (int, int) {
	pending := make([]workItem, 0, len(items))

	for _, wi := range items {
		status, known := p.itemStatus(wi.title)
		if known && status == manifest.StatusScriptGenerated {
			pending = append(pending, wi)
		}
	}

	if len(pending) == 0 {
		p.deps.Log.Info("Audio stage: nothing to do")

		return 0, 0
	}

	p.deps.Log.Info("Synthesizing audio for %d items", len(pending))

	return p.runGroup(ctx, pending, p.deps.TTSLimiter, p.processAudioItem)
}

func (p *Pipeline) processAudioItem(ctx context.Context, wi workItem) bool {
	if p.opts.SkipExisting {
		exists, existsErr := p.deps.Artifacts.Exists(ctx, wi.audioKey)
		if existsErr == nil && exists {
			p.deps.Log.Info("Skipping audio for %q, artifact already present", wi.title)
			p.backfillAudio(ctx, wi)

			return true
		}
	}

	script, scriptErr := p.loadScript(ctx, wi)
	if scriptErr != nil {
		p.failItem(wi, notify.StageAudio, scriptErr)

		return false
	}

	audio, synthErr := p.synthesize(ctx, wi, script)
	if synthErr != nil {
		p.failItem(wi, notify.StageAudio, synthErr)

		return false
	}

	ref, saveErr := p.deps.Artifacts.Save(ctx, wi.audioKey, audio)
	if saveErr != nil {
		p.failItem(wi, notify.StageAudio, saveErr)

		return false
	}

	duration, durErr := chunker.Duration(audio)
	if durErr != nil {
		p.deps.Log.Warn("Could not read duration for %q: %v", wi.title, durErr)

		duration = numericDurationUnknown
	}

	p.updateItem(wi.title, manifest.Update{
		Status:        manifest.StatusPtr(manifest.StatusAudioGenerated),
		AudioPath:     manifest.StringPtr(ref),
		AudioDuration: manifest.FloatPtr(duration),
	})

	p.deps.Notifier.ItemProgress(notify.StageAudio, wi.title, "completed", "")

	return true
}

// loadScript reads the item's script from the artifact store, falling back
// to the path recorded in the manifest (audio-only runs resume from plain
// files).
func (p *Pipeline) loadScript(ctx context.Context, wi workItem) (string, error) {
	data, loadErr := p.deps.Artifacts.Load(ctx, wi.scriptKey)
	if loadErr == nil {
		return string(data), nil
	}

	entry := p.itemEntry(wi.title)
	if entry == nil || entry.ScriptPath == "" {
		return "", fmt.Errorf("no script available for %q: %w", wi.title, loadErr)
	}

	fileData, readErr := os.ReadFile(entry.ScriptPath)
	if readErr != nil {
		return "", fmt.Errorf("failed to read script file for %q: %w", wi.title, readErr)
	}

	return string(fileData), nil
}

// synthesize converts a script to audio, routing oversized scripts through
// the chunker transparently and retrying large content once through a
// tighter chunking after a timeout.
func (p *Pipeline) synthesize(ctx context.Context, wi workItem, script string) ([]byte, error) {
	chunks := p.deps.Chunker.Split(script)

	if len(chunks) > 1 {
		count, seconds := p.deps.Chunker.EstimateProcessing(script)
		p.deps.Log.Info(
			"Script for %q spans %d chunks, estimated %ds of synthesis",
			wi.title, count, seconds,
		)

		return p.synthesizeChunked(ctx, wi, p.deps.Chunker, chunks)
	}

	var audio []byte

	synthErr := p.deps.TTSLimiter.Do(ctx, func(callCtx context.Context) error {
		data, err := p.deps.Synthesizer.Synthesize(callCtx, script, p.opts.Voice)
		if err != nil {
			return err
		}

		audio = data

		return nil
	})
	if synthErr == nil {
		return audio, nil
	}

	if core.ClassOf(synthErr) == core.ClassTimeout && len([]rune(script)) > largeContentRuneFloor {
		p.deps.Log.Warn(
			"Synthesis for %q timed out, retrying once with chunked fallback",
			wi.title,
		)

		return p.chunkedFallback(ctx, wi, script)
	}

	return nil, synthErr
}

func (p *Pipeline) synthesizeChunked(
	ctx context.Context,
	wi workItem,
	chk *chunker.Chunker,
	chunks []chunker.Chunk,
) ([]byte, error) {
	parts, procErr := chk.ProcessSequentially(ctx, chunks,
		func(callCtx context.Context, text string) ([]byte, error) {
			var data []byte

			doErr := p.deps.TTSLimiter.Do(callCtx, func(opCtx context.Context) error {
				synthesized, err := p.deps.Synthesizer.Synthesize(opCtx, text, p.opts.Voice)
				if err != nil {
					return err
				}

				data = synthesized

				return nil
			})

			return data, doErr
		})
	if procErr != nil {
		return nil, fmt.Errorf("chunked synthesis for %q failed: %w", wi.title, procErr)
	}

	return chk.Merge(parts), nil
}

// chunkedFallback forces a split with halved limits for the one retry after
// a timeout on content the regular split left whole.
func (p *Pipeline) chunkedFallback(ctx context.Context, wi workItem, script string) ([]byte, error) {
	limits := chunker.DefaultLimits()
	limits.MaxSegments /= chunkFallbackDivisor
	limits.MaxChars /= chunkFallbackDivisor
	limits.PreferredSegments /= chunkFallbackDivisor
	limits.PreferredChars /= chunkFallbackDivisor

	fallback := chunker.New(limits, p.deps.Log)

	return p.synthesizeChunked(ctx, wi, fallback, fallback.Split(script))
}

// backfillAudio records an already-present audio artifact in the manifest.
// Like backfillScript it advances entries that failed at a later stage, so
// assembly still sees them.
func (p *Pipeline) backfillAudio(ctx context.Context, wi workItem) {
	entry := p.itemEntry(wi.title)
	if entry != nil && entry.AudioPath != "" && audioStageDone(entry.Status) {
		return
	}

	duration := numericDurationUnknown

	data, loadErr := p.deps.Artifacts.Load(ctx, wi.audioKey)
	if loadErr == nil {
		seconds, durErr := chunker.Duration(data)
		if durErr == nil {
			duration = seconds
		}
	}

	p.updateItem(wi.title, manifest.Update{
		Status:        manifest.StatusPtr(manifest.StatusAudioGenerated),
		AudioPath:     manifest.StringPtr(p.artifactRef(wi.audioKey)),
		AudioDuration: manifest.FloatPtr(duration),
	})
}

// failItem records a per-item failure in the manifest and keeps the stage
// going. Rate-limit exhaustion gets its dedicated status so an operator can
// rerun just those items after the window clears.
func (p *Pipeline) failItem(wi workItem, stage notify.Stage, cause error) {
	status := manifest.StatusFailed
	if errors.Is(cause, core.ErrRateLimitExceeded) {
		status = manifest.StatusFailedRateLimit
	}

	p.deps.Log.Error("Item %q failed at %s stage: %v", wi.title, stage, cause)

	p.updateItem(wi.title, manifest.Update{
		Status:       manifest.StatusPtr(status),
		ErrorMessage: manifest.StringPtr(cause.Error()),
	})

	p.deps.Notifier.ItemProgress(stage, wi.title, string(status), cause.Error())
}

// assembleEpisode concatenates every synthesized item, in document order,
// into the final episode and marks the assembled items completed.
func (p *Pipeline) assembleEpisode(ctx context.Context, items []workItem) error {
	assembled := make([]workItem, 0, len(items))
	chapters := make([]assemble.ChapterAudio, 0, len(items))

	for _, wi := range items {
		status, known := p.itemStatus(wi.title)
		if !known {
			continue
		}

		if status != manifest.StatusAudioGenerated && status != manifest.StatusCompleted {
			continue
		}

		localPath, matErr := p.materializeAudio(ctx, wi)
		if matErr != nil {
			p.deps.Log.Error("Skipping %q in episode assembly: %v", wi.title, matErr)

			continue
		}

		assembled = append(assembled, wi)
		chapters = append(chapters, assemble.ChapterAudio{Title: wi.title, Path: localPath})
	}

	if len(chapters) == 0 {
		p.deps.Log.Warn("No synthesized audio available, skipping episode assembly")

		return ErrNothingToMix
	}

	episodePath := filepath.Join(p.opts.OutputDir, episodeFileName)

	total, timestamps, mixErr := p.deps.Mixer.Mix(ctx, chapters, episodePath, assemble.Options{
		BGMPath:   p.opts.BGMPath,
		Normalize: p.opts.Normalize,
	})
	if mixErr != nil {
		return fmt.Errorf("episode assembly failed: %w", mixErr)
	}

	p.deps.Log.Info("Episode assembled: %s", fileutil.FormatDuration(total))

	for _, ts := range timestamps {
		p.deps.Log.Info("Chapter %q: %.1fs - %.1fs", ts.Title, ts.Start, ts.End)
	}

	p.manifestMu.Lock()
	episodeErr := p.deps.Manifest.SetEpisode(episodePath, total)
	p.manifestMu.Unlock()

	if episodeErr != nil {
		return fmt.Errorf("failed to record episode in manifest: %w", episodeErr)
	}

	for _, wi := range assembled {
		status, _ := p.itemStatus(wi.title)
		if status == manifest.StatusAudioGenerated {
			p.updateItem(wi.title, manifest.Update{
				Status: manifest.StatusPtr(manifest.StatusCompleted),
			})
		}
	}

	p.deps.Notifier.ItemProgress(notify.StageEpisode, episodeFileName, "completed",
		fileutil.FormatDuration(total))

	return nil
}
