// Package pipeline drives the podcast generation stages over the detected
// work items: structure detection, script generation, audio synthesis, and
// episode assembly. Per-item failures are recorded in the manifest and never
// abort the run; only setup failures propagate.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"golang.org/x/sync/errgroup"

	"github.com/yheihei/pdf-to-podcast/internal/assemble"
	"github.com/yheihei/pdf-to-podcast/internal/chunker"
	"github.com/yheihei/pdf-to-podcast/internal/core"
	"github.com/yheihei/pdf-to-podcast/internal/fileutil"
	"github.com/yheihei/pdf-to-podcast/internal/manifest"
	"github.com/yheihei/pdf-to-podcast/internal/notify"
	"github.com/yheihei/pdf-to-podcast/internal/ratelimit"
	"github.com/yheihei/pdf-to-podcast/internal/store"
	"github.com/yheihei/pdf-to-podcast/internal/validate"
)

const (
	// providerSafeConcurrency is the highest in-flight call count the
	// upstream services tolerate; user limits above it are clamped.
	providerSafeConcurrency = 4

	// Below this RPM budget even serialized submissions risk violating
	// the window, so an explicit delay is inserted between item
	// submissions on top of the limiter's own tracking.
	pacingRPMThreshold = 5
	interItemDelay     = 2 * time.Second

	episodeFileName = "episode.mp3"

	scriptKeyPrefix = "scripts"
	audioKeyPrefix  = "audio"
)

// Static errors.
var (
	ErrNoItems      = errors.New("no work items detected")
	ErrNoScripts    = errors.New("no script files found")
	ErrNothingToMix = errors.New("no synthesized audio available for assembly")
)

// EpisodeMixer assembles the ordered chapter audio into the final episode.
type EpisodeMixer interface {
	Mix(
		ctx context.Context,
		chapters []assemble.ChapterAudio,
		outputPath string,
		opts assemble.Options,
	) (float64, []assemble.ChapterTimestamp, error)
}

// PageReader is the slice of the PDF parser the orchestrator needs.
type PageReader interface {
	PageCount(ctx context.Context) (int, error)
	SampleText(ctx context.Context) (string, error)
	ExtractPages(ctx context.Context, startPage, endPage int) (string, error)
	Path() string
}

// Deps bundles the collaborators the orchestrator drives.
type Deps struct {
	Parser      PageReader
	Detector    core.StructureDetector
	Generator   core.ScriptGenerator
	Synthesizer core.AudioSynthesizer
	LLMLimiter  *ratelimit.Limiter
	TTSLimiter  *ratelimit.Limiter
	Artifacts   store.ArtifactStore
	Manifest    *manifest.Manager
	Chunker     *chunker.Chunker
	Validator   *validate.Validator
	Mixer       EpisodeMixer
	Notifier    *notify.Publisher
	Log         *logger.Logger
}

// Options carries the per-run settings.
type Options struct {
	OutputDir      string
	Model          string
	Voice          string
	MaxConcurrency int
	SkipExisting   bool
	BGMPath        string
	Normalize      bool
	SeriesTitle    string
	Style          string
}

// workItem pairs the detected chapter with its derived stable identifiers
// and the neighbor titles woven into the generation prompt.
type workItem struct {
	item      core.WorkItem
	title     string
	prevTitle string
	nextTitle string
	scriptKey string
	audioKey  string
}

// linkNeighbors fills each item's previous and next chapter titles.
func linkNeighbors(items []workItem) {
	for i := range items {
		if i > 0 {
			items[i].prevTitle = items[i-1].title
		}

		if i < len(items)-1 {
			items[i].nextTitle = items[i+1].title
		}
	}
}

// Pipeline orchestrates one run. The manifest mutex enforces the manifest's
// single-writer discipline while stages run items concurrently.
type Pipeline struct {
	deps       Deps
	opts       Options
	manifestMu sync.Mutex
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option adjusts pipeline construction.
type Option func(*Pipeline)

// WithSleep substitutes the pacing sleep, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pipeline) {
		p.sleep = sleep
	}
}

// New creates a pipeline for one run.
func New(deps Deps, opts Options, pipelineOpts ...Option) *Pipeline {
	p := &Pipeline{
		deps:  deps,
		opts:  opts,
		sleep: sleepContext,
	}

	for _, opt := range pipelineOpts {
		opt(p)
	}

	return p
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Run executes the full pipeline: detect structure, generate scripts,
// synthesize audio, assemble the episode.
func (p *Pipeline) Run(ctx context.Context) error {
	items, setupErr := p.detectItems(ctx)
	if setupErr != nil {
		return setupErr
	}

	manifestErr := p.setupManifest(items)
	if manifestErr != nil {
		return manifestErr
	}

	p.logSummary("run start")

	scriptOK, scriptFailed := p.runScriptStage(ctx, items)
	p.deps.Log.Info("Script stage finished: %d succeeded, %d failed", scriptOK, scriptFailed)

	audioOK, audioFailed := p.runAudioStage(ctx, items)
	p.deps.Log.Info("Audio stage finished: %d succeeded, %d failed", audioOK, audioFailed)

	assembleErr := p.assembleEpisode(ctx, items)
	if assembleErr != nil && !errors.Is(assembleErr, ErrNothingToMix) {
		return assembleErr
	}

	p.logSummary("run end")

	return nil
}

// RunAudioOnly resumes at the audio stage: items come from the existing
// manifest, or are inferred from the script files in scriptsDir when no
// manifest exists.
func (p *Pipeline) RunAudioOnly(ctx context.Context, scriptsDir string) error {
	items, setupErr := p.loadOrInferScriptItems(scriptsDir)
	if setupErr != nil {
		return setupErr
	}

	p.logSummary("audio-only run start")

	audioOK, audioFailed := p.runAudioStage(ctx, items)
	p.deps.Log.Info("Audio stage finished: %d succeeded, %d failed", audioOK, audioFailed)

	assembleErr := p.assembleEpisode(ctx, items)
	if assembleErr != nil && !errors.Is(assembleErr, ErrNothingToMix) {
		return assembleErr
	}

	p.logSummary("audio-only run end")

	return nil
}

// detectItems samples the document, asks the detector for chapter
// boundaries, and extracts each chapter's text.
func (p *Pipeline) detectItems(ctx context.Context) ([]workItem, error) {
	totalPages, countErr := p.deps.Parser.PageCount(ctx)
	if countErr != nil {
		return nil, fmt.Errorf("failed to read page count: %w", countErr)
	}

	sample, sampleErr := p.deps.Parser.SampleText(ctx)
	if sampleErr != nil {
		return nil, fmt.Errorf("failed to extract sample text: %w", sampleErr)
	}

	var chapters []core.ChapterSpec

	detectErr := p.deps.LLMLimiter.Do(ctx, func(callCtx context.Context) error {
		detected, err := p.deps.Detector.Detect(callCtx, sample, totalPages)
		if err != nil {
			return err
		}

		chapters = detected

		return nil
	})
	if detectErr != nil {
		return nil, fmt.Errorf("structure detection failed: %w", detectErr)
	}

	if len(chapters) == 0 {
		return nil, ErrNoItems
	}

	p.deps.Notifier.ItemProgress(notify.StageStructure,
		filepath.Base(p.deps.Parser.Path()), "completed",
		fmt.Sprintf("%d chapters detected", len(chapters)))

	return p.buildItems(ctx, chapters), nil
}

// buildItems derives stable identifiers and extracts text for each detected
// chapter. Extraction failures leave the item's text empty; the script stage
// records the failure per item instead of aborting the run.
func (p *Pipeline) buildItems(ctx context.Context, chapters []core.ChapterSpec) []workItem {
	items := make([]workItem, 0, len(chapters))
	usedIDs := make(map[string]bool, len(chapters))

	for i, chapter := range chapters {
		id := uniqueID(fileutil.SafeID(chapter.Title), usedIDs)

		text, extractErr := p.deps.Parser.ExtractPages(ctx, chapter.StartPage, chapter.EndPage)
		if extractErr != nil {
			p.deps.Log.Error(
				"Failed to extract text for %q (pages %d-%d): %v",
				chapter.Title, chapter.StartPage, chapter.EndPage, extractErr,
			)
		}

		items = append(items, workItem{
			item: core.WorkItem{
				ID:        id,
				Ordinal:   i + 1,
				StartPage: chapter.StartPage,
				EndPage:   chapter.EndPage,
				Text:      text,
				ParentID:  "",
			},
			title:     chapter.Title,
			scriptKey: fmt.Sprintf("%s/%s.txt", scriptKeyPrefix, id),
			audioKey:  fmt.Sprintf("%s/%02d_%s.wav", audioKeyPrefix, i+1, id),
		})
	}

	linkNeighbors(items)

	return items
}

// uniqueID resolves safe-id collisions within one run by appending a
// numeric suffix, matching the on-disk collision policy.
func uniqueID(id string, used map[string]bool) string {
	if !used[id] {
		used[id] = true

		return id
	}

	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s_%d", id, n)
		if !used[candidate] {
			used[candidate] = true

			return candidate
		}
	}
}

// setupManifest loads the output directory's manifest, creating it with one
// pending entry per item on a fresh run.
func (p *Pipeline) setupManifest(items []workItem) error {
	existing, loadErr := p.deps.Manifest.Load()
	if loadErr != nil {
		return fmt.Errorf("failed to load manifest: %w", loadErr)
	}

	if existing != nil {
		p.deps.Log.Info("Resuming from existing manifest with %d entries", len(existing.Items))

		return nil
	}

	entries := make([]manifest.ItemEntry, 0, len(items))
	for _, wi := range items {
		entries = append(entries, manifest.ItemEntry{
			Title:     wi.title,
			StartPage: wi.item.StartPage,
			EndPage:   wi.item.EndPage,
			Status:    manifest.StatusPending,
		})
	}

	_, createErr := p.deps.Manifest.Create(manifest.Config{
		PDFPath:        p.deps.Parser.Path(),
		OutputDir:      p.opts.OutputDir,
		Model:          p.opts.Model,
		Voice:          p.opts.Voice,
		MaxConcurrency: p.opts.MaxConcurrency,
		SkipExisting:   p.opts.SkipExisting,
		BGMPath:        p.opts.BGMPath,
	}, entries)
	if createErr != nil {
		return fmt.Errorf("failed to create manifest: %w", createErr)
	}

	return nil
}

// loadOrInferScriptItems restores the item set for an audio-only run from
// the manifest, falling back to scanning scriptsDir for script files.
func (p *Pipeline) loadOrInferScriptItems(scriptsDir string) ([]workItem, error) {
	existing, loadErr := p.deps.Manifest.Load()
	if loadErr != nil {
		return nil, fmt.Errorf("failed to load manifest: %w", loadErr)
	}

	if existing != nil {
		return p.itemsFromManifest(existing), nil
	}

	return p.itemsFromScriptsDir(scriptsDir)
}

func (p *Pipeline) itemsFromManifest(m *manifest.Manifest) []workItem {
	items := make([]workItem, 0, len(m.Items))
	usedIDs := make(map[string]bool, len(m.Items))

	for i, entry := range m.Items {
		id := uniqueID(fileutil.SafeID(entry.Title), usedIDs)

		items = append(items, workItem{
			item: core.WorkItem{
				ID:        id,
				Ordinal:   i + 1,
				StartPage: entry.StartPage,
				EndPage:   entry.EndPage,
			},
			title:     entry.Title,
			scriptKey: fmt.Sprintf("%s/%s.txt", scriptKeyPrefix, id),
			audioKey:  fmt.Sprintf("%s/%02d_%s.wav", audioKeyPrefix, i+1, id),
		})
	}

	return items
}

// itemsFromScriptsDir builds items from the script files themselves and
// creates a fresh manifest recording them as script_generated.
func (p *Pipeline) itemsFromScriptsDir(scriptsDir string) ([]workItem, error) {
	paths, globErr := filepath.Glob(filepath.Join(scriptsDir, "*.txt"))
	if globErr != nil {
		return nil, fmt.Errorf("failed to scan scripts directory: %w", globErr)
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoScripts, scriptsDir)
	}

	items := make([]workItem, 0, len(paths))
	entries := make([]manifest.ItemEntry, 0, len(paths))
	usedIDs := make(map[string]bool, len(paths))

	for i, path := range paths {
		title := strings.TrimSuffix(filepath.Base(path), ".txt")
		id := uniqueID(fileutil.SafeID(title), usedIDs)

		items = append(items, workItem{
			item: core.WorkItem{
				ID:      id,
				Ordinal: i + 1,
			},
			title:     title,
			scriptKey: fmt.Sprintf("%s/%s.txt", scriptKeyPrefix, id),
			audioKey:  fmt.Sprintf("%s/%02d_%s.wav", audioKeyPrefix, i+1, id),
		})

		entries = append(entries, manifest.ItemEntry{
			Title:      title,
			Status:     manifest.StatusScriptGenerated,
			ScriptPath: path,
		})
	}

	_, createErr := p.deps.Manifest.Create(manifest.Config{
		PDFPath:        "",
		OutputDir:      p.opts.OutputDir,
		Model:          p.opts.Model,
		Voice:          p.opts.Voice,
		MaxConcurrency: p.opts.MaxConcurrency,
		SkipExisting:   p.opts.SkipExisting,
		BGMPath:        p.opts.BGMPath,
	}, entries)
	if createErr != nil {
		return nil, fmt.Errorf("failed to create manifest: %w", createErr)
	}

	return items, nil
}

// effectiveConcurrency clamps the user-configured limit to the
// provider-safe ceiling.
func (p *Pipeline) effectiveConcurrency() int {
	limit := p.opts.MaxConcurrency
	if limit < 1 {
		limit = 1
	}

	if limit > providerSafeConcurrency {
		p.deps.Log.Warn(
			"Requested concurrency %d exceeds the provider-safe limit, clamping to %d",
			limit, providerSafeConcurrency,
		)

		limit = providerSafeConcurrency
	}

	return limit
}

// paceSubmissions reports whether the stage must insert a fixed delay
// between item submissions because the RPM budget is too small for
// back-to-back calls.
func paceSubmissions(limiter *ratelimit.Limiter) bool {
	return limiter.Stats().RPMLimit < pacingRPMThreshold
}

// updateItem serializes manifest writes across stage goroutines.
func (p *Pipeline) updateItem(title string, update manifest.Update) {
	p.manifestMu.Lock()
	defer p.manifestMu.Unlock()

	known, updateErr := p.deps.Manifest.UpdateItem(title, update)
	if updateErr != nil {
		p.deps.Log.Error("Failed to persist manifest update for %q: %v", title, updateErr)

		return
	}

	if !known {
		p.deps.Log.Warn("Manifest has no entry for %q, update dropped", title)
	}
}

// itemStatus reads an item's current status under the manifest lock.
func (p *Pipeline) itemStatus(title string) (manifest.ItemStatus, bool) {
	p.manifestMu.Lock()
	defer p.manifestMu.Unlock()

	entry := p.deps.Manifest.Item(title)
	if entry == nil {
		return "", false
	}

	return entry.Status, true
}

func (p *Pipeline) itemEntry(title string) *manifest.ItemEntry {
	p.manifestMu.Lock()
	defer p.manifestMu.Unlock()

	return p.deps.Manifest.Item(title)
}

// logSummary prints the manifest's progress block.
func (p *Pipeline) logSummary(label string) {
	p.manifestMu.Lock()
	summary := p.deps.Manifest.Summary()
	p.manifestMu.Unlock()

	p.deps.Log.Info("Progress (%s): %d items, %d completed, %d failed, %.1f%% complete",
		label, summary.Total, summary.Completed, summary.Failed, summary.PercentComplete)

	for status, count := range summary.StatusCounts {
		p.deps.Log.Info("  %s: %d", status, count)
	}
}

// runGroup executes fn for each item through a bounded errgroup, applying
// the inter-item pacing delay when the limiter budget demands it. fn returns
// true on success; failures are already recorded item-locally, so the group
// itself never fails.
func (p *Pipeline) runGroup(
	ctx context.Context,
	items []workItem,
	limiter *ratelimit.Limiter,
	fn func(ctx context.Context, wi workItem) bool,
) (int, int) {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.effectiveConcurrency())

	pace := paceSubmissions(limiter)

	var mu sync.Mutex

	succeeded, failed := 0, 0

	for i, wi := range items {
		if groupCtx.Err() != nil {
			break
		}

		if pace && i > 0 {
			sleepErr := p.sleep(groupCtx, interItemDelay)
			if sleepErr != nil {
				break
			}
		}

		group.Go(func() error {
			ok := fn(groupCtx, wi)

			mu.Lock()
			if ok {
				succeeded++
			} else {
				failed++
			}
			mu.Unlock()

			return nil
		})
	}

	_ = group.Wait()

	return succeeded, failed
}

// artifactRef resolves the durable reference recorded in the manifest for a
// store key without re-saving: the filesystem store exposes absolute paths,
// other stores use the key itself.
func (p *Pipeline) artifactRef(key string) string {
	if fs, ok := p.deps.Artifacts.(*store.FSStore); ok {
		return fs.Path(key)
	}

	return key
}

// materializeAudio ensures an item's audio exists as a local file for
// ffmpeg, downloading from the artifact store when it is not
// filesystem-backed.
func (p *Pipeline) materializeAudio(ctx context.Context, wi workItem) (string, error) {
	if fs, ok := p.deps.Artifacts.(*store.FSStore); ok {
		return fs.Path(wi.audioKey), nil
	}

	data, loadErr := p.deps.Artifacts.Load(ctx, wi.audioKey)
	if loadErr != nil {
		return "", fmt.Errorf("failed to load audio %q: %w", wi.audioKey, loadErr)
	}

	localPath := fileutil.UniquePath(
		filepath.Join(os.TempDir(), fmt.Sprintf("podcast_%02d_%s.wav", wi.item.Ordinal, wi.item.ID)),
	)

	writeErr := os.WriteFile(localPath, data, 0o600)
	if writeErr != nil {
		return "", fmt.Errorf("failed to materialize audio %q: %w", wi.audioKey, writeErr)
	}

	return localPath, nil
}
