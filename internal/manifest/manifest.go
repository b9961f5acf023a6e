// Package manifest persists per-item pipeline progress so an interrupted run
// can resume without redoing completed work.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
)

// FileName is the fixed manifest name inside a run's output directory.
const FileName = "manifest.json"

const (
	dirPermissions  = 0o750
	filePermissions = 0o600
)

// ErrNoManifest indicates an operation that requires a created or loaded
// manifest was called before either happened.
var ErrNoManifest = errors.New("no manifest created or loaded")

// ItemStatus is the processing state of one work item.
type ItemStatus string

// Item lifecycle states. Transitions run forward along
// pending -> script_generated -> audio_generated -> completed, with the two
// failure states reachable from any non-terminal state.
const (
	StatusPending         ItemStatus = "pending"
	StatusScriptGenerated ItemStatus = "script_generated"
	StatusAudioGenerated  ItemStatus = "audio_generated"
	StatusCompleted       ItemStatus = "completed"
	StatusFailed          ItemStatus = "failed"
	StatusFailedRateLimit ItemStatus = "failed_rate_limit"
)

// ItemEntry is the durable progress record for one work item. Entries are
// created once and only ever updated, never deleted.
type ItemEntry struct {
	Title         string     `json:"title"`
	StartPage     int        `json:"start_page"`
	EndPage       int        `json:"end_page"`
	Status        ItemStatus `json:"status"`
	ScriptPath    string     `json:"script_path,omitempty"`
	AudioPath     string     `json:"audio_path,omitempty"`
	TextChars     int        `json:"text_chars,omitempty"`
	AudioDuration float64    `json:"audio_duration,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     string     `json:"created_at"`
	UpdatedAt     string     `json:"updated_at"`
}

// Manifest is the aggregate progress record for one run.
type Manifest struct {
	PDFPath        string      `json:"pdf_path"`
	OutputDir      string      `json:"output_dir"`
	Model          string      `json:"model"`
	Voice          string      `json:"voice"`
	MaxConcurrency int         `json:"max_concurrency"`
	SkipExisting   bool        `json:"skip_existing"`
	CreatedAt      string      `json:"created_at"`
	UpdatedAt      string      `json:"updated_at"`
	Items          []ItemEntry `json:"chapters"`
	EpisodePath    string      `json:"episode_path,omitempty"`
	TotalDuration  float64     `json:"total_duration,omitempty"`
	BGMPath        string      `json:"bgm_path,omitempty"`
}

// Config carries the run settings recorded in a new manifest.
type Config struct {
	PDFPath        string
	OutputDir      string
	Model          string
	Voice          string
	MaxConcurrency int
	SkipExisting   bool
	BGMPath        string
}

// Update describes a partial change to one item entry. Nil fields are left
// unchanged.
type Update struct {
	Status        *ItemStatus
	ScriptPath    *string
	AudioPath     *string
	TextChars     *int
	AudioDuration *float64
	ErrorMessage  *string
}

// Summary is a pure read of overall run progress.
type Summary struct {
	Total           int
	Completed       int
	Failed          int
	PercentComplete float64
	StatusCounts    map[ItemStatus]int
	EpisodeReady    bool
}

// Manager owns the manifest file. It is the single writer: every mutation is
// persisted synchronously before the call returns, and each write fully
// replaces the on-disk file so a concurrent reader never sees a partial
// state.
type Manager struct {
	path     string
	log      *logger.Logger
	manifest *Manifest
	now      func() time.Time
}

// NewManager creates a Manager bound to the given manifest path.
func NewManager(path string, log *logger.Logger) *Manager {
	return &Manager{
		path:     path,
		log:      log,
		manifest: nil,
		now:      time.Now,
	}
}

// Create builds a fresh manifest with one pending entry per item, persists
// it immediately, and returns the in-memory aggregate.
func (m *Manager) Create(cfg Config, items []ItemEntry) (*Manifest, error) {
	now := m.now().Format(time.RFC3339)

	for i := range items {
		if items[i].Status == "" {
			items[i].Status = StatusPending
		}

		items[i].CreatedAt = now
		items[i].UpdatedAt = now
	}

	m.manifest = &Manifest{
		PDFPath:        cfg.PDFPath,
		OutputDir:      cfg.OutputDir,
		Model:          cfg.Model,
		Voice:          cfg.Voice,
		MaxConcurrency: cfg.MaxConcurrency,
		SkipExisting:   cfg.SkipExisting,
		CreatedAt:      now,
		UpdatedAt:      now,
		Items:          items,
		EpisodePath:    "",
		TotalDuration:  0,
		BGMPath:        cfg.BGMPath,
	}

	saveErr := m.Save()
	if saveErr != nil {
		return nil, saveErr
	}

	m.log.Info("Created manifest with %d items", len(items))

	return m.manifest, nil
}

// Load reads a previously persisted manifest. A missing file is not an
// error; it returns (nil, nil) so the caller can decide to create one.
func (m *Manager) Load() (*Manifest, error) {
	data, readErr := os.ReadFile(m.path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read manifest %s: %w", m.path, readErr)
	}

	var loaded Manifest

	unmarshalErr := json.Unmarshal(data, &loaded)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", m.path, unmarshalErr)
	}

	m.manifest = &loaded
	m.log.Info("Loaded manifest with %d items", len(loaded.Items))

	return m.manifest, nil
}

// Save persists the full manifest, replacing the on-disk file atomically via
// a temp-file rename.
func (m *Manager) Save() error {
	if m.manifest == nil {
		return ErrNoManifest
	}

	m.manifest.UpdatedAt = m.now().Format(time.RFC3339)

	mkdirErr := os.MkdirAll(filepath.Dir(m.path), dirPermissions)
	if mkdirErr != nil {
		return fmt.Errorf("failed to create manifest directory: %w", mkdirErr)
	}

	data, marshalErr := json.MarshalIndent(m.manifest, "", "  ")
	if marshalErr != nil {
		return fmt.Errorf("failed to marshal manifest: %w", marshalErr)
	}

	tmpPath := m.path + ".tmp"

	writeErr := os.WriteFile(tmpPath, data, filePermissions)
	if writeErr != nil {
		return fmt.Errorf("failed to write manifest temp file: %w", writeErr)
	}

	renameErr := os.Rename(tmpPath, m.path)
	if renameErr != nil {
		return fmt.Errorf("failed to replace manifest: %w", renameErr)
	}

	return nil
}

// UpdateItem applies the supplied fields to the entry with the given title,
// stamps its update time, and persists the manifest before returning. It
// returns false when no entry matches; the caller decides whether that is
// fatal.
func (m *Manager) UpdateItem(title string, update Update) (bool, error) {
	if m.manifest == nil {
		return false, ErrNoManifest
	}

	for i := range m.manifest.Items {
		entry := &m.manifest.Items[i]
		if entry.Title != title {
			continue
		}

		if update.Status != nil {
			entry.Status = *update.Status
		}

		if update.ScriptPath != nil {
			entry.ScriptPath = *update.ScriptPath
		}

		if update.AudioPath != nil {
			entry.AudioPath = *update.AudioPath
		}

		if update.TextChars != nil {
			entry.TextChars = *update.TextChars
		}

		if update.AudioDuration != nil {
			entry.AudioDuration = *update.AudioDuration
		}

		if update.ErrorMessage != nil {
			entry.ErrorMessage = *update.ErrorMessage
		}

		entry.UpdatedAt = m.now().Format(time.RFC3339)

		saveErr := m.Save()
		if saveErr != nil {
			return false, saveErr
		}

		return true, nil
	}

	return false, nil
}

// Item returns the entry with the given title, or nil.
func (m *Manager) Item(title string) *ItemEntry {
	if m.manifest == nil {
		return nil
	}

	for i := range m.manifest.Items {
		if m.manifest.Items[i].Title == title {
			return &m.manifest.Items[i]
		}
	}

	return nil
}

// ItemsByStatus returns the entries currently in the given state.
func (m *Manager) ItemsByStatus(status ItemStatus) []ItemEntry {
	if m.manifest == nil {
		return nil
	}

	var matched []ItemEntry
	for _, entry := range m.manifest.Items {
		if entry.Status == status {
			matched = append(matched, entry)
		}
	}

	return matched
}

// SetEpisode records the final episode path and total duration.
func (m *Manager) SetEpisode(path string, totalDuration float64) error {
	if m.manifest == nil {
		return ErrNoManifest
	}

	m.manifest.EpisodePath = path
	if totalDuration > 0 {
		m.manifest.TotalDuration = totalDuration
	}

	return m.Save()
}

// Summary derives overall progress from the current entries.
func (m *Manager) Summary() Summary {
	counts := make(map[ItemStatus]int)

	if m.manifest == nil {
		return Summary{
			Total:           0,
			Completed:       0,
			Failed:          0,
			PercentComplete: 0,
			StatusCounts:    counts,
			EpisodeReady:    false,
		}
	}

	for _, entry := range m.manifest.Items {
		counts[entry.Status]++
	}

	total := len(m.manifest.Items)
	completed := counts[StatusCompleted]
	failed := counts[StatusFailed] + counts[StatusFailedRateLimit]

	percent := 0.0
	if total > 0 {
		percent = float64(completed) / float64(total) * 100
	}

	return Summary{
		Total:           total,
		Completed:       completed,
		Failed:          failed,
		PercentComplete: percent,
		StatusCounts:    counts,
		EpisodeReady:    m.manifest.EpisodePath != "",
	}
}

// Manifest exposes the current in-memory aggregate, or nil before Create or
// Load.
func (m *Manager) Manifest() *Manifest {
	return m.manifest
}

// StatusPtr is a convenience for building partial updates.
func StatusPtr(status ItemStatus) *ItemStatus {
	return &status
}

// StringPtr is a convenience for building partial updates.
func StringPtr(s string) *string {
	return &s
}

// IntPtr is a convenience for building partial updates.
func IntPtr(n int) *int {
	return &n
}

// FloatPtr is a convenience for building partial updates.
func FloatPtr(f float64) *float64 {
	return &f
}
