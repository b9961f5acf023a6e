// Package manifest_test tests durable progress tracking.
package manifest_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yheihei/pdf-to-podcast/internal/manifest"
)

func newManager(t *testing.T) (*manifest.Manager, string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, manifest.FileName)

	testLogger, err := logger.New(dir, "manifest-test.log")
	require.NoError(t, err)

	return manifest.NewManager(path, testLogger), path
}

func testConfig(dir string) manifest.Config {
	return manifest.Config{
		PDFPath:        "/books/sample.pdf",
		OutputDir:      dir,
		Model:          "detect:flash, script:pro, tts:pro-tts",
		Voice:          "Kore",
		MaxConcurrency: 2,
		SkipExisting:   false,
		BGMPath:        "",
	}
}

func testItems() []manifest.ItemEntry {
	return []manifest.ItemEntry{
		{Title: "Intro", StartPage: 1, EndPage: 5},
		{Title: "Body", StartPage: 6, EndPage: 20},
	}
}

func TestCreatePersistsImmediately(t *testing.T) {
	t.Parallel()

	mgr, path := newManager(t)

	created, err := mgr.Create(testConfig(t.TempDir()), testItems())
	require.NoError(t, err)
	require.Len(t, created.Items, 2)
	assert.Equal(t, manifest.StatusPending, created.Items[0].Status)

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
}

func TestLoadMissingIsNotError(t *testing.T) {
	t.Parallel()

	mgr, _ := newManager(t)

	loaded, err := mgr.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestLoadRoundTrip(t *testing.T) {
	t.Parallel()

	mgr, path := newManager(t)

	_, err := mgr.Create(testConfig(t.TempDir()), testItems())
	require.NoError(t, err)

	ok, err := mgr.UpdateItem("Intro", manifest.Update{
		Status:     manifest.StatusPtr(manifest.StatusScriptGenerated),
		ScriptPath: manifest.StringPtr("/out/scripts/Intro.txt"),
		TextChars:  manifest.IntPtr(1234),
	})
	require.NoError(t, err)
	require.True(t, ok)

	testLogger, err := logger.New(t.TempDir(), "reload.log")
	require.NoError(t, err)

	reloaded, err := manifest.NewManager(path, testLogger).Load()
	require.NoError(t, err)
	require.NotNil(t, reloaded)

	require.Len(t, reloaded.Items, 2)
	assert.Equal(t, manifest.StatusScriptGenerated, reloaded.Items[0].Status)
	assert.Equal(t, "/out/scripts/Intro.txt", reloaded.Items[0].ScriptPath)
	assert.Equal(t, 1234, reloaded.Items[0].TextChars)
	assert.Equal(t, manifest.StatusPending, reloaded.Items[1].Status)
}

func TestUpdateItemPartialFields(t *testing.T) {
	t.Parallel()

	mgr, _ := newManager(t)

	_, err := mgr.Create(testConfig(t.TempDir()), testItems())
	require.NoError(t, err)

	_, err = mgr.UpdateItem("Body", manifest.Update{
		Status:     manifest.StatusPtr(manifest.StatusScriptGenerated),
		ScriptPath: manifest.StringPtr("/out/scripts/Body.txt"),
	})
	require.NoError(t, err)

	// A later update touching only the status leaves the script path
	// intact.
	_, err = mgr.UpdateItem("Body", manifest.Update{
		Status: manifest.StatusPtr(manifest.StatusAudioGenerated),
	})
	require.NoError(t, err)

	entry := mgr.Item("Body")
	require.NotNil(t, entry)
	assert.Equal(t, manifest.StatusAudioGenerated, entry.Status)
	assert.Equal(t, "/out/scripts/Body.txt", entry.ScriptPath)
}

func TestUpdateItemUnknownTitle(t *testing.T) {
	t.Parallel()

	mgr, _ := newManager(t)

	_, err := mgr.Create(testConfig(t.TempDir()), testItems())
	require.NoError(t, err)

	ok, err := mgr.UpdateItem("Missing", manifest.Update{
		Status: manifest.StatusPtr(manifest.StatusFailed),
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateBeforeCreate(t *testing.T) {
	t.Parallel()

	mgr, _ := newManager(t)

	_, err := mgr.UpdateItem("Intro", manifest.Update{})
	require.ErrorIs(t, err, manifest.ErrNoManifest)
}

func TestResumptionLeavesCompletedUntouched(t *testing.T) {
	t.Parallel()

	mgr, path := newManager(t)

	_, err := mgr.Create(testConfig(t.TempDir()), []manifest.ItemEntry{
		{Title: "A", StartPage: 1, EndPage: 2},
		{Title: "B", StartPage: 3, EndPage: 4},
	})
	require.NoError(t, err)

	_, err = mgr.UpdateItem("A", manifest.Update{
		Status: manifest.StatusPtr(manifest.StatusCompleted),
	})
	require.NoError(t, err)

	completedAt := mgr.Item("A").UpdatedAt

	// A resumed run loads the manifest and only touches B.
	testLogger, err := logger.New(t.TempDir(), "resume.log")
	require.NoError(t, err)

	resumed := manifest.NewManager(path, testLogger)
	_, err = resumed.Load()
	require.NoError(t, err)

	_, err = resumed.UpdateItem("B", manifest.Update{
		Status: manifest.StatusPtr(manifest.StatusCompleted),
	})
	require.NoError(t, err)

	assert.Equal(t, completedAt, resumed.Item("A").UpdatedAt)
	assert.Equal(t, manifest.StatusCompleted, resumed.Item("A").Status)
}

func TestSummaryArithmetic(t *testing.T) {
	t.Parallel()

	mgr, _ := newManager(t)

	items := []manifest.ItemEntry{
		{Title: "c1"}, {Title: "c2"}, {Title: "c3"},
		{Title: "f1"}, {Title: "p1"},
	}

	_, err := mgr.Create(testConfig(t.TempDir()), items)
	require.NoError(t, err)

	for _, title := range []string{"c1", "c2", "c3"} {
		_, err = mgr.UpdateItem(title, manifest.Update{
			Status: manifest.StatusPtr(manifest.StatusCompleted),
		})
		require.NoError(t, err)
	}

	_, err = mgr.UpdateItem("f1", manifest.Update{
		Status:       manifest.StatusPtr(manifest.StatusFailed),
		ErrorMessage: manifest.StringPtr("synthesis produced no audio"),
	})
	require.NoError(t, err)

	summary := mgr.Summary()
	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 3, summary.Completed)
	assert.Equal(t, 1, summary.Failed)
	assert.InDelta(t, 60.0, summary.PercentComplete, 0.001)
	assert.Equal(t, 1, summary.StatusCounts[manifest.StatusPending])
	assert.False(t, summary.EpisodeReady)

	require.NoError(t, mgr.SetEpisode("/out/episode.mp3", 3600))
	assert.True(t, mgr.Summary().EpisodeReady)
	assert.InDelta(t, 3600.0, mgr.Manifest().TotalDuration, 0.001)
}

func TestSummaryEmpty(t *testing.T) {
	t.Parallel()

	mgr, _ := newManager(t)

	summary := mgr.Summary()
	assert.Zero(t, summary.Total)
	assert.Zero(t, summary.PercentComplete)
}

func TestAtomicReplaceLeavesNoTempFile(t *testing.T) {
	t.Parallel()

	mgr, path := newManager(t)

	_, err := mgr.Create(testConfig(t.TempDir()), testItems())
	require.NoError(t, err)

	_, err = mgr.UpdateItem("Intro", manifest.Update{
		Status: manifest.StatusPtr(manifest.StatusCompleted),
	})
	require.NoError(t, err)

	_, statErr := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(statErr))
}
