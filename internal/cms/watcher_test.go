package cms

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopkg.in/yaml.v3"
)

// Event delivery through fsnotify is timing-dependent, so these tests
// drive the debounced reload directly instead of starting the loop.

func writeSelectorFile(t *testing.T, m *SelectorMap) string {
	t.Helper()
	data, err := yaml.Marshal(m)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "cms_selectors.yaml")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func forceReload(w *Watcher) {
	w.mu.Lock()
	w.pendingAt = time.Now().Add(-time.Second)
	w.mu.Unlock()
	w.reloadIfSettled()
}

func TestWatcherServesInitialMap(t *testing.T) {
	path := writeSelectorFile(t, Default())

	w, err := NewWatcher(path)
	require.NoError(t, err)
	defer w.watcher.Close()

	require.NotNil(t, w.Current())
	assert.Equal(t, 1, w.Current().Version)
	assert.Zero(t, w.Reloads())
}

func TestWatcherRequiresValidInitialMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cms_selectors.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1"), 0644))

	_, err := NewWatcher(path)
	require.Error(t, err)
}

func TestWatcherAppliesValidReload(t *testing.T) {
	path := writeSelectorFile(t, Default())
	w, err := NewWatcher(path)
	require.NoError(t, err)
	defer w.watcher.Close()

	next := Default()
	next.Version = 2
	next.Compose.Title = "#headline"
	data, err := yaml.Marshal(next)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	forceReload(w)

	assert.Equal(t, 2, w.Current().Version)
	assert.Equal(t, "#headline", w.Current().Compose.Title)
	assert.Equal(t, 1, w.Reloads())
}

func TestWatcherKeepsPreviousMapOnBadReload(t *testing.T) {
	path := writeSelectorFile(t, Default())
	w, err := NewWatcher(path)
	require.NoError(t, err)
	defer w.watcher.Close()

	require.NoError(t, os.WriteFile(path, []byte("compose: [broken"), 0644))
	forceReload(w)

	assert.Equal(t, 1, w.Current().Version, "previous map survives")
	assert.Zero(t, w.Reloads())
	assert.Equal(t, 1, w.failures)
}

func TestWatcherDebounceWindow(t *testing.T) {
	path := writeSelectorFile(t, Default())
	w, err := NewWatcher(path)
	require.NoError(t, err)
	defer w.watcher.Close()

	next := Default()
	next.Version = 3
	data, err := yaml.Marshal(next)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	// Fresh event: inside the debounce window, nothing reloads yet.
	w.mu.Lock()
	w.pendingAt = time.Now()
	w.mu.Unlock()
	w.reloadIfSettled()
	assert.Equal(t, 1, w.Current().Version)

	forceReload(w)
	assert.Equal(t, 3, w.Current().Version)
}
