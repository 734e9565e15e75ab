package locator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is how long the watcher waits after the last write
// before reloading.
const DefaultDebounce = 300 * time.Millisecond

// Watcher serves the latest Store loaded from a file. Readers always get a
// complete snapshot; a reload swaps the pointer and never edits a Store in
// place.
type Watcher struct {
	path     string
	debounce time.Duration
	log      zerolog.Logger
	onChange func(*Store)

	current atomic.Pointer[Store]

	mu    sync.Mutex
	timer *time.Timer
}

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	Debounce time.Duration
	Logger   zerolog.Logger
	// OnChange is called with the new snapshot after every successful reload.
	OnChange func(*Store)
}

// NewWatcher loads path once and returns a Watcher serving it. Call Run to
// follow later changes.
func NewWatcher(path string, opts WatcherOptions) (*Watcher, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	w := &Watcher{
		path:     path,
		debounce: opts.Debounce,
		log:      opts.Logger,
		onChange: opts.OnChange,
	}
	w.current.Store(s)
	return w, nil
}

// Snapshot returns the current store.
func (w *Watcher) Snapshot() *Store {
	return w.current.Load()
}

// Run watches the file's directory until ctx is done. Editors replace files
// by rename, so the directory is watched rather than the file itself.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	base := filepath.Base(w.path)

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Str("file", w.path).Msg("locator watch error")
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	s, err := Load(w.path)
	if err != nil {
		// Keep serving the last good snapshot.
		w.log.Warn().Err(err).Str("file", w.path).Msg("locator reload failed")
		return
	}
	w.current.Store(s)
	w.log.Info().Str("file", w.path).Int("pages", len(s.Pages)).Msg("locators reloaded")
	if w.onChange != nil {
		w.onChange(s)
	}
}
