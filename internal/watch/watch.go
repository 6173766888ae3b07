package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/user/rowwatch"
)

// Trigger is called after the watched file settles; poller.ForceCycle fits.
type Trigger func(ctx context.Context) error

// Watcher nudges the poller when a file-backed store changes on disk, so a
// new row is picked up before the next scheduled cycle. It never replaces
// the schedule.
type Watcher struct {
	path     string
	debounce time.Duration
	trigger  Trigger
	logger   rowwatch.Logger

	mu       sync.Mutex
	triggers uint64
}

func New(path string, debounce time.Duration, trigger Trigger) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("watch: path is required")
	}
	if trigger == nil {
		return nil, errors.New("watch: trigger is required")
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve %s: %w", path, err)
	}
	if dir, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		abs = filepath.Join(dir, filepath.Base(abs))
	}
	return &Watcher{path: abs, debounce: debounce, trigger: trigger, logger: rowwatch.NopLogger{}}, nil
}

func (w *Watcher) SetLogger(logger rowwatch.Logger) {
	if logger == nil {
		logger = rowwatch.NopLogger{}
	}
	w.logger = logger
}

// Triggers returns how many times the trigger has fired.
func (w *Watcher) Triggers() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.triggers
}

// relevant matches the store file and its sqlite side files (-wal, -journal).
func (w *Watcher) relevant(name string) bool {
	name = filepath.Clean(name)
	if name == w.path {
		return true
	}
	return strings.HasPrefix(name, w.path+"-")
}

// Run watches the file's directory until ctx is done. Writes inside one
// debounce window collapse into one trigger.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: create watcher: %w", err)
	}
	defer fw.Close()

	// Watch the directory; sqlite replaces side files and editors rename.
	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch: add %s: %w", dir, err)
	}
	w.logger.Info("Watching store file", "path", w.path, "debounce", w.debounce.String())

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev.Name) || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if pending && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(w.debounce)
			pending = true
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("File watcher error", "path", w.path, "error", err)
		case <-timer.C:
			pending = false
			w.fire(ctx)
		}
	}
}

func (w *Watcher) fire(ctx context.Context) {
	w.mu.Lock()
	w.triggers++
	w.mu.Unlock()

	err := w.trigger(ctx)
	switch {
	case err == nil:
		w.logger.Debug("Store file changed, forced a poll cycle", "path", w.path)
	case errors.Is(err, rowwatch.ErrNotRunning):
		w.logger.Debug("Store file changed while poller idle", "path", w.path)
	default:
		w.logger.Warn("Forced poll cycle failed", "path", w.path, "error", err)
	}
}
