package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher defaults.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultDebounce     = 250 * time.Millisecond
)

// ChangeFunc receives the previous and the newly loaded config together with
// their [Diff]. It runs on the watcher goroutine.
type ChangeFunc func(old, new *Config, d ConfigDiff)

// Watcher reloads a config file while the server runs.
//
// Filesystem notifications on the file's directory trigger a reload once the
// file has been quiet for the debounce period; editors and configmap updates
// produce bursts of writes and renames. A stat poll runs alongside because
// notifications are lost on some network and container filesystems.
// Invalid files are logged and ignored; the last valid config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	debounce time.Duration
	notify   bool
	onChange ChangeFunc
	log      *slog.Logger

	mu      sync.Mutex
	current *Config
	stamp   fileStamp
}

// fileStamp is what the poller compares to spot a modified file.
type fileStamp struct {
	mod  time.Time
	size int64
}

func (s fileStamp) equal(o fileStamp) bool {
	return s.mod.Equal(o.mod) && s.size == o.size
}

func stat(path string) (fileStamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fileStamp{}, err
	}
	return fileStamp{mod: info.ModTime(), size: info.Size()}, nil
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithDebounce sets the quiet period after the last notification.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithPollOnly disables filesystem notifications.
func WithPollOnly() WatcherOption {
	return func(w *Watcher) { w.notify = false }
}

// WithWatcherLogger sets the logger. Defaults to slog.Default().
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.log = l }
}

// NewWatcher loads path once and returns a watcher for it. Nothing is
// watched until [Watcher.Run] is called.
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultPollInterval,
		debounce: DefaultDebounce,
		notify:   true,
		onChange: onChange,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	w.log = w.log.With("path", path)

	st, err := stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.stamp = cfg, st
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run watches the file until ctx is done. It always returns nil; a missing
// notification backend degrades to polling.
func (w *Watcher) Run(ctx context.Context) error {
	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if w.notify {
		fw, err := w.subscribe()
		if err != nil {
			w.log.Warn("config watcher: notifications unavailable, polling only", "err", err)
		} else {
			defer fw.Close()
			events, errs = fw.Events, fw.Errors
		}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	settle := time.NewTimer(w.debounce)
	settle.Stop()
	defer settle.Stop()

	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.reload(false)
		case <-settle.C:
			w.reload(true)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == target && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				settle.Reset(w.debounce)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.log.Warn("config watcher: notification error", "err", err)
		}
	}
}

// subscribe watches the directory rather than the file so that atomic
// replacements are seen.
func (w *Watcher) subscribe() (*fsnotify.Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return nil, err
	}
	return fw, nil
}

// reload loads the file when its stamp moved, or unconditionally when force
// is set. Configs equal to the current one are dropped silently.
func (w *Watcher) reload(force bool) {
	st, err := stat(w.path)
	if err != nil {
		w.log.Warn("config watcher: stat failed", "err", err)
		return
	}
	w.mu.Lock()
	unchanged := st.equal(w.stamp)
	w.stamp = st
	w.mu.Unlock()
	if unchanged && !force {
		return
	}

	// A broken file is reported once per modification.
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Warn("config watcher: keeping previous config", "err", err)
		return
	}

	w.mu.Lock()
	old := w.current
	if reflect.DeepEqual(old, cfg) {
		w.mu.Unlock()
		return
	}
	w.current = cfg
	w.mu.Unlock()

	d := Diff(old, cfg)
	w.log.Info("config watcher: configuration reloaded", "restart_required", d.RestartRequired)
	if w.onChange != nil {
		w.onChange(old, cfg, d)
	}
}
