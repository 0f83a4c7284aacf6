package config

import (
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
const DefaultDebounce = 500 * time.Millisecond

// ChangeFunc receives the configuration before and after a reload.
type ChangeFunc func(oldConfig, newConfig *Config)

// Watcher keeps a configuration file loaded and reloads it when it
// changes on disk. Reloads run one at a time on the watch goroutine; a
// file that fails to load or validate leaves the current one in place.
type Watcher struct {
	path     string
	loader   *Loader
	log      zerolog.Logger
	debounce time.Duration

	current atomic.Pointer[Config]

	fs          *fsnotify.Watcher
	mu          sync.Mutex
	subscribers []ChangeFunc
	started     bool
	stopped     bool
	quit        chan struct{}
	done        chan struct{}

	// reload serializes loads from the watch goroutine and Reload.
	reload sync.Mutex
}

// NewWatcher loads path and prepares to watch it. Nothing is watched
// until Start.
func NewWatcher(path string, loader *Loader, log zerolog.Logger) (*Watcher, error) {
	if _, err := FormatFromPath(path); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigWatchError, err)
	}

	cfg, err := loader.LoadFromFile(abs)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", abs, err)
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigWatchError, err)
	}

	w := &Watcher{
		path:     abs,
		loader:   loader,
		log:      log.With().Str("component", "config").Str("file", abs).Logger(),
		debounce: DefaultDebounce,
		fs:       fs,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	w.current.Store(cfg)
	return w, nil
}

// SetDebounce changes the reload debounce; call before Start.
func (w *Watcher) SetDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// Path returns the absolute path of the watched file.
func (w *Watcher) Path() string {
	return w.path
}

// Current returns the configuration in effect.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// OnChange registers fn to run after every successful reload, in
// registration order. A panicking fn is logged and skipped.
func (w *Watcher) OnChange(fn ChangeFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subscribers = append(w.subscribers, fn)
}

// Start begins watching. The parent directory is watched, not the file,
// so editors that save by rename are seen too.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return fmt.Errorf("%w: watcher stopped", ErrConfigWatchError)
	}
	if w.started {
		return nil
	}
	if err := w.fs.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigWatchError, err)
	}
	w.started = true
	go w.run()

	w.log.Debug().Dur("debounce", w.debounce).Msg("watching configuration")
	return nil
}

// Stop ends watching and waits for an in-flight reload. Safe to call
// more than once, and before Start.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	started := w.started
	w.mu.Unlock()

	close(w.quit)
	err := w.fs.Close()
	if started {
		<-w.done
	}
	return err
}

// Reload reads the file now, outside the debounce.
func (w *Watcher) Reload() error {
	return w.load()
}

func (w *Watcher) run() {
	defer close(w.done)

	// pending is nil until a relevant event arms the debounce timer.
	var pending <-chan time.Time
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.quit:
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			if err := w.load(); err != nil {
				w.log.Error().Err(err).Msg("keeping previous configuration")
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("filesystem watch error")
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

// load swaps in the file's configuration and notifies subscribers.
func (w *Watcher) load() error {
	w.reload.Lock()
	defer w.reload.Unlock()

	next, err := w.loader.LoadFromFile(w.path)
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	prev := w.current.Swap(next)

	w.log.Info().
		Int("inbox_capacity", next.Apartment.InboxCapacity).
		Dur("call_timeout", next.Apartment.CallTimeout).
		Int("max_handles", next.Agile.MaxHandles).
		Msg("configuration reloaded")

	w.mu.Lock()
	subs := append([]ChangeFunc(nil), w.subscribers...)
	w.mu.Unlock()

	for _, fn := range subs {
		w.notify(fn, prev, next)
	}
	return nil
}

func (w *Watcher) notify(fn ChangeFunc, prev, next *Config) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Interface("panic", r).Msg("configuration subscriber panicked")
		}
	}()
	fn(prev, next)
}
