// Package configwatch re-reads the config file when it changes and applies
// the settings that may change at runtime. Today that is log_level only;
// policies are fixed at startup.
package configwatch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/danmuck/capipc/internal/config"
	"github.com/danmuck/capipc/internal/logging"
)

// Options tunes a Watcher.
type Options struct {
	// DebounceDelay coalesces bursts of writes. Default: 100ms.
	DebounceDelay time.Duration
	// OnReload, when set, is called with every successfully loaded config.
	OnReload func(config.Config)
}

func DefaultOptions() Options {
	return Options{DebounceDelay: 100 * time.Millisecond}
}

// Watcher follows one config file.
type Watcher struct {
	path  string
	opts  Options
	fsw   *fsnotify.Watcher
	wg    sync.WaitGroup
	mu    sync.Mutex
	timer *time.Timer
}

// New watches the directory holding path so editors that replace the file
// are seen too.
func New(path string, opts Options) (*Watcher, error) {
	if opts.DebounceDelay <= 0 {
		opts.DebounceDelay = DefaultOptions().DebounceDelay
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return &Watcher{path: path, opts: opts, fsw: fsw}, nil
}

// Run processes events until ctx ends. It closes the underlying watcher on
// return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stop()
	name := filepath.Clean(w.path)
	logging.Infof("configwatch.Watcher.Run path=%s", name)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.schedule()
				continue
			}
			logging.Warnf("configwatch.Watcher.Run err=%v", err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil && w.timer.Stop() {
		w.wg.Done()
	}
	w.wg.Add(1)
	w.timer = time.AfterFunc(w.opts.DebounceDelay, func() {
		defer w.wg.Done()
		w.Reload()
	})
}

// Reload reads the file now and applies it.
func (w *Watcher) Reload() {
	cfg, err := config.Load(w.path)
	if err != nil {
		logging.Warnf("configwatch.Watcher.Reload load failed path=%s err=%v", w.path, err)
		return
	}
	level, ok := logging.ParseLevel(cfg.LogLevel)
	if !ok {
		logging.Warnf("configwatch.Watcher.Reload invalid log_level=%q", cfg.LogLevel)
		return
	}
	if level != logging.CurrentLevel() {
		logging.SetLevel(level)
		logging.Infof("configwatch.Watcher.Reload log_level=%s", level)
	}
	if w.opts.OnReload != nil {
		w.opts.OnReload(cfg)
	}
}

func (w *Watcher) stop() {
	w.mu.Lock()
	if w.timer != nil && w.timer.Stop() {
		w.wg.Done()
	}
	w.timer = nil
	w.mu.Unlock()
	w.wg.Wait()
	_ = w.fsw.Close()
}
