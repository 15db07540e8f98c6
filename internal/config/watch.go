package config

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Config from its source file whenever that file
// changes on disk, grounded on
// internal/controller/filewatcher.Watcher (fsnotify.NewWatcher,
// fsw.Add(path), an event loop goroutine forwarding onto a channel).
type Watcher struct {
	path string
	fsw *fsnotify.Watcher
	updates chan *Config
	errs chan error
	logger *slog.Logger
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWatcher starts watching path's containing directory (fsnotify
// does not reliably report writes to watched files across editors
// that write-then-rename) and reloads on any event naming path.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create fsnotify watcher: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config: resolve %s: %w", path, err)
	}

	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", filepath.Dir(absPath), err)
	}

	w := &Watcher{
		path: absPath,
		fsw: fsw,
		updates: make(chan *Config, 1),
		errs: make(chan error, 1),
		logger: logger.With("component", "config.watcher", "path", absPath),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn("config reload failed", "error", err)
				select {
				case w.errs <- err:
				default:
				}
				continue
			}
			w.logger.Info("config reloaded")
			select {
			case w.updates <- cfg:
			default:
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("filesystem watch error", "error", err)
		}
	}
}

// Updates returns the channel of successfully reloaded configs.
func (w *Watcher) Updates() <-chan *Config { return w.updates }

// Errors returns the channel of reload failures (the previous Config
// stays in effect when a reload fails).
func (w *Watcher) Errors() <-chan error { return w.errs }

// Stop stops the watcher and releases its fsnotify handle.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	<-w.doneCh
	return w.fsw.Close()
}
