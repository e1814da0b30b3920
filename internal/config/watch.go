package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize config watcher")

// Watcher reloads the configuration file when it changes on disk.
//
// The parent directory is watched rather than the file, so editors that
// replace the file by rename are picked up. Environment overrides are
// applied on every reload, exactly as in LoadWithFile.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(*Config)
	onError  func(error)
}

// NewWatcher creates a watcher for configPath (the default file when
// empty). onChange receives every configuration that loads and validates;
// onError receives load failures and watcher errors, and the previous
// configuration stays in effect. onError may be nil.
func NewWatcher(configPath string, onChange func(*Config), onError func(error)) (*Watcher, error) {
	if onChange == nil {
		return nil, errors.New("onChange callback is required")
	}
	path, err := resolvePath(configPath)
	if err != nil {
		return nil, err
	}
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}
	if onError == nil {
		onError = func(error) {}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("%w: watching %s: %v", ErrWatcherFailed, filepath.Dir(path), err)
	}

	return &Watcher{
		path:     filepath.Clean(path),
		watcher:  w,
		onChange: onChange,
		onError:  onError,
	}, nil
}

// Path returns the watched file.
func (w *Watcher) Path() string {
	return w.path
}

// Run processes filesystem events until ctx is done, then closes the
// watcher.
func (w *Watcher) Run(ctx context.Context) {
	defer func() { _ = w.watcher.Close() }()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Chmod) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.onError(fmt.Errorf("config watcher: %w", err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadWithFile(w.path)
	if err != nil {
		w.onError(fmt.Errorf("reloading %s: %w", w.path, err))
		return
	}
	w.onChange(cfg)
}
