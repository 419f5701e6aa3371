package model

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls an artifact file and installs every new valid version into a
// Holder. Invalid or half-written artifacts are logged and skipped; the
// previous model stays live.
type Watcher struct {
	path     string
	holder   *Holder
	interval time.Duration
	onChange func(old, new *TrainedModel)
	optional bool

	mu        sync.Mutex
	lastMtime time.Time
	lastHash  [sha256.Size]byte

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithOnChange registers a callback run after each successful reload.
func WithOnChange(fn func(old, new *TrainedModel)) WatcherOption {
	return func(w *Watcher) { w.onChange = fn }
}

// AllowMissing lets the watcher start before the artifact exists. The first
// artifact written to the path is then loaded like any reload.
func AllowMissing() WatcherOption {
	return func(w *Watcher) { w.optional = true }
}

// NewWatcher loads the artifact at path into holder and starts polling it.
func NewWatcher(path string, holder *Holder, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		holder:   holder,
		interval: 5 * time.Second,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	m, hash, mtime, err := w.loadAndHash()
	switch {
	case err == nil:
		w.lastHash = hash
		w.lastMtime = mtime
		holder.Swap(context.Background(), m, "load")
	case w.optional && errors.Is(err, fs.ErrNotExist):
		slog.Info("model watcher: waiting for artifact", "path", path)
	default:
		return nil, fmt.Errorf("model: watcher initial load: %w", err)
	}

	go w.poll()
	return w, nil
}

// Stop ends polling and waits for the poll goroutine to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
	<-w.stopped
}

func (w *Watcher) poll() {
	defer close(w.stopped)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		if w.optional && errors.Is(err, fs.ErrNotExist) {
			return
		}
		slog.Warn("model watcher: cannot stat artifact", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.lastMtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	m, hash, mtime, err := w.loadAndHash()
	if err != nil {
		slog.Warn("model watcher: keeping previous model", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if hash == w.lastHash {
		w.lastMtime = mtime
		w.mu.Unlock()
		return
	}
	w.lastHash = hash
	w.lastMtime = mtime
	w.mu.Unlock()

	old := w.holder.Swap(context.Background(), m, "reload")
	if w.onChange != nil {
		w.onChange(old, m)
	}
}

func (w *Watcher) loadAndHash() (*TrainedModel, [sha256.Size]byte, time.Time, error) {
	var zero [sha256.Size]byte

	info, err := os.Stat(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	m, err := Unmarshal(data)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	return m, sha256.Sum256(data), info.ModTime(), nil
}
