package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/fsinfo"
	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/logging"
	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/metrics"
	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/nodeindex"
)

// Event types recorded in metrics.
const (
	EventCreated = "created"
	EventChanged = "changed"
	EventDeleted = "deleted"
	EventRenamed = "renamed"
)

// DefaultRenameWindow is how long a rename waits for its matching create.
const DefaultRenameWindow = 200 * time.Millisecond

// Source feeds fsnotify events for a directory tree into a Bridge.
//
// fsnotify reports a rename as a Rename on the old name followed by a
// Create on the new one. The old name is held for the rename window; a
// Create arriving within it completes the rename, otherwise the entry
// was moved out of the tree and is treated as deleted.
type Source struct {
	root    string
	bridge  *Bridge
	window  time.Duration
	watcher *fsnotify.Watcher
	log     *zap.Logger

	mu      sync.Mutex
	pending *pendingRename

	// scans tracks directory scans started for created entries.
	scans sync.WaitGroup
}

type pendingRename struct {
	path  string
	timer *time.Timer
}

// NewSource watches every directory under root. Watches are in place when
// it returns.
func NewSource(root string, bridge *Bridge, window time.Duration) (*Source, error) {
	if window <= 0 {
		window = DefaultRenameWindow
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	s := &Source{
		root:    root,
		bridge:  bridge,
		window:  window,
		watcher: w,
		log:     logging.Named("watcher").With(zap.String("root", root)),
	}
	if err := s.watchTree(root); err != nil {
		w.Close()
		return nil, err
	}
	return s, nil
}

// Run delivers events until ctx is done or the source is closed.
func (s *Source) Run(ctx context.Context) {
	s.log.Info("watching for changes", zap.Int("watches", len(s.watcher.WatchList())))
	defer s.scans.Wait()
	defer s.dropPending()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handle(ctx, ev)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("watcher error", zap.Error(err))
		}
	}
}

// Close releases the underlying watches and ends Run.
func (s *Source) Close() error {
	return s.watcher.Close()
}

func (s *Source) handle(ctx context.Context, ev fsnotify.Event) {
	path := ev.Name
	s.log.Debug("filesystem event", zap.String("path", path), zap.Stringer("op", ev.Op))

	switch {
	case ev.Has(fsnotify.Create):
		old, renamed := s.takePending()
		if renamed {
			_ = s.watcher.Remove(old)
		}
		// Watch before indexing so entries created meanwhile are seen by
		// the watch, the scan, or both.
		s.watchIfDir(path)
		if renamed {
			s.renamed(ctx, old, path)
		} else {
			metrics.RecordWatcherEvent(EventCreated)
			s.created(ctx, path)
		}
	case ev.Has(fsnotify.Remove):
		metrics.RecordWatcherEvent(EventDeleted)
		s.bridge.Deleted(path)
	case ev.Has(fsnotify.Rename):
		s.hold(path)
	case ev.Has(fsnotify.Write), ev.Has(fsnotify.Chmod):
		metrics.RecordWatcherEvent(EventChanged)
		s.bridge.Changed(path)
	}
}

func (s *Source) renamed(ctx context.Context, oldPath, newPath string) {
	metrics.RecordWatcherEvent(EventRenamed)
	err := s.bridge.Renamed(oldPath, newPath)
	if err == nil {
		return
	}
	if errors.Is(err, nodeindex.ErrRaceCondition) {
		metrics.RecordRaceFault()
	}
	s.log.Error("rename out of step with index, rescanning",
		zap.String("from", oldPath),
		zap.String("to", newPath),
		zap.Error(err),
	)
	s.created(ctx, newPath)
}

// created hands a new entry to the bridge. Directories are scanned on
// their own goroutine so event delivery is never held up by a scan.
func (s *Source) created(ctx context.Context, path string) {
	info, ok := fsinfo.Probe(s.bridge.fs, path)
	if !ok || info.Kind != nodeindex.KindDirectory {
		s.bridge.Created(ctx, path)
		return
	}
	s.scans.Add(1)
	go func() {
		defer s.scans.Done()
		s.bridge.Created(ctx, path)
	}()
}

// hold parks a renamed path until its Create arrives or the window ends.
// A rename already waiting is resolved as a delete first.
func (s *Source) hold(path string) {
	p := &pendingRename{path: path}
	s.mu.Lock()
	prev := s.pending
	s.pending = p
	p.timer = time.AfterFunc(s.window, func() { s.expire(p) })
	s.mu.Unlock()

	if prev != nil {
		prev.timer.Stop()
		metrics.RecordWatcherEvent(EventDeleted)
		s.bridge.Deleted(prev.path)
	}
}

func (s *Source) takePending() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pending
	if p == nil {
		return "", false
	}
	s.pending = nil
	p.timer.Stop()
	return p.path, true
}

func (s *Source) expire(p *pendingRename) {
	s.mu.Lock()
	if s.pending != p {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	s.mu.Unlock()

	metrics.RecordWatcherEvent(EventDeleted)
	s.bridge.Deleted(p.path)
}

func (s *Source) dropPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		s.pending.timer.Stop()
		s.pending = nil
	}
}

func (s *Source) watchIfDir(path string) {
	fi, err := os.Lstat(path)
	if err != nil || !fi.IsDir() {
		return
	}
	if err := s.watchTree(path); err != nil {
		s.log.Warn("failed to watch new directory", zap.String("path", path), zap.Error(err))
	}
}

// watchTree adds a watch for root and every directory below it.
// Directories that cannot be watched are skipped.
func (s *Source) watchTree(root string) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			s.log.Warn("skipping unreadable directory", zap.String("path", path), zap.Error(err))
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := s.watcher.Add(path); err != nil {
			s.log.Warn("failed to add watch", zap.String("path", path), zap.Error(err))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}
	return nil
}
