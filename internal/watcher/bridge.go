// Package watcher applies filesystem change notifications to the index.
package watcher

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/fsinfo"
	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/logging"
	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/nodeindex"
	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/scanner"
)

// Bridge translates created/changed/deleted/renamed notifications into
// index operations. It keeps no state of its own, so its methods may be
// called concurrently with each other and with scans.
type Bridge struct {
	idx     *nodeindex.Index
	scanner *scanner.Scanner
	fs      afero.Fs

	// ctx bounds the recursive scans started by Created.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewBridge creates a bridge that probes through the scanner's filesystem.
func NewBridge(idx *nodeindex.Index, sc *scanner.Scanner) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		idx:     idx,
		scanner: sc,
		fs:      sc.Fs(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Close cancels any scan started by Created that is still running.
func (b *Bridge) Close() {
	b.cancel()
}

// Created records a new entry. A new directory is scanned recursively;
// the scan stops when either ctx or the bridge is done.
func (b *Bridge) Created(ctx context.Context, path string) {
	info, ok := fsinfo.Probe(b.fs, path)
	if !ok {
		return
	}
	if info.Kind != nodeindex.KindDirectory {
		b.update(path, info)
		return
	}

	ctx, cancel := b.scope(ctx)
	defer cancel()

	res := b.scanner.Scan(ctx, path)
	logging.Debug("scanned created directory",
		zap.String("path", path),
		zap.Int("files", res.Files),
		zap.Bool("cancelled", res.Cancelled),
	)
}

// Changed refreshes an entry that still exists. Vanished entries are left
// for the matching delete notification.
func (b *Bridge) Changed(path string) {
	info, ok := fsinfo.Probe(b.fs, path)
	if !ok {
		return
	}
	b.update(path, info)
}

// Deleted tombstones the entry, so its totals leave every ancestor and
// subscribers see it removed, then detaches it. Unindexed paths are
// ignored.
func (b *Bridge) Deleted(path string) {
	n, ok := b.idx.Get(path)
	if !ok {
		return
	}
	var zero int64
	b.idx.UpdateInfo(n, nodeindex.KindUnknown, &zero, nil)
	b.idx.RemoveNode(path)
}

// Renamed moves oldPath to newPath. A renamed directory keeps its subtree
// and aggregates without a rescan. A missing source directory, or an
// occupied destination, is reported as nodeindex.ErrRaceCondition.
func (b *Bridge) Renamed(oldPath, newPath string) error {
	info, ok := fsinfo.Probe(b.fs, newPath)
	switch {
	case ok && info.Kind == nodeindex.KindDirectory:
		n, removed := b.idx.RemoveNode(oldPath)
		if !removed {
			return fmt.Errorf("rename %s to %s: source not indexed: %w", oldPath, newPath, nodeindex.ErrRaceCondition)
		}
		if err := b.idx.InsertNode(newPath, n); err != nil {
			return fmt.Errorf("rename %s to %s: %w", oldPath, newPath, err)
		}
		b.update(newPath, info)
	case ok:
		b.Deleted(oldPath)
		b.update(newPath, info)
	default:
		b.Deleted(oldPath)
	}
	return nil
}

// scope derives a context that is done when either ctx or the bridge is.
func (b *Bridge) scope(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	if b.ctx.Err() != nil {
		cancel()
		return ctx, cancel
	}
	stop := context.AfterFunc(b.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (b *Bridge) update(path string, info fsinfo.Info) {
	n := b.idx.GetOrCreate(path)
	created := info.Created
	b.idx.UpdateInfo(n, info.Kind, info.SizePtr(), &created)
}
