// Package scanner (re)populates index subtrees from a filesystem.
package scanner

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/fsinfo"
	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/logging"
	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/metrics"
	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/nodeindex"
)

// Scanner walks a filesystem breadth-first and records every entry in an
// index.
type Scanner struct {
	idx *nodeindex.Index
	fs  afero.Fs
}

// New creates a scanner reading from fs.
func New(idx *nodeindex.Index, fs afero.Fs) *Scanner {
	return &Scanner{idx: idx, fs: fs}
}

// Fs returns the filesystem the scanner reads.
func (s *Scanner) Fs() afero.Fs { return s.fs }

// Result summarizes one scan.
type Result struct {
	Directories int
	Files       int
	Errors      int
	Cancelled   bool
	Duration    time.Duration
}

// Scan discards what the index holds below path and walks it again.
//
// Directories that cannot be listed are logged and treated as empty.
// Cancellation is checked before every directory and every entry; a
// cancelled scan leaves a partial but consistent subtree behind.
func (s *Scanner) Scan(ctx context.Context, path string) (res Result) {
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		metrics.RecordScan(res.Duration, res.Directories, res.Files)
	}()

	if n, ok := s.idx.Get(path); ok {
		s.idx.CleanupNode(n)
	}

	info, ok := fsinfo.Probe(s.fs, path)
	if !ok {
		res.Errors++
		metrics.RecordScanError()
		logging.Warn("scan target not accessible", zap.String("path", path))
		return res
	}
	target := s.record(path, info)
	s.recordAncestors(target)
	if info.Kind != nodeindex.KindDirectory {
		return res
	}

	queue := []string{path}
	for len(queue) > 0 {
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}
		dir := queue[0]
		queue = queue[1:]

		entries, err := afero.ReadDir(s.fs, dir)
		if err != nil {
			res.Errors++
			metrics.RecordScanError()
			logging.Warn("error access to folder", zap.String("path", dir), zap.Error(err))
			continue
		}

		for _, fi := range directoriesFirst(entries) {
			if ctx.Err() != nil {
				res.Cancelled = true
				break
			}
			child := nodeindex.BuildChildPath(dir, fi.Name(), s.idx.Separator())
			info := fsinfo.FromFileInfo(s.fs, child, fi)
			s.record(child, info)
			if info.Kind == nodeindex.KindDirectory {
				res.Directories++
				queue = append(queue, child)
			} else {
				res.Files++
			}
		}
	}

	logging.Debug("scan finished",
		zap.String("path", path),
		zap.Int("directories", res.Directories),
		zap.Int("files", res.Files),
		zap.Int("errors", res.Errors),
		zap.Bool("cancelled", res.Cancelled),
	)
	return res
}

func (s *Scanner) record(path string, info fsinfo.Info) *nodeindex.Node {
	n := s.idx.GetOrCreate(path)
	created := info.Created
	s.idx.UpdateInfo(n, info.Kind, info.SizePtr(), &created)
	return n
}

// recordAncestors types the Unknown placeholders GetOrCreate left above a
// nested scan target, so the target is reachable from the index root.
// Volume names and segments missing on disk stay Unknown.
func (s *Scanner) recordAncestors(n *nodeindex.Node) {
	root := s.idx.Root()
	for p := n.Parent(); p != nil && p != root; p = p.Parent() {
		if p.Kind() != nodeindex.KindUnknown || strings.HasSuffix(p.Name(), ":") {
			continue
		}
		path := s.idx.FullPath(p)
		if info, ok := fsinfo.Probe(s.fs, path); ok && info.Kind == nodeindex.KindDirectory {
			s.record(path, info)
		}
	}
}

// directoriesFirst keeps ReadDir's name order within each group.
func directoriesFirst(entries []os.FileInfo) []os.FileInfo {
	out := make([]os.FileInfo, 0, len(entries))
	for _, fi := range entries {
		if fi.IsDir() {
			out = append(out, fi)
		}
	}
	for _, fi := range entries {
		if !fi.IsDir() {
			out = append(out, fi)
		}
	}
	return out
}
