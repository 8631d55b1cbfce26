// Package fsinfo observes filesystem entries: their kind, size and
// creation time, and classifiers for owner and MIME type.
package fsinfo

import (
	"os"
	"time"

	"github.com/spf13/afero"

	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/nodeindex"
)

// Info is what a probe observed about one entry.
type Info struct {
	Kind    nodeindex.Kind
	Size    int64
	Created time.Time
}

// SizePtr returns the size for UpdateInfo: set for files, nil otherwise.
func (i Info) SizePtr() *int64 {
	if i.Kind != nodeindex.KindFile {
		return nil
	}
	s := i.Size
	return &s
}

// Probe stats path without following a final symlink. It reports false
// when the entry is gone or cannot be read.
func Probe(fs afero.Fs, path string) (Info, bool) {
	fi, err := lstat(fs, path)
	if err != nil {
		return Info{}, false
	}
	return FromFileInfo(fs, path, fi), true
}

// FromFileInfo converts an already listed entry.
func FromFileInfo(fs afero.Fs, path string, fi os.FileInfo) Info {
	info := Info{
		Kind:    KindOf(fi),
		Created: CreationTime(fs, path, fi),
	}
	if info.Kind == nodeindex.KindFile {
		info.Size = fi.Size()
	}
	return info
}

// KindOf maps a FileInfo to an index kind. Symlinks and other special
// files count as files and are never followed.
func KindOf(fi os.FileInfo) nodeindex.Kind {
	if fi.IsDir() {
		return nodeindex.KindDirectory
	}
	return nodeindex.KindFile
}

// CreationTime returns the birth time of path when the filesystem is the
// real OS and the platform records one, and the modification time
// otherwise.
func CreationTime(fs afero.Fs, path string, fi os.FileInfo) time.Time {
	if _, ok := fs.(*afero.OsFs); ok {
		if t, ok := birthTime(path); ok {
			return t
		}
	}
	return fi.ModTime()
}

func lstat(fs afero.Fs, path string) (os.FileInfo, error) {
	if l, ok := fs.(afero.Lstater); ok {
		fi, _, err := l.LstatIfPossible(path)
		return fi, err
	}
	return fs.Stat(path)
}
