package watcher

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/nodeindex"
	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/scanner"
)

type fixture struct {
	fs     afero.Fs
	idx    *nodeindex.Index
	bridge *Bridge
}

func newFixture(t *testing.T, files map[string]int) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/data", 0o755))
	for path, size := range files {
		writeFile(t, fs, path, size)
	}
	idx := nodeindex.New(nodeindex.WithSeparator('/'))
	sc := scanner.New(idx, fs)
	sc.Scan(context.Background(), "/data")
	b := NewBridge(idx, sc)
	t.Cleanup(b.Close)
	return &fixture{fs: fs, idx: idx, bridge: b}
}

func writeFile(t *testing.T, fs afero.Fs, path string, size int) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, afero.WriteFile(fs, path, make([]byte, size), 0o644))
}

func (f *fixture) size(t *testing.T, path string) int64 {
	t.Helper()
	n, ok := f.idx.Get(path)
	require.True(t, ok, "%s not indexed", path)
	return n.Size()
}

func TestBridgeCreated(t *testing.T) {
	f := newFixture(t, map[string]int{"/data/a": 1})

	writeFile(t, f.fs, "/data/b", 10)
	f.bridge.Created(context.Background(), "/data/b")
	assert.Equal(t, int64(11), f.size(t, "/data"))

	writeFile(t, f.fs, "/data/new/x", 5)
	writeFile(t, f.fs, "/data/new/deep/y", 6)
	f.bridge.Created(context.Background(), "/data/new")
	assert.Equal(t, int64(11), f.size(t, "/data/new"))
	assert.Equal(t, int64(22), f.size(t, "/data"))

	data, _ := f.idx.Get("/data")
	assert.Equal(t, int64(4), data.FileCount())
	assert.Equal(t, int64(2), data.DirectoryCount())

	f.bridge.Created(context.Background(), "/data/vanished")
	_, ok := f.idx.Get("/data/vanished")
	assert.False(t, ok)
}

func TestBridgeCreatedAfterClose(t *testing.T) {
	f := newFixture(t, nil)
	writeFile(t, f.fs, "/data/new/x", 5)

	f.bridge.Close()
	f.bridge.Created(context.Background(), "/data/new")

	n, ok := f.idx.Get("/data/new")
	require.True(t, ok)
	assert.Equal(t, nodeindex.KindDirectory, n.Kind())
	assert.Zero(t, n.FileCount())
}

func TestBridgeChanged(t *testing.T) {
	f := newFixture(t, map[string]int{"/data/a": 1, "/data/sub/b": 2})

	writeFile(t, f.fs, "/data/sub/b", 20)
	f.bridge.Changed("/data/sub/b")
	assert.Equal(t, int64(20), f.size(t, "/data/sub"))
	assert.Equal(t, int64(21), f.size(t, "/data"))

	f.bridge.Changed("/data/missing")
	_, ok := f.idx.Get("/data/missing")
	assert.False(t, ok)
}

func TestBridgeDeleted(t *testing.T) {
	f := newFixture(t, map[string]int{
		"/data/a":        1,
		"/data/sub/b":    2,
		"/data/sub/in/c": 4,
		"/data/other/d":  8,
	})
	data, _ := f.idx.Get("/data")
	sub, _ := f.idx.Get("/data/sub")

	sub2 := f.idx.Subscribe(data)
	defer f.idx.Unsubscribe(sub2)

	require.NoError(t, f.fs.RemoveAll("/data/sub"))
	f.bridge.Deleted("/data/sub")

	_, ok := f.idx.Get("/data/sub")
	assert.False(t, ok)
	assert.Nil(t, sub.Parent())
	assert.Equal(t, int64(9), data.Size())
	assert.Equal(t, int64(2), data.FileCount())
	assert.Equal(t, int64(1), data.DirectoryCount())

	var removed bool
	for len(sub2.C) > 0 {
		if e := <-sub2.C; e.Type == nodeindex.EventChildRemoved && e.Child == sub {
			removed = true
		}
	}
	assert.True(t, removed, "expected ChildRemoved for deleted directory")

	// Never indexed: nothing is created.
	f.bridge.Deleted("/data/ghost/file")
	_, ok = f.idx.Get("/data/ghost")
	assert.False(t, ok)
}

func TestBridgeRenamedDirectoryKeepsSubtree(t *testing.T) {
	f := newFixture(t, map[string]int{
		"/data/src/x":      3,
		"/data/src/deep/y": 4,
		"/data/dst/z":      1,
	})
	src, _ := f.idx.Get("/data/src")
	before := f.idx.Totals()

	require.NoError(t, f.fs.Rename("/data/src", "/data/dst/moved"))
	require.NoError(t, f.bridge.Renamed("/data/src", "/data/dst/moved"))

	moved, ok := f.idx.Get("/data/dst/moved")
	require.True(t, ok)
	assert.Same(t, src, moved)
	assert.Equal(t, before, f.idx.Totals())
	assert.Equal(t, int64(8), f.size(t, "/data/dst"))
	_, ok = f.idx.Get("/data/dst/moved/deep/y")
	assert.True(t, ok)
	_, ok = f.idx.Get("/data/src")
	assert.False(t, ok)
}

func TestBridgeRenamedDirectoryMissingSource(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.fs.MkdirAll("/data/appeared", 0o755))

	err := f.bridge.Renamed("/data/never", "/data/appeared")
	require.Error(t, err)
	assert.True(t, errors.Is(err, nodeindex.ErrRaceCondition))
}

func TestBridgeRenamedFile(t *testing.T) {
	f := newFixture(t, map[string]int{"/data/old.txt": 5, "/data/keep": 1})

	require.NoError(t, f.fs.Rename("/data/old.txt", "/data/new.txt"))
	require.NoError(t, f.bridge.Renamed("/data/old.txt", "/data/new.txt"))

	_, ok := f.idx.Get("/data/old.txt")
	assert.False(t, ok)
	assert.Equal(t, int64(5), f.size(t, "/data/new.txt"))
	assert.Equal(t, int64(6), f.size(t, "/data"))
}

func TestBridgeRenamedAway(t *testing.T) {
	f := newFixture(t, map[string]int{"/data/a": 5, "/data/b": 1})

	require.NoError(t, f.fs.Remove("/data/a"))
	require.NoError(t, f.bridge.Renamed("/data/a", "/data/gone"))

	_, ok := f.idx.Get("/data/a")
	assert.False(t, ok)
	assert.Equal(t, int64(1), f.size(t, "/data"))
}
