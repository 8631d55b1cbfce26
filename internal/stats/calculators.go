package stats

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/fsinfo"
	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/nodeindex"
)

// Calculator names.
const (
	TopFilesBySize             = "TopFilesBySize"
	TopDirectoriesBySize       = "TopDirectoriesBySize"
	TopDirectoriesByFilesCount = "TopDirectoriesByFilesCount"
	TopExtensions              = "TopExtensions"
	TopFilesByCreationYear     = "TopFilesByCreationYear"
	TopOwners                  = "TopOwners"
	TopMimeTypes               = "TopMimeTypes"
)

// Group names used when a classifier has no answer.
const (
	NoExtension     = "*"
	UnknownOwner    = "Unknown"
	DefaultMimeType = "application/octet-stream"
)

// DefaultCalculators returns every view, owners and MIME types grouped by
// the given classifiers.
func DefaultCalculators(owner, mimeType fsinfo.Classifier) []Calculator {
	return []Calculator{
		NewTopFilesBySize(),
		NewTopDirectoriesBySize(),
		NewTopDirectoriesByFilesCount(),
		NewTopExtensions(),
		NewTopFilesByCreationYear(),
		NewTopOwners(owner),
		NewTopMimeTypes(mimeType),
	}
}

// nodeRanking lists individual nodes.
type nodeRanking struct {
	name   string
	keep   func(n *nodeindex.Node) bool
	metric func(Item) int64
	limit  int
}

func (c nodeRanking) Name() string { return c.name }

func (c nodeRanking) Calculate(ctx context.Context, idx *nodeindex.Index, root *nodeindex.Node) []Item {
	var items []Item
	for n := range idx.Search(ctx, root) {
		if !c.keep(n) {
			continue
		}
		path := idx.FullPath(n)
		items = append(items, Item{
			Name:      path,
			Path:      path,
			Size:      n.Size(),
			FileCount: n.FileCount(),
		})
	}
	sortItems(items, c.metric, byPath)
	return truncate(items, c.limit)
}

// NewTopFilesBySize ranks the 50 largest files.
func NewTopFilesBySize() Calculator {
	return nodeRanking{
		name:   TopFilesBySize,
		keep:   isFile,
		metric: bySize,
		limit:  50,
	}
}

// NewTopDirectoriesBySize ranks the 50 largest directories that are not
// dominated by one of their subdirectories.
func NewTopDirectoriesBySize() Calculator {
	return nodeRanking{
		name:   TopDirectoriesBySize,
		keep:   dominant((*nodeindex.Node).Size),
		metric: bySize,
		limit:  50,
	}
}

// NewTopDirectoriesByFilesCount ranks the 50 directories holding the most
// files that are not dominated by one of their subdirectories.
func NewTopDirectoriesByFilesCount() Calculator {
	return nodeRanking{
		name:   TopDirectoriesByFilesCount,
		keep:   dominant((*nodeindex.Node).FileCount),
		metric: byFileCount,
		limit:  50,
	}
}

func isFile(n *nodeindex.Node) bool {
	return n.Kind() == nodeindex.KindFile
}

// dominant keeps a directory only if 95% of its metric still exceeds the
// largest metric among its subdirectories (0 when it has none). A parent
// whose weight sits almost entirely in one child is left out in favour of
// the child.
func dominant(metric func(*nodeindex.Node) int64) func(*nodeindex.Node) bool {
	return func(n *nodeindex.Node) bool {
		if n.Kind() != nodeindex.KindDirectory {
			return false
		}
		var largest int64
		for _, c := range n.Children() {
			if c.Kind() == nodeindex.KindDirectory {
				largest = max(largest, metric(c))
			}
		}
		return 0.95*float64(metric(n)) > float64(largest)
	}
}

// fileGrouping aggregates files by a key.
type fileGrouping struct {
	name  string
	key   func(path string, n *nodeindex.Node) (string, bool)
	limit int
}

func (c fileGrouping) Name() string { return c.name }

func (c fileGrouping) Calculate(ctx context.Context, idx *nodeindex.Index, root *nodeindex.Node) []Item {
	type group struct {
		item    Item
		largest int64
	}
	groups := make(map[string]*group)
	for n := range idx.Search(ctx, root) {
		if n.Kind() != nodeindex.KindFile {
			continue
		}
		path := idx.FullPath(n)
		key, ok := c.key(path, n)
		if !ok {
			continue
		}
		size := n.Size()
		g, ok := groups[key]
		if !ok {
			g = &group{item: Item{Name: key, Path: path}, largest: size}
			groups[key] = g
		} else if size > g.largest || (size == g.largest && path < g.item.Path) {
			g.item.Path = path
			g.largest = size
		}
		g.item.Size += size
		g.item.FileCount++
	}

	items := make([]Item, 0, len(groups))
	for _, g := range groups {
		items = append(items, g.item)
	}
	sortItems(items, bySize, byName)
	return truncate(items, c.limit)
}

// NewTopExtensions groups files by lower-cased extension, "*" for none,
// and keeps the 200 largest groups.
func NewTopExtensions() Calculator {
	return fileGrouping{
		name: TopExtensions,
		key: func(_ string, n *nodeindex.Node) (string, bool) {
			if ext := strings.ToLower(filepath.Ext(n.Name())); ext != "" {
				return ext, true
			}
			return NoExtension, true
		},
		limit: 200,
	}
}

// NewTopFilesByCreationYear groups files with a known creation time by
// year.
func NewTopFilesByCreationYear() Calculator {
	return fileGrouping{
		name: TopFilesByCreationYear,
		key: func(_ string, n *nodeindex.Node) (string, bool) {
			t, ok := n.CreationTime()
			if !ok {
				return "", false
			}
			return strconv.Itoa(t.Year()), true
		},
	}
}

// NewTopOwners groups files by owner.
func NewTopOwners(owner fsinfo.Classifier) Calculator {
	return fileGrouping{name: TopOwners, key: classify(owner, UnknownOwner)}
}

// NewTopMimeTypes groups files by MIME type.
func NewTopMimeTypes(mimeType fsinfo.Classifier) Calculator {
	return fileGrouping{name: TopMimeTypes, key: classify(mimeType, DefaultMimeType)}
}

func classify(c fsinfo.Classifier, fallback string) func(string, *nodeindex.Node) (string, bool) {
	return func(path string, _ *nodeindex.Node) (string, bool) {
		if c != nil {
			if v, ok := c(path); ok && v != "" {
				return v, true
			}
		}
		return fallback, true
	}
}
