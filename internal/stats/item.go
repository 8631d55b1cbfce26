// Package stats ranks the contents of an index into Top-N views.
package stats

import (
	"cmp"
	"context"
	"slices"

	"github.com/dustin/go-humanize"

	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/nodeindex"
)

// Item is one ranked row. For node rows Name and Path are the full path
// of the node; for grouped rows Name is the group and Path the largest
// file in it.
type Item struct {
	Name      string `json:"name"`
	Path      string `json:"path,omitempty"`
	Size      int64  `json:"size"`
	FileCount int64  `json:"file_count"`
}

// SizeCaption formats Size for display, e.g. "1.5 MiB".
func (i Item) SizeCaption() string {
	if i.Size < 0 {
		return "-" + humanize.IBytes(uint64(-i.Size))
	}
	return humanize.IBytes(uint64(i.Size))
}

// FileCountCaption formats FileCount with thousands separators.
func (i Item) FileCountCaption() string {
	return humanize.Comma(i.FileCount)
}

// Calculator produces one ranked view of the subtree at root. It stops
// early, returning what it has, when ctx is done.
type Calculator interface {
	Name() string
	Calculate(ctx context.Context, idx *nodeindex.Index, root *nodeindex.Node) []Item
}

// sortItems orders by metric descending, then by key ascending.
func sortItems(items []Item, metric func(Item) int64, key func(Item) string) {
	slices.SortFunc(items, func(a, b Item) int {
		if c := cmp.Compare(metric(b), metric(a)); c != 0 {
			return c
		}
		return cmp.Compare(key(a), key(b))
	})
}

func bySize(i Item) int64      { return i.Size }
func byFileCount(i Item) int64 { return i.FileCount }
func byPath(i Item) string     { return i.Path }
func byName(i Item) string     { return i.Name }

func truncate(items []Item, limit int) []Item {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
