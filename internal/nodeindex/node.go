package nodeindex

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Kind classifies an indexed entry.
type Kind int32

const (
	KindUnknown Kind = iota
	KindFile
	KindDirectory
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// countable reports whether nodes of this kind contribute to their
// ancestors' file or directory counts.
func (k Kind) countable() bool {
	return k == KindFile || k == KindDirectory
}

// Node is one filesystem entry in the index.
//
// All accessors are safe for concurrent use. Mutation goes through the
// owning Index only.
type Node struct {
	name   atomic.Pointer[string]
	parent atomic.Pointer[Node]

	kind      atomic.Int32
	size      atomic.Int64
	fileCount atomic.Int64
	dirCount  atomic.Int64
	created   atomic.Pointer[time.Time]

	// mu serializes kind/size transitions of this node in UpdateInfo.
	mu  sync.Mutex
	own int64 // size of the file itself, zero for non-files

	childMu  sync.RWMutex
	children map[string]*Node
}

func newNode(name string, parent *Node) *Node {
	n := &Node{}
	n.name.Store(&name)
	if parent != nil {
		n.parent.Store(parent)
	}
	return n
}

// Name returns the path segment of the node.
func (n *Node) Name() string {
	if p := n.name.Load(); p != nil {
		return *p
	}
	return ""
}

func (n *Node) Kind() Kind { return Kind(n.kind.Load()) }

// Size is the file's own size, or for directories the sum of all
// descendant file sizes.
func (n *Node) Size() int64 { return n.size.Load() }

// FileCount is the number of File descendants, excluding the node itself.
func (n *Node) FileCount() int64 { return n.fileCount.Load() }

// DirectoryCount is the number of Directory descendants, excluding the node itself.
func (n *Node) DirectoryCount() int64 { return n.dirCount.Load() }

// CreationTime returns the creation time and whether it is known.
func (n *Node) CreationTime() (time.Time, bool) {
	if t := n.created.Load(); t != nil {
		return *t, true
	}
	return time.Time{}, false
}

// Parent returns the parent node, or nil for the root and detached nodes.
func (n *Node) Parent() *Node { return n.parent.Load() }

// Children returns the countable children of n: directories first, then
// files, each group ordered by name. Unknown tombstones are skipped.
func (n *Node) Children() []*Node {
	n.childMu.RLock()
	dirs := make([]*Node, 0, len(n.children))
	var files []*Node
	for _, c := range n.children {
		switch c.Kind() {
		case KindDirectory:
			dirs = append(dirs, c)
		case KindFile:
			files = append(files, c)
		}
	}
	n.childMu.RUnlock()

	byName := func(a, b *Node) int { return cmp.Compare(a.Name(), b.Name()) }
	slices.SortFunc(dirs, byName)
	slices.SortFunc(files, byName)
	return append(dirs, files...)
}

func (n *Node) child(name string) (*Node, bool) {
	n.childMu.RLock()
	c, ok := n.children[name]
	n.childMu.RUnlock()
	return c, ok
}

// getOrAddChild returns the named child, creating it if absent. The
// boolean result reports whether this call created it.
func (n *Node) getOrAddChild(name string) (*Node, bool) {
	if c, ok := n.child(name); ok {
		return c, false
	}

	n.childMu.Lock()
	defer n.childMu.Unlock()
	if c, ok := n.children[name]; ok {
		return c, false
	}
	if n.children == nil {
		n.children = make(map[string]*Node)
	}
	c := newNode(name, n)
	n.children[name] = c
	return c, true
}

func (n *Node) hasChildren() bool {
	n.childMu.RLock()
	defer n.childMu.RUnlock()
	return len(n.children) > 0
}

// totals returns what n contributes to each ancestor: its size and its
// descendant counts plus itself.
func (n *Node) totals() (size, files, dirs int64) {
	size = n.Size()
	files = n.FileCount()
	dirs = n.DirectoryCount()
	switch n.Kind() {
	case KindFile:
		files++
	case KindDirectory:
		dirs++
	}
	return size, files, dirs
}
