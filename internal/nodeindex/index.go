// Package nodeindex maintains an in-memory index of filesystem trees with
// size and count aggregates kept current on every ancestor.
//
// The Index is safe for unsynchronized concurrent use. Counter updates are
// atomic per counter and propagate up the parent chain as signed deltas, so
// concurrent updates converge regardless of interleaving. Structural
// changes (RemoveNode, InsertNode, CleanupNode) are exclusive with respect
// to delta propagation, which keeps every subtree's totals coherent at the
// moment it is detached or attached.
package nodeindex

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var (
	// ErrRaceCondition reports that an expected prior state was missing,
	// for example a detached node during a rename. It indicates a caller
	// contract violation or an index bug and must not be absorbed silently.
	ErrRaceCondition = errors.New("race condition")

	ErrInvalidPath = errors.New("invalid path")
)

// Option configures an Index.
type Option func(*Index)

// WithSeparator sets the path separator used to split and join paths.
// Defaults to filepath.Separator.
func WithSeparator(sep rune) Option {
	return func(idx *Index) { idx.sep = sep }
}

// WithEventBuffer sets the channel capacity of each subscription.
func WithEventBuffer(n int) Option {
	return func(idx *Index) { idx.events = newBroadcaster(n) }
}

// Index owns the node graph under a synthetic, unnamed root.
type Index struct {
	root   *Node
	sep    rune
	events *broadcaster

	// structMu is held exclusively by structural changes and shared by
	// delta propagation.
	structMu sync.RWMutex
}

// New creates an empty index.
func New(opts ...Option) *Index {
	idx := &Index{
		root: newNode("", nil),
		sep:  filepath.Separator,
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.events == nil {
		idx.events = newBroadcaster(DefaultBufferSize)
	}
	return idx
}

// Root returns the synthetic root. Its aggregates cover every indexed tree.
func (idx *Index) Root() *Node { return idx.root }

// Separator returns the path separator of the index.
func (idx *Index) Separator() rune { return idx.sep }

// GetOrCreate descends path, creating missing segments as Unknown nodes.
// Concurrent callers asking for the same missing path get the same node.
func (idx *Index) GetOrCreate(path string) *Node {
	n := idx.root
	for _, part := range SplitPath(path, idx.sep) {
		n, _ = n.getOrAddChild(part)
	}
	return n
}

// Get descends path without creating anything.
func (idx *Index) Get(path string) (*Node, bool) {
	parts := SplitPath(path, idx.sep)
	if len(parts) == 0 {
		return nil, false
	}
	return idx.lookup(parts)
}

func (idx *Index) lookup(parts []string) (*Node, bool) {
	n := idx.root
	for _, part := range parts {
		c, ok := n.child(part)
		if !ok {
			return nil, false
		}
		n = c
	}
	return n, true
}

// UpdateInfo records the observed kind, size and creation time of n.
//
// size is honored for files only; directory sizes are always derived from
// their descendants, and Unknown nodes have no size of their own. A nil
// creationTime means unknown. A directory that becomes anything else loses
// its children first so their totals leave the ancestor chain.
func (idx *Index) UpdateInfo(n *Node, kind Kind, size *int64, creationTime *time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()

	oldKind := n.Kind()
	if oldKind == KindDirectory && kind != KindDirectory {
		idx.CleanupNode(n)
	}

	var own int64
	if kind == KindFile {
		own = n.own
		if size != nil {
			own = *size
		}
	}
	deltaSize := own - n.own
	n.own = own
	deltaFiles := indicator(kind == KindFile) - indicator(oldKind == KindFile)
	deltaDirs := indicator(kind == KindDirectory) - indicator(oldKind == KindDirectory)

	idx.structMu.RLock()
	if kind != oldKind {
		n.kind.Store(int32(kind))
		if parent := n.Parent(); parent != nil {
			switch {
			case kind.countable() && !oldKind.countable():
				idx.emit(Event{Type: EventChildAdded, Node: parent, Child: n})
			case !kind.countable() && oldKind.countable():
				idx.emit(Event{Type: EventChildRemoved, Node: parent, Child: n})
			}
		}
	}
	idx.add(n, deltaSize, 0, 0)
	for t := n.Parent(); t != nil; t = t.Parent() {
		idx.add(t, deltaSize, deltaFiles, deltaDirs)
	}
	idx.structMu.RUnlock()

	idx.setCreationTime(n, creationTime)
}

// InsertNode attaches a detached subtree at path, which names the new
// parent and the new name of the node. The subtree's totals are added to
// the new ancestor chain. An Unknown leaf already at the destination is
// replaced; any other occupant is a race condition.
func (idx *Index) InsertNode(path string, n *Node) error {
	if n == nil {
		return fmt.Errorf("insert %s: no node to insert: %w", path, ErrRaceCondition)
	}
	parentParts, name := splitParent(path, idx.sep)
	if name == "" {
		return fmt.Errorf("insert %q: %w", path, ErrInvalidPath)
	}

	idx.structMu.Lock()
	defer idx.structMu.Unlock()

	if n == idx.root || n.Parent() != nil {
		return fmt.Errorf("insert %s: node is still attached: %w", path, ErrRaceCondition)
	}

	parent := idx.root
	for _, part := range parentParts {
		parent, _ = parent.getOrAddChild(part)
	}

	parent.childMu.Lock()
	if existing, ok := parent.children[name]; ok {
		if existing.Kind().countable() || existing.hasChildren() {
			parent.childMu.Unlock()
			return fmt.Errorf("insert %s: destination is occupied: %w", path, ErrRaceCondition)
		}
		existing.parent.Store(nil)
	}
	if parent.children == nil {
		parent.children = make(map[string]*Node)
	}
	parent.children[name] = n
	n.name.Store(&name)
	n.parent.Store(parent)
	parent.childMu.Unlock()

	size, files, dirs := n.totals()
	for t := parent; t != nil; t = t.Parent() {
		idx.add(t, size, files, dirs)
	}
	if n.Kind().countable() {
		idx.emit(Event{Type: EventChildAdded, Node: parent, Child: n})
	}
	return nil
}

// RemoveNode detaches the node at path and subtracts its totals from the
// remaining ancestors. The detached subtree is returned intact.
func (idx *Index) RemoveNode(path string) (*Node, bool) {
	parentParts, name := splitParent(path, idx.sep)
	if name == "" {
		return nil, false
	}

	idx.structMu.Lock()
	defer idx.structMu.Unlock()

	parent, ok := idx.lookup(parentParts)
	if !ok {
		return nil, false
	}
	parent.childMu.Lock()
	n, ok := parent.children[name]
	if ok {
		delete(parent.children, name)
	}
	parent.childMu.Unlock()
	if !ok {
		return nil, false
	}
	n.parent.Store(nil)

	size, files, dirs := n.totals()
	for t := parent; t != nil; t = t.Parent() {
		idx.add(t, -size, -files, -dirs)
	}
	if n.Kind().countable() {
		idx.emit(Event{Type: EventChildRemoved, Node: parent, Child: n})
	}
	return n, true
}

// CleanupNode discards every child of n and subtracts their totals from n
// and its ancestors. The node itself stays in place with its kind, so
// existing subscriptions keep working across a rescan.
func (idx *Index) CleanupNode(n *Node) {
	idx.structMu.Lock()

	n.childMu.Lock()
	children := n.children
	n.children = nil
	n.childMu.Unlock()

	var size, files, dirs int64
	for _, c := range children {
		c.parent.Store(nil)
		s, f, d := c.totals()
		size += s
		files += f
		dirs += d
	}
	for t := n; t != nil; t = t.Parent() {
		idx.add(t, -size, -files, -dirs)
	}
	for _, c := range children {
		if c.Kind().countable() {
			idx.emit(Event{Type: EventChildRemoved, Node: n, Child: c})
		}
	}
	idx.structMu.Unlock()

	idx.setCreationTime(n, nil)
}

// Search returns a lazy breadth-first traversal starting at n, n included.
// The context is checked before every dequeued node; once it is done the
// sequence simply ends. Each call starts a fresh traversal.
func (idx *Index) Search(ctx context.Context, n *Node) iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		queue := []*Node{n}
		for len(queue) > 0 {
			if ctx.Err() != nil {
				return
			}
			cur := queue[0]
			queue[0] = nil
			queue = queue[1:]
			if !yield(cur) {
				return
			}
			queue = append(queue, cur.Children()...)
		}
	}
}

// FullPath joins the names from the root down to n. A top-level volume
// segment such as "C:" is not preceded by a separator.
func (idx *Index) FullPath(n *Node) string {
	var chain []*Node
	for t := n; t != nil && t != idx.root; t = t.Parent() {
		chain = append(chain, t)
	}

	var b strings.Builder
	for i := len(chain) - 1; i >= 0; i-- {
		t := chain[i]
		name := t.Name()
		if p := t.Parent(); p != nil && !(p == idx.root && isVolume(name)) {
			b.WriteRune(idx.sep)
		}
		b.WriteString(name)
	}
	return b.String()
}

// Subscribe returns a subscription receiving events about node, or about
// every node when node is nil. Events are dropped when the subscriber
// falls behind; delivering them to a particular goroutine is up to the
// subscriber.
func (idx *Index) Subscribe(node *Node) *Subscription {
	return idx.events.subscribe(node)
}

// Unsubscribe removes a subscription and closes its channel.
func (idx *Index) Unsubscribe(sub *Subscription) {
	idx.events.unsubscribe(sub)
}

// Subscribers returns the number of active subscriptions.
func (idx *Index) Subscribers() int {
	return idx.events.count()
}

// Totals is a summary of everything indexed.
type Totals struct {
	Size        int64
	Files       int64
	Directories int64
}

// Totals reads the root aggregates.
func (idx *Index) Totals() Totals {
	return Totals{
		Size:        idx.root.Size(),
		Files:       idx.root.FileCount(),
		Directories: idx.root.DirectoryCount(),
	}
}

func (idx *Index) add(n *Node, deltaSize, deltaFiles, deltaDirs int64) {
	if deltaSize != 0 {
		n.size.Add(deltaSize)
		idx.changed(n, AttrSize)
	}
	if deltaFiles != 0 {
		n.fileCount.Add(deltaFiles)
		idx.changed(n, AttrFileCount)
	}
	if deltaDirs != 0 {
		n.dirCount.Add(deltaDirs)
		idx.changed(n, AttrDirectoryCount)
	}
}

func (idx *Index) setCreationTime(n *Node, t *time.Time) {
	old := n.created.Load()
	switch {
	case old == nil && t == nil:
		return
	case old != nil && t != nil && old.Equal(*t):
		return
	}
	if t == nil {
		n.created.Store(nil)
	} else {
		v := *t
		n.created.Store(&v)
	}
	idx.changed(n, AttrCreationTime)
}

func (idx *Index) changed(n *Node, attr Attribute) {
	idx.emit(Event{Type: EventChanged, Node: n, Attribute: attr})
}

func (idx *Index) emit(e Event) {
	if idx.events.enabled() {
		idx.events.publish(e)
	}
}

func indicator(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
