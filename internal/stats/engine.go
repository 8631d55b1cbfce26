package stats

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/logging"
	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/metrics"
	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/nodeindex"
)

// Engine runs calculators concurrently and keeps the latest result of
// each one.
type Engine struct {
	idx   *nodeindex.Index
	names []string

	mu         sync.RWMutex
	categories map[string]*category
}

type category struct {
	calc   Calculator
	items  []Item
	pass   uint64
	done   chan struct{}
	closed bool
}

// NewEngine creates an engine over idx. Calculator names must be unique.
func NewEngine(idx *nodeindex.Index, calculators ...Calculator) *Engine {
	e := &Engine{
		idx:        idx,
		categories: make(map[string]*category, len(calculators)),
	}
	for _, c := range calculators {
		e.names = append(e.names, c.Name())
		e.categories[c.Name()] = &category{calc: c, done: make(chan struct{})}
	}
	return e
}

// Names lists the categories in registration order.
func (e *Engine) Names() []string {
	return slices.Clone(e.names)
}

// Calculate clears every category and recomputes all of them over root
// (the index root when nil). Each category publishes its result and
// closes its Done channel as soon as its own calculator finishes.
//
// When ctx is cancelled the categories still complete, holding whatever
// the interrupted traversal saw, and Calculate returns ctx.Err().
func (e *Engine) Calculate(ctx context.Context, root *nodeindex.Node) error {
	if root == nil {
		root = e.idx.Root()
	}

	e.mu.Lock()
	passes := make(map[string]uint64, len(e.categories))
	for name, cat := range e.categories {
		cat.items = nil
		if cat.closed {
			cat.done = make(chan struct{})
			cat.closed = false
		}
		cat.pass++
		passes[name] = cat.pass
	}
	e.mu.Unlock()

	var g errgroup.Group
	for _, name := range e.names {
		cat := e.categories[name]
		pass := passes[name]
		g.Go(func() error {
			start := time.Now()
			items := cat.calc.Calculate(ctx, e.idx, root)
			elapsed := time.Since(start)
			metrics.RecordStats(name, elapsed)
			logging.Debug("statistics calculated",
				zap.String("calculator", name),
				zap.Int("items", len(items)),
				zap.Duration("duration", elapsed),
			)
			e.publish(cat, pass, items)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

// publish stores items unless a newer pass has started since.
func (e *Engine) publish(cat *category, pass uint64, items []Item) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cat.pass != pass {
		return
	}
	cat.items = items
	if !cat.closed {
		close(cat.done)
		cat.closed = true
	}
}

// Result returns the latest items of a category. The boolean is false for
// unknown names.
func (e *Engine) Result(name string) ([]Item, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cat, ok := e.categories[name]
	if !ok {
		return nil, false
	}
	return slices.Clone(cat.items), true
}

// Done returns a channel closed when the current (or next) pass of the
// category completes. It is nil for unknown names.
func (e *Engine) Done(name string) <-chan struct{} {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if cat, ok := e.categories[name]; ok {
		return cat.done
	}
	return nil
}

// Cleanup drops every stored result.
func (e *Engine) Cleanup() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, cat := range e.categories {
		cat.items = nil
	}
}
