// Package analyzer sequences rescans and statistics passes so that only
// one analysis runs at a time.
package analyzer

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/logging"
	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/nodeindex"
	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/scanner"
	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/stats"
)

// Analyzer rescans a tree and then recomputes statistics over it. A new
// analysis cancels the running one and waits for it to stop before
// touching the index.
type Analyzer struct {
	idx     *nodeindex.Index
	scanner *scanner.Scanner
	engine  *stats.Engine

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	current *run
	path    string
}

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an analyzer.
func New(idx *nodeindex.Index, sc *scanner.Scanner, engine *stats.Engine) *Analyzer {
	base, cancel := context.WithCancel(context.Background())
	return &Analyzer{
		idx:     idx,
		scanner: sc,
		engine:  engine,
		base:    base,
		cancel:  cancel,
	}
}

// Path returns the tree most recently submitted for analysis.
func (a *Analyzer) Path() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.path
}

// Analyze rescans path and recomputes every statistic over it. It returns
// ctx.Err() when the analysis was cancelled, by ctx or by a newer one.
func (a *Analyzer) Analyze(ctx context.Context, path string) (scanner.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(a.base, cancel)
	defer stop()

	r := &run{cancel: cancel, done: make(chan struct{})}
	defer close(r.done)

	a.mu.Lock()
	prev := a.current
	a.current = r
	a.path = path
	a.mu.Unlock()
	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	logging.Info("analysis started", zap.String("path", path))
	res := a.scanner.Scan(ctx, path)
	if res.Cancelled {
		return res, ctx.Err()
	}

	root, ok := a.idx.Get(path)
	if !ok {
		root = a.idx.Root()
	}
	err := a.engine.Calculate(ctx, root)
	if err == nil {
		logging.Info("analysis finished",
			zap.String("path", path),
			zap.Int("directories", res.Directories),
			zap.Int("files", res.Files),
			zap.Int("errors", res.Errors),
			zap.Duration("scan_duration", res.Duration),
		)
	}
	return res, err
}

// Start runs Analyze in the background until it finishes or the analyzer
// is closed.
func (a *Analyzer) Start(path string) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if _, err := a.Analyze(a.base, path); err != nil {
			logging.Info("analysis cancelled", zap.String("path", path), zap.Error(err))
		}
	}()
}

// Close cancels every analysis and waits for background ones to return.
func (a *Analyzer) Close() {
	a.cancel()
	a.wg.Wait()
}
