// DiskAnalyzer Server
//
// Features:
// - In-memory index of one or more directory trees
// - Live updates from filesystem notifications
// - Ranked statistics (largest files, dominant directories, extensions,
//   creation years, owners, MIME types)
// - Prometheus metrics & structured logging (zap)
// - SSE stream of node changes
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/analyzer"
	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/api"
	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/config"
	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/fsinfo"
	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/logging"
	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/metrics"
	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/nodeindex"
	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/scanner"
	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/stats"
	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/watcher"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("DiskAnalyzer starting...",
		zap.Strings("roots", cfg.Roots),
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	roots := make([]string, 0, len(cfg.Roots))
	for _, root := range cfg.Roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			logging.Fatal("invalid root", zap.String("root", root), zap.Error(err))
		}
		roots = append(roots, abs)
	}

	fs := afero.NewOsFs()
	idx := nodeindex.New(
		nodeindex.WithSeparator(filepath.Separator),
		nodeindex.WithEventBuffer(cfg.EventBuffer),
	)
	sc := scanner.New(idx, fs)
	engine := stats.NewEngine(idx, stats.DefaultCalculators(fsinfo.OwnerClassifier(fs), fsinfo.MimeType)...)
	an := analyzer.New(idx, sc, engine)
	defer an.Close()

	// Initial scans. The first root is analyzed; the rest are only indexed.
	if cfg.ScanOnStart {
		an.Start(roots[0])
		for _, root := range roots[1:] {
			go func() {
				res := sc.Scan(ctx, root)
				logging.Info("root indexed",
					zap.String("root", root),
					zap.Int("directories", res.Directories),
					zap.Int("files", res.Files),
					zap.Int("errors", res.Errors))
			}()
		}
	}

	// Live updates
	bridge := watcher.NewBridge(idx, sc)
	defer bridge.Close()

	var watchers sync.WaitGroup
	if cfg.Watch {
		for _, root := range roots {
			src, err := watcher.NewSource(root, bridge, cfg.RenameWindow)
			if err != nil {
				logging.Error("watch failed", zap.String("root", root), zap.Error(err))
				continue
			}
			watchers.Add(1)
			go func() {
				defer watchers.Done()
				defer src.Close()
				src.Run(ctx)
			}()
		}
	}

	srv := api.NewServer(idx, engine, an)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		httpServer.Close()
		metricsServer.Close()
	}()

	// Start periodic metrics update
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				totals := idx.Totals()
				metrics.SetIndexTotals(totals.Files+totals.Directories, totals.Size)
			}
		}
	}()

	logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Error("server error", zap.Error(err))
	}

	cancel()
	watchers.Wait()
	logging.Info("stopped")
}
