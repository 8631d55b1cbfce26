// Package api provides the HTTP server and handlers.
package api

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/analyzer"
	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/logging"
	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/metrics"
	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/nodeindex"
	"github.com/IlyaPatskalyov/DiskAnalyzer/internal/stats"
)

// Pool gzip writers to reduce allocations on tree and stats responses.
var gzipPool = sync.Pool{
	New: func() any { return gzip.NewWriter(nil) },
}

const maxTreeDepth = 8

// Server is the HTTP server.
type Server struct {
	idx      *nodeindex.Index
	engine   *stats.Engine
	analyzer *analyzer.Analyzer
}

// NewServer creates a new server.
func NewServer(idx *nodeindex.Index, engine *stats.Engine, a *analyzer.Analyzer) *Server {
	return &Server{idx: idx, engine: engine, analyzer: a}
}

// Handler returns the HTTP handler with all routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/v1/tree", s.handleTree)
	mux.HandleFunc("GET /api/v1/tree/{path...}", s.handleTree)

	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	mux.HandleFunc("GET /api/v1/stats/{name}", s.handleStatsCategory)

	mux.HandleFunc("POST /api/v1/scan/{path...}", s.handleScan)

	mux.HandleFunc("GET /api/v1/events", s.handleEvents)

	return metrics.Middleware(logging.Middleware(mux))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	totals := s.idx.Totals()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"size":        totals.Size,
		"files":       totals.Files,
		"directories": totals.Directories,
	})
}

// ─── Tree ───────────────────────────────────────────────────────────────────

// NodeView is the JSON form of an indexed node.
type NodeView struct {
	Name           string     `json:"name"`
	Path           string     `json:"path"`
	Kind           string     `json:"kind"`
	Size           int64      `json:"size"`
	SizeCaption    string     `json:"size_caption"`
	FileCount      int64      `json:"file_count"`
	DirectoryCount int64      `json:"directory_count"`
	CreationTime   *time.Time `json:"creation_time,omitempty"`
	Children       []NodeView `json:"children,omitempty"`
}

func (s *Server) nodeView(n *nodeindex.Node, depth int) NodeView {
	v := NodeView{
		Name:           n.Name(),
		Path:           s.idx.FullPath(n),
		Kind:           n.Kind().String(),
		Size:           n.Size(),
		SizeCaption:    humanize.IBytes(uint64(max(n.Size(), 0))),
		FileCount:      n.FileCount(),
		DirectoryCount: n.DirectoryCount(),
	}
	if t, ok := n.CreationTime(); ok {
		v.CreationTime = &t
	}
	if depth > 0 {
		for _, c := range n.Children() {
			v.Children = append(v.Children, s.nodeView(c, depth-1))
		}
	}
	return v
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	depth := 1
	if d := r.URL.Query().Get("depth"); d != "" {
		v, err := strconv.Atoi(d)
		if err != nil || v < 0 {
			s.sendError(w, http.StatusBadRequest, "invalid depth: "+d)
			return
		}
		depth = min(v, maxTreeDepth)
	}

	node := s.idx.Root()
	if path := r.PathValue("path"); path != "" {
		n, ok := s.idx.Get(path)
		if !ok {
			s.sendError(w, http.StatusNotFound, "path not found: "+path)
			return
		}
		node = n
	}

	s.sendJSON(w, r, s.nodeView(node, depth))
}

// ─── Statistics ─────────────────────────────────────────────────────────────

// ItemView is a ranked row with display captions.
type ItemView struct {
	stats.Item
	SizeCaption      string `json:"size_caption"`
	FileCountCaption string `json:"file_count_caption"`
}

func itemViews(items []stats.Item) []ItemView {
	out := make([]ItemView, len(items))
	for i, it := range items {
		out[i] = ItemView{Item: it, SizeCaption: it.SizeCaption(), FileCountCaption: it.FileCountCaption()}
	}
	return out
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Path       string                `json:"path"`
		Categories map[string][]ItemView `json:"categories"`
	}{
		Path:       s.analyzer.Path(),
		Categories: make(map[string][]ItemView),
	}
	for _, name := range s.engine.Names() {
		items, _ := s.engine.Result(name)
		resp.Categories[name] = itemViews(items)
	}
	s.sendJSON(w, r, resp)
}

// handleStatsCategory returns one category. With ?wait=true it blocks
// until the running pass of that category completes.
func (s *Server) handleStatsCategory(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	done := s.engine.Done(name)
	if done == nil {
		s.sendError(w, http.StatusNotFound, "unknown statistics category: "+name)
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		select {
		case <-done:
		case <-r.Context().Done():
			return
		}
	}

	items, _ := s.engine.Result(name)
	s.sendJSON(w, r, struct {
		Name  string     `json:"name"`
		Items []ItemView `json:"items"`
	}{Name: name, Items: itemViews(items)})
}

// ─── Scan ───────────────────────────────────────────────────────────────────

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	path := fsPath(r.PathValue("path"))
	if path == "" {
		s.sendError(w, http.StatusBadRequest, "path required")
		return
	}

	s.analyzer.Start(path)
	logging.WithContext(r.Context()).Info("analysis requested", zap.String("path", path))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted", "path": path})
}

// fsPath turns a route wildcard back into a filesystem path. The mux
// strips the leading slash of absolute paths; volume paths keep theirs.
func fsPath(p string) string {
	if p == "" {
		return ""
	}
	first, _, _ := strings.Cut(p, "/")
	if strings.HasPrefix(p, "/") || strings.HasSuffix(first, ":") {
		return p
	}
	return "/" + p
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

// EventView is the JSON form of a node notification.
type EventView struct {
	Type      string `json:"type"`
	Path      string `json:"path"`
	Child     string `json:"child,omitempty"`
	Attribute string `json:"attribute,omitempty"`
}

// handleEvents streams node notifications. ?path= limits the stream to
// one node; without it every node is reported.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	var node *nodeindex.Node
	if path := r.URL.Query().Get("path"); path != "" {
		n, ok := s.idx.Get(path)
		if !ok {
			s.sendError(w, http.StatusNotFound, "path not found: "+path)
			return
		}
		node = n
	}

	sub := s.idx.Subscribe(node)
	defer s.idx.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			view := EventView{
				Type:      string(event.Type),
				Path:      s.idx.FullPath(event.Node),
				Attribute: string(event.Attribute),
			}
			if event.Child != nil {
				view.Child = event.Child.Name()
			}
			data, err := json.Marshal(view)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", view.Type, data)
			flusher.Flush()
		}
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func acceptsGzip(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

func (s *Server) sendJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if acceptsGzip(r) {
		w.Header().Set("Content-Encoding", "gzip")
		gw := gzipPool.Get().(*gzip.Writer)
		gw.Reset(w)
		json.NewEncoder(gw).Encode(v)
		gw.Close()
		gzipPool.Put(gw)
		return
	}
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: message,
		Code:  code,
	})
}
