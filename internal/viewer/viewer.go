// Package viewer serves stored reconstruction runs over HTTP: a JSON index,
// per-run detail, an interactive 3D view and a stroke download.
package viewer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/sketchlift/internal/export"
	"github.com/banshee-data/sketchlift/internal/httputil"
	"github.com/banshee-data/sketchlift/internal/monitoring"
	"github.com/banshee-data/sketchlift/internal/security"
	"github.com/banshee-data/sketchlift/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// RunSource is the read side of the run store.
type RunSource interface {
	List(ctx context.Context, entry string, limit int) ([]store.Run, error)
	Get(ctx context.Context, id string) (*store.Run, error)
	Strokes(ctx context.Context, runID string) ([]store.StrokeResult, error)
}

// Config holds the viewer settings.
type Config struct {
	Address string
	Runs    RunSource
	// Admin, when set, mounts the /debug/ routes over its database.
	Admin *store.Store
	// AssetsHost overrides where the echarts script is loaded from.
	AssetsHost string
}

// Server is the viewer HTTP server.
type Server struct {
	address    string
	runs       RunSource
	assetsHost string
	mux        *http.ServeMux
	server     *http.Server
}

// New builds the server and its routes. It fails only if the admin routes
// cannot be created.
func New(cfg Config) (*Server, error) {
	if cfg.Runs == nil {
		return nil, errors.New("viewer: no run source")
	}
	s := &Server{
		address:    cfg.Address,
		runs:       cfg.Runs,
		assetsHost: cfg.AssetsHost,
	}
	s.mux = s.setupRoutes()
	if cfg.Admin != nil {
		if err := AttachAdminRoutes(s.mux, cfg.Admin); err != nil {
			return nil, err
		}
	}
	s.server = &http.Server{
		Addr:              s.address,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the route multiplexer.
func (s *Server) Handler() http.Handler { return s.mux }

// Start serves until ctx is cancelled, then shuts down. A listen failure is
// returned instead of waiting for ctx.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start over an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("Starting viewer on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err, ok := <-errc:
		if ok {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	monitoring.Logf("shutting down viewer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("viewer shutdown error: %v", err)
		if err := s.server.Close(); err != nil {
			monitoring.Logf("viewer force close error: %v", err)
		}
	}
	monitoring.Logf("viewer stopped")
	return nil
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleList)
	mux.HandleFunc("GET /runs/{id}", s.handleRun)
	mux.HandleFunc("GET /runs/{id}/view", s.handleView)
	mux.HandleFunc("GET /runs/{id}/strokes.json", s.handleStrokes)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"status":    "ok",
		"service":   "sketchlift",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleList returns the newest runs.
// Query params:
//
//	entry (optional, exact entry name)
//	limit (optional, default 50, max 500)
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 || n > maxListLimit {
			httputil.BadRequest(w, fmt.Sprintf("limit must be between 1 and %d", maxListLimit))
			return
		}
		limit = n
	}
	runs, err := s.runs.List(r.Context(), r.URL.Query().Get("entry"), limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, runs)
}

type runDetail struct {
	Run     *store.Run           `json:"run"`
	Strokes []store.StrokeResult `json:"strokes"`
}

// load fetches a run and its strokes, writing the error response itself
// when it returns false.
func (s *Server) load(w http.ResponseWriter, r *http.Request) (runDetail, bool) {
	id := r.PathValue("id")
	run, err := s.runs.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		httputil.NotFound(w, fmt.Sprintf("run %s not found", id))
		return runDetail{}, false
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return runDetail{}, false
	}
	strokes, err := s.runs.Strokes(r.Context(), id)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return runDetail{}, false
	}
	return runDetail{Run: run, Strokes: strokes}, true
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	d, ok := s.load(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, d)
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	d, ok := s.load(w, r)
	if !ok {
		return
	}
	strokes := export.Geometry(records(d.Strokes))
	var buf bytes.Buffer
	err := export.RenderHTML(&buf, export.Opaque(strokes), export.HTMLOptions{
		Title:      d.Run.Entry,
		Subtitle:   fmt.Sprintf("run %s, %d/%d strokes lifted", d.Run.ID, d.Run.LiftedCount, d.Run.StrokeCount),
		AssetsHost: s.assetsHost,
	})
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteHTML(w, buf.Bytes())
}

// handleStrokes downloads the run in the reconstructed_strokes.json layout.
func (s *Server) handleStrokes(w http.ResponseWriter, r *http.Request) {
	d, ok := s.load(w, r)
	if !ok {
		return
	}
	data, err := export.MarshalStrokes(records(d.Strokes))
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	name := security.SanitizeFilename(d.Run.Entry) + "_reconstructed_strokes.json"
	httputil.WriteAttachment(w, name, data)
}

// records keeps the strokes that produced geometry.
func records(strokes []store.StrokeResult) []export.StrokeRecord {
	out := make([]export.StrokeRecord, 0, len(strokes))
	for _, s := range strokes {
		if s.Status == store.StatusFailed || len(s.Geometry) == 0 {
			continue
		}
		out = append(out, export.StrokeRecord{StrokeIndex: s.StrokeIndex, Geometry: s.Geometry})
	}
	return out
}
