package bam

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/relayhq/intake-engine/internal/observability/metrics"
	"github.com/relayhq/intake-engine/pkg/logging"
)

// SnapshotSource recomputes the monitoring view.
type SnapshotSource interface {
	Compute(ctx context.Context) (*Snapshot, error)
}

// Handler serves the BAM view over HTTP and pushes live refreshes to
// websocket subscribers. It caches the last good snapshot so a transient
// database error never blanks the dashboard.
type Handler struct {
	source  SnapshotSource
	metrics *metrics.IntakeMetrics
	logger  *logging.Logger
	refresh time.Duration

	mu   sync.RWMutex
	last *Snapshot

	connMu sync.Mutex
	conns  map[*websocket.Conn]struct{}
}

// NewHandler creates the BAM handler. Default refresh interval is 15s.
func NewHandler(source SnapshotSource, logger *logging.Logger) *Handler {
	if source == nil {
		panic("bam: source is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		source:  source,
		logger:  logger,
		refresh: 15 * time.Second,
		conns:   make(map[*websocket.Conn]struct{}),
	}
}

func (h *Handler) WithRefreshInterval(d time.Duration) *Handler {
	if d > 0 {
		h.refresh = d
	}
	return h
}

func (h *Handler) WithMetrics(im *metrics.IntakeMetrics) *Handler {
	h.metrics = im
	return h
}

// Run refreshes the snapshot on an interval and fans it out to live
// subscribers. Blocks until ctx is canceled.
func (h *Handler) Run(ctx context.Context) {
	ticker := time.NewTicker(h.refresh)
	defer ticker.Stop()
	h.refreshOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.refreshOnce(ctx)
		}
	}
}

func (h *Handler) refreshOnce(ctx context.Context) {
	snap, err := h.source.Compute(ctx)
	if err != nil {
		h.logger.Error("bam refresh failed", "error", err)
		return
	}

	h.mu.Lock()
	h.last = snap
	h.mu.Unlock()

	for _, qs := range snap.Queues {
		h.metrics.SetQueueDepth(qs.Name, qs.Waiting)
	}
	h.broadcast(snap)
}

// HandleSnapshot returns the current snapshot.
// GET /bam/snapshot
func (h *Handler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	snap := h.last
	h.mu.RUnlock()

	if snap == nil {
		fresh, err := h.source.Compute(r.Context())
		if err != nil {
			h.logger.Error("snapshot compute failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		snap = fresh
		h.mu.Lock()
		h.last = snap
		h.mu.Unlock()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		h.logger.Error("snapshot encode failed", "error", err)
	}
}

// HandleLive upgrades to a websocket and streams snapshots until the client
// disconnects.
// GET /bam/live
func (h *Handler) HandleLive(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(conn *websocket.Conn) {
	h.mu.RLock()
	snap := h.last
	h.mu.RUnlock()
	if snap != nil {
		if err := websocket.JSON.Send(conn, snap); err != nil {
			return
		}
	}

	h.connMu.Lock()
	h.conns[conn] = struct{}{}
	h.connMu.Unlock()
	defer func() {
		h.connMu.Lock()
		delete(h.conns, conn)
		h.connMu.Unlock()
	}()

	h.logger.Debug("bam subscriber connected")

	// Drain the connection to notice the close. Client input is ignored.
	for {
		var discard json.RawMessage
		if err := websocket.JSON.Receive(conn, &discard); err != nil {
			return
		}
	}
}

func (h *Handler) broadcast(snap *Snapshot) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	for conn := range h.conns {
		if err := websocket.JSON.Send(conn, snap); err != nil {
			delete(h.conns, conn)
		}
	}
}
