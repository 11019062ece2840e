// Package handler exposes the operator interface: read-only sync health plus
// privileged manual triggers. Triggers are synchronous wrappers over the same
// sweep logic the scheduler runs.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tracient/internal/ledger"
	syncsvc "tracient/internal/sync"
	"tracient/internal/sync/events"
	"tracient/internal/wage/models"
	"tracient/pkg/platform/httputil"
)

// Orchestrator is the sweep surface the handler drives.
type Orchestrator interface {
	RunPendingSweep(ctx context.Context) (syncsvc.Result, error)
	RunRetrySweep(ctx context.Context) (syncsvc.Result, error)
	ForceResync(ctx context.Context, id string) (*models.Record, error)
}

// Gateway is the connection surface the handler reports on.
type Gateway interface {
	Status() ledger.Status
	Health(ctx context.Context) ledger.HealthStatus
	Reconnect(ctx context.Context) error
}

// WageReader loads per-record sync detail and aggregate statistics straight
// from the store. Statistics never ride on the stats sweep; the endpoint must
// answer even while a sweep holds the overlap guard.
type WageReader interface {
	Get(ctx context.Context, id string) (*models.Record, error)
	Stats(ctx context.Context) (models.Stats, error)
}

// Handler wires sync endpoints to the orchestrator and gateway.
type Handler struct {
	orchestrator Orchestrator
	gateway      Gateway
	wages        WageReader
	logger       *slog.Logger
	events       events.Publisher
}

// Option configures the Handler.
type Option func(*Handler)

// WithEvents sets the sync event publisher used for operator actions.
func WithEvents(p events.Publisher) Option {
	return func(h *Handler) {
		h.events = p
	}
}

// New constructs the sync handler with its dependencies.
func New(orchestrator Orchestrator, gateway Gateway, wages WageReader, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		orchestrator: orchestrator,
		gateway:      gateway,
		wages:        wages,
		logger:       logger,
		events:       events.Noop{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the read-only endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/sync/status", h.HandleStatus)
	r.Get("/sync/stats", h.HandleStats)
	r.Get("/sync/records/{id}", h.HandleRecord)
}

// RegisterAdmin mounts the privileged trigger endpoints. Mount behind the
// operator auth middleware.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/admin/sync/run", h.HandleRunPending)
	r.Post("/admin/sync/retry", h.HandleRunRetry)
	r.Post("/admin/sync/records/{id}/resync", h.HandleResync)
	r.Post("/admin/sync/reconnect", h.HandleReconnect)
}

// HandleStatus handles GET /sync/status.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.gateway.Status())
}

// statsResponse augments raw statistics with the derived rate.
type statsResponse struct {
	models.Stats
	SyncRatePercent float64 `json:"syncRatePercent"`
}

// HandleStats handles GET /sync/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.wages.Stats(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "stats aggregation failed", "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, statsResponse{Stats: stats, SyncRatePercent: stats.SyncRatePercent()})
}

// recordResponse is the per-record sync detail view.
type recordResponse struct {
	ID            string     `json:"id"`
	SyncStatus    string     `json:"syncStatus"`
	AttemptCount  int        `json:"attemptCount"`
	LastSyncError string     `json:"lastSyncError,omitempty"`
	LedgerTxID    string     `json:"ledgerTxId,omitempty"`
	LedgerBlock   uint64     `json:"ledgerBlock,omitempty"`
	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty"`
	SyncedAt      *time.Time `json:"syncedAt,omitempty"`
}

func toRecordResponse(rec *models.Record) recordResponse {
	return recordResponse{
		ID:            rec.ID,
		SyncStatus:    string(rec.SyncStatus),
		AttemptCount:  rec.AttemptCount,
		LastSyncError: rec.LastSyncError,
		LedgerTxID:    rec.LedgerTxID,
		LedgerBlock:   rec.LedgerBlock,
		LastAttemptAt: rec.LastAttemptAt,
		SyncedAt:      rec.SyncedAt,
	}
}

// HandleRecord handles GET /sync/records/{id}.
func (h *Handler) HandleRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		httputil.WriteBadRequest(w, "record id is required")
		return
	}
	rec, err := h.wages.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(rec))
}

// HandleRunPending handles POST /admin/sync/run.
func (h *Handler) HandleRunPending(w http.ResponseWriter, r *http.Request) {
	h.runSweep(w, r, "pending", h.orchestrator.RunPendingSweep)
}

// HandleRunRetry handles POST /admin/sync/retry.
func (h *Handler) HandleRunRetry(w http.ResponseWriter, r *http.Request) {
	h.runSweep(w, r, "retry", h.orchestrator.RunRetrySweep)
}

func (h *Handler) runSweep(w http.ResponseWriter, r *http.Request, name string, run func(context.Context) (syncsvc.Result, error)) {
	start := time.Now()
	result, err := run(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "manual sweep failed", "sweep", name, "error", err)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(r.Context(), "manual sweep triggered",
		"sweep", name,
		"processed", result.Processed,
		"synced", result.Synced,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	status := http.StatusOK
	if result.Skipped {
		status = http.StatusConflict
	}
	httputil.WriteJSON(w, status, result)
}

// HandleResync handles POST /admin/sync/records/{id}/resync.
func (h *Handler) HandleResync(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		httputil.WriteBadRequest(w, "record id is required")
		return
	}
	rec, err := h.orchestrator.ForceResync(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(r.Context(), "record force-resynced",
		"record_id", id,
		"sync_status", rec.SyncStatus,
	)
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(rec))
}

// HandleReconnect handles POST /admin/sync/reconnect.
func (h *Handler) HandleReconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.gateway.Reconnect(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "gateway reconnect failed", "error", err)
		httputil.WriteError(w, err)
		return
	}
	status := h.gateway.Status()
	h.events.Publish(r.Context(), events.Event{Type: events.TypeGatewayReconnected})
	h.logger.InfoContext(r.Context(), "gateway reconnected",
		"connected", status.Connected,
		"identity_source", status.IdentitySource,
	)
	httputil.WriteJSON(w, http.StatusOK, status)
}

// HandleHealthz handles GET /healthz: process liveness plus the ledger probe.
func (h *Handler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	health := h.gateway.Health(r.Context())
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"ledger": health,
	})
}
