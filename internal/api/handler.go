// Package api is the HTTP surface the device UI talks to.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/engine"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Syncer is the part of the engine the API drives.
type Syncer interface {
	TriggerSyncNow(deviceID string) error
	CancelSync(deviceID string) bool
	Status(deviceID string) (engine.TargetStatus, bool)
	Statuses() []engine.TargetStatus
	Mode() engine.Mode
	RecordStatus(ctx context.Context, id string) (models.SyncStatus, error)
	PendingByType(ctx context.Context, deviceID string) (map[models.RecordType]int, error)
}

// Devices lists what the directory knows.
type Devices interface {
	List(ctx context.Context) ([]*models.DeviceDescriptor, error)
	Facility(ctx context.Context) (*models.DeviceDescriptor, error)
}

type Handler struct {
	store   *store.Store
	syncer  Syncer
	devices Devices
	log     logging.Logger
}

func NewHandler(s *store.Store, syncer Syncer, devices Devices, l logging.Logger) *Handler {
	return &Handler{store: s, syncer: syncer, devices: devices, log: l.With("module", "api")}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Get("/records", h.ListRecords)
		r.Route("/records/{id}", func(r chi.Router) {
			r.Get("/", h.GetRecord)
			r.Put("/", h.PutRecord)
			r.Delete("/", h.DeleteRecord)
			r.Get("/status", h.RecordStatus)
		})

		r.Get("/devices", h.ListDevices)
		r.Get("/pending", h.Pending)

		r.Get("/sync", h.SyncOverview)
		r.Post("/sync", h.TriggerAll)
		r.Get("/sync/{deviceID}", h.SyncStatus)
		r.Post("/sync/{deviceID}", h.TriggerOne)
		r.Delete("/sync/{deviceID}", h.CancelSync)
	})

	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type recordView struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	Deleted      bool            `json:"deleted,omitempty"`
	Version      uint64          `json:"version"`
	OriginDevice string          `json:"origin_device"`
	UpdatedAt    time.Time       `json:"updated_at"`
	HadConflict  bool            `json:"had_conflict,omitempty"`
}

func viewOf(r *models.Record) recordView {
	payload := json.RawMessage(r.Payload)
	if !json.Valid(payload) {
		// not JSON: ship it as a base64 string
		payload, _ = json.Marshal(r.Payload)
	}
	return recordView{
		ID:           r.ID,
		Type:         string(r.Type),
		Payload:      payload,
		Deleted:      r.Deleted,
		Version:      r.Version,
		OriginDevice: r.OriginDevice,
		UpdatedAt:    r.UpdatedAt,
		HadConflict:  r.HadConflict,
	}
}

func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	t := models.RecordType(r.URL.Query().Get("type"))
	out := []recordView{}
	for rec, err := range h.store.Scan(r.Context(), t) {
		if err != nil {
			h.fail(w, r, err)
			return
		}
		out = append(out, viewOf(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(rec))
}

type putRequest struct {
	Type            string          `json:"type"`
	Payload         json.RawMessage `json:"payload"`
	ExpectedVersion uint64          `json:"expected_version"`
}

func (h *Handler) PutRecord(w http.ResponseWriter, r *http.Request) {
	var req putRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}
	rec := &models.Record{
		ID:      chi.URLParam(r, "id"),
		Type:    models.RecordType(req.Type),
		Payload: req.Payload,
	}
	saved, err := h.store.Put(r.Context(), rec, req.ExpectedVersion)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if saved.Version == 1 {
		status = http.StatusCreated
	}
	writeJSON(w, status, viewOf(saved))
}

func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	expected, err := strconv.ParseUint(r.URL.Query().Get("expected_version"), 10, 64)
	if err != nil {
		http.Error(w, "expected_version is required", http.StatusBadRequest)
		return
	}
	saved, err := h.store.Delete(r.Context(), chi.URLParam(r, "id"), expected)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(saved))
}

func (h *Handler) RecordStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := h.syncer.RecordStatus(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(st)})
}

type deviceView struct {
	DeviceID       string    `json:"device_id"`
	Role           string    `json:"role"`
	Address        string    `json:"address,omitempty"`
	Reachability   string    `json:"reachability"`
	LastSeenAt     time.Time `json:"last_seen_at"`
	LastSyncedAt   time.Time `json:"last_synced_at"`
	PendingChanges uint64    `json:"pending_changes"`
}

func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	list, err := h.devices.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]deviceView, 0, len(list))
	for _, d := range list {
		out = append(out, deviceView{
			DeviceID:       d.DeviceID,
			Role:           string(d.Role),
			Address:        d.Address,
			Reachability:   d.Reachability.String(),
			LastSeenAt:     d.LastSeenAt,
			LastSyncedAt:   d.LastSyncedAt,
			PendingChanges: d.PendingChanges,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// Pending counts unacknowledged records per type for ?device=, the
// facility by default.
func (h *Handler) Pending(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("device")
	if id == "" {
		f, err := h.devices.Facility(r.Context())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		id = f.DeviceID
	}
	counts, err := h.syncer.PendingByType(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := map[string]int{}
	for _, t := range models.RecordTypes {
		out[string(t)] = counts[t]
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_id": id, "pending": out})
}

type statusView struct {
	DeviceID    string         `json:"device_id"`
	State       string         `json:"state"`
	Progress    int            `json:"progress"`
	LastError   string         `json:"last_error,omitempty"`
	LastSuccess time.Time      `json:"last_success"`
	Failures    int            `json:"failures"`
	NextAttempt time.Time      `json:"next_attempt"`
	Pulled      int            `json:"pulled"`
	Pushed      int            `json:"pushed"`
	Pending     map[string]int `json:"pending,omitempty"`
}

func statusOf(st engine.TargetStatus) statusView {
	v := statusView{
		DeviceID:    st.DeviceID,
		State:       st.State.String(),
		Progress:    st.Progress,
		LastError:   st.LastError,
		LastSuccess: st.LastSuccess,
		Failures:    st.Failures,
		NextAttempt: st.NextAttempt,
		Pulled:      st.Pulled,
		Pushed:      st.Pushed,
	}
	if len(st.Pending) > 0 {
		v.Pending = map[string]int{}
		for t, n := range st.Pending {
			v.Pending[string(t)] = n
		}
	}
	return v
}

func (h *Handler) SyncOverview(w http.ResponseWriter, r *http.Request) {
	targets := []statusView{}
	for _, st := range h.syncer.Statuses() {
		targets = append(targets, statusOf(st))
	}
	writeJSON(w, http.StatusOK, map[string]any{"mode": string(h.syncer.Mode()), "targets": targets})
}

func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	st, _ := h.syncer.Status(chi.URLParam(r, "deviceID"))
	writeJSON(w, http.StatusOK, statusOf(st))
}

func (h *Handler) TriggerAll(w http.ResponseWriter, r *http.Request) {
	if err := h.syncer.TriggerSyncNow(""); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (h *Handler) TriggerOne(w http.ResponseWriter, r *http.Request) {
	if err := h.syncer.TriggerSyncNow(chi.URLParam(r, "deviceID")); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (h *Handler) CancelSync(w http.ResponseWriter, r *http.Request) {
	cancelled := h.syncer.CancelSync(chi.URLParam(r, "deviceID"))
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, common.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, common.ErrConflict), errors.Is(err, common.ErrBusy):
		code = http.StatusConflict
	case errors.Is(err, common.ErrInvalidRecord):
		code = http.StatusBadRequest
	case errors.Is(err, common.ErrStoreFull):
		code = http.StatusInsufficientStorage
	}
	if code == http.StatusInternalServerError {
		h.log.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	http.Error(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
