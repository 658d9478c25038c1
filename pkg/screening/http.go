package screening

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ai4ckd/platform/pkg/common/logger"
	"github.com/ai4ckd/platform/pkg/common/models"
	"github.com/ai4ckd/platform/pkg/geo"
	"github.com/ai4ckd/platform/pkg/normalizer"
	"github.com/ai4ckd/platform/pkg/observability/metrics"
	"github.com/ai4ckd/platform/pkg/srirc"
	"github.com/ai4ckd/platform/pkg/triage"
	"github.com/gorilla/mux"
)

const (
	defaultTopLimit = 50
	maxTopLimit     = 1000
	maxBatch        = 5000
)

type HTTPHandler struct {
	engine *Engine
	cache  *SnapshotCache
}

// NewHTTPHandler serves the engine. cache may be nil, in which case
// /snapshot is computed on demand.
func NewHTTPHandler(engine *Engine, cache *SnapshotCache) *HTTPHandler {
	return &HTTPHandler{engine: engine, cache: cache}
}

// Register mounts the API routes, normally on an /api/v1 subrouter.
func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/patients", h.handleSubmit).Methods(http.MethodPost)
	router.HandleFunc("/patients/batch", h.handleBatch).Methods(http.MethodPost)
	router.HandleFunc("/patients/{id}", h.handlePatient).Methods(http.MethodGet)
	router.HandleFunc("/patients/{id}", h.handleRemove).Methods(http.MethodDelete)
	router.HandleFunc("/patients/{id}/events", h.handleEvents).Methods(http.MethodGet)
	router.HandleFunc("/score", h.handleScore).Methods(http.MethodPost)
	router.HandleFunc("/queue", h.handleQueue).Methods(http.MethodGet)
	router.HandleFunc("/aggregates", h.handleAggregates).Methods(http.MethodGet)
	router.HandleFunc("/aggregates/{region}", h.handleAggregate).Methods(http.MethodGet)
	router.HandleFunc("/regions", h.handleRegions).Methods(http.MethodGet)
	router.HandleFunc("/regions/{region}", h.handleRegion).Methods(http.MethodGet)
	router.HandleFunc("/snapshot", h.handleSnapshot).Methods(http.MethodGet)
	router.HandleFunc("/tiers", h.handleTiers).Methods(http.MethodGet)
}

// RegisterOps mounts /health and /metrics at the root.
func (h *HTTPHandler) RegisterOps(router *mux.Router) {
	router.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var rec models.PatientRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		logger.Log.WithError(err).Warn("invalid patient payload")
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	out, err := h.engine.Submit(r.Context(), rec)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, out)
}

type batchResult struct {
	Index   int                     `json:"index"`
	Outcome *Outcome                `json:"outcome,omitempty"`
	Error   string                  `json:"error,omitempty"`
	Fields  []normalizer.FieldError `json:"fields,omitempty"`
}

func (h *HTTPHandler) handleBatch(w http.ResponseWriter, r *http.Request) {
	var records []models.PatientRecord
	if err := json.NewDecoder(r.Body).Decode(&records); err != nil {
		logger.Log.WithError(err).Warn("invalid batch payload")
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(records) > maxBatch {
		http.Error(w, "batch too large", http.StatusRequestEntityTooLarge)
		return
	}

	items := h.engine.SubmitBatch(r.Context(), records)
	results := make([]batchResult, len(items))
	accepted := 0
	for i, item := range items {
		results[i].Index = item.Index
		if item.Err != nil {
			results[i].Error = item.Err.Error()
			var ve *normalizer.ValidationError
			if errors.As(item.Err, &ve) {
				results[i].Fields = ve.Fields
			}
			continue
		}
		out := item.Outcome
		results[i].Outcome = &out
		accepted++
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accepted": accepted,
		"rejected": len(items) - accepted,
		"results":  results,
	})
}

func (h *HTTPHandler) handlePatient(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	entry, rank, ok := h.engine.Patient(id)
	if !ok {
		http.Error(w, "patient not queued", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, triage.Ranked{Rank: rank, Entry: entry})
}

func (h *HTTPHandler) handleRemove(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.engine.Remove(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r, defaultTopLimit)
	if !ok {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return
	}
	events, err := h.engine.ScoreHistory(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if events == nil {
		events = []ScoreEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *HTTPHandler) handleScore(w http.ResponseWriter, r *http.Request) {
	var rec models.PatientRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	a, err := h.engine.Assess(r.Context(), rec)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *HTTPHandler) handleQueue(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r, defaultTopLimit)
	if !ok {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, h.engine.TopUrgent(limit))
}

func (h *HTTPHandler) handleAggregates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"regions": h.engine.AggregatesByRegion(),
		"totals":  h.engine.Totals(),
	})
}

func (h *HTTPHandler) handleAggregate(w http.ResponseWriter, r *http.Request) {
	agg, err := h.engine.Aggregate(mux.Vars(r)["region"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

func (h *HTTPHandler) handleRegions(w http.ResponseWriter, r *http.Request) {
	registry := h.engine.Registry()
	if q := r.URL.Query().Get("q"); q != "" {
		limit, _ := parseLimit(r, 0)
		writeJSON(w, http.StatusOK, registry.Search(q, limit))
		return
	}
	writeJSON(w, http.StatusOK, registry.Regions())
}

func (h *HTTPHandler) handleRegion(w http.ResponseWriter, r *http.Request) {
	region, ok := h.engine.Registry().Lookup(mux.Vars(r)["region"])
	if !ok {
		http.Error(w, "region not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, region)
}

func (h *HTTPHandler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r, defaultTopLimit)
	if !ok {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return
	}
	if h.cache != nil && r.URL.Query().Get("limit") == "" {
		snap, err := h.cache.Load(r.Context())
		if err == nil {
			w.Header().Set("X-Snapshot-Source", "cache")
			writeJSON(w, http.StatusOK, snap)
			return
		}
		if !errors.Is(err, ErrCacheMiss) {
			logger.Log.WithError(err).Warn("snapshot cache read failed")
		}
	}
	w.Header().Set("X-Snapshot-Source", "engine")
	writeJSON(w, http.StatusOK, h.engine.Snapshot(limit))
}

type tierInfo struct {
	Tier   srirc.Tier   `json:"tier"`
	Advice srirc.Advice `json:"advice"`
}

func (h *HTTPHandler) handleTiers(w http.ResponseWriter, r *http.Request) {
	out := make([]tierInfo, 0, len(srirc.Tiers))
	for _, t := range srirc.Tiers {
		out = append(out, tierInfo{Tier: t, Advice: srirc.Recommendation(t)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := h.engine.Health(r.Context())
	status := http.StatusOK
	if health.Store != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	var ve *normalizer.ValidationError
	var unknown *geo.UnknownRegionError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  "validation failed",
			"fields": ve.Fields,
		})
	case errors.As(err, &unknown):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "patient not found", http.StatusNotFound)
	case errors.Is(err, ErrNoEventLog):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrStorageUnavailable), errors.Is(err, ErrClosed):
		logger.Log.WithError(err).Error("screening request failed")
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	default:
		logger.Log.WithError(err).Error("screening request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func parseLimit(r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	if n > maxTopLimit {
		n = maxTopLimit
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Log.WithError(err).Warn("failed to encode response")
	}
}
