package ingestion

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ai4ckd/platform/pkg/common/logger"
	"github.com/gorilla/mux"
)

type HTTPHandler struct {
	service *Service
	maxBody int64
}

func NewHTTPHandler(service *Service, maxBody int64) *HTTPHandler {
	return &HTTPHandler{service: service, maxBody: maxBody}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/imports", h.handleImport).Methods(http.MethodPost)
	router.HandleFunc("/imports/{id}", h.handleStatus).Methods(http.MethodGet)
}

// handleImport takes the raw export as the body. The format comes from the
// format query parameter, else from the content type.
func (h *HTTPHandler) handleImport(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "export too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	req := Request{
		Source: r.URL.Query().Get("source"),
		Format: r.URL.Query().Get("format"),
		Body:   body,
	}
	if req.Format == "" {
		req.Format = formatFromContentType(r.Header.Get("Content-Type"))
	}

	job, err := h.service.Import(r.Context(), req)
	if err != nil {
		if IsValidationError(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Log.WithError(err).Error("failed to import registry export")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	status := http.StatusAccepted
	if job.Status == StatusFailed {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(job)
}

func (h *HTTPHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	job, err := h.service.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "import not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to fetch import status")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

func formatFromContentType(ct string) string {
	ct = strings.ToLower(ct)
	switch {
	case strings.Contains(ct, "csv"):
		return FormatCSV
	case strings.Contains(ct, "json"):
		return FormatJSON
	}
	return ""
}
