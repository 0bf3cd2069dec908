package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sm-moshi/aimemory-sub003/internal/bankservice"
	"github.com/sm-moshi/aimemory-sub003/internal/fileops"
	"github.com/sm-moshi/aimemory-sub003/internal/models"
)

// Handler holds API route handlers.
type Handler struct {
	svc *bankservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *bankservice.Service) *Handler {
	return &Handler{svc: svc}
}

// docPath extracts the document path from the URL (everything after /documents/).
// Supports encoded slashes from OpenAPI clients (e.g. core%2Fbrief.md).
func docPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func statusFor(err error) int {
	switch fileops.CodeOf(err) {
	case fileops.CodeFileNotFound:
		return http.StatusNotFound
	case fileops.CodePathValidation:
		return http.StatusBadRequest
	case fileops.CodePermission:
		return http.StatusForbidden
	case fileops.CodeBuildInProgress:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ListDocuments handles GET /api/documents.
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	entries := h.svc.ListDocuments()
	writeJSON(w, http.StatusOK, DocumentListResponse{
		Documents: entries,
		Total:     len(entries),
	})
}

// GetDocument handles GET /api/documents/*.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	path := docPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	content, err := h.svc.ReadDocument(r.Context(), path)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			slog.Error("get document failed", slog.String("path", path), slog.String("error", err.Error()))
			writeJSON(w, status, errorBody("internal error"))
		} else {
			writeJSON(w, status, errorBody(err.Error()))
		}
		return
	}

	resp := DocumentResponse{Path: path, Content: string(content)}
	if entry, err := h.svc.GetEntryMetadata(path); err == nil {
		resp.Metadata = &entry
	}
	writeJSON(w, http.StatusOK, resp)
}

// PutDocument handles PUT /api/documents/*. It creates or replaces the
// document and returns the refreshed index entry.
func (h *Handler) PutDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	path := docPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}

	var req WriteDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("content is required"))
		return
	}

	if err := h.svc.WriteDocument(r.Context(), path, []byte(req.Content)); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			slog.Error("put document failed", slog.String("path", path), slog.String("error", err.Error()))
			writeJSON(w, status, errorBody("internal error"))
		} else {
			writeJSON(w, status, errorBody(err.Error()))
		}
		return
	}

	resp := DocumentResponse{Path: path, Content: req.Content}
	if entry, err := h.svc.GetEntryMetadata(path); err == nil {
		resp.Metadata = &entry
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteDocument handles DELETE /api/documents/*.
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	path := docPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.svc.DeleteDocument(r.Context(), path); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			slog.Error("delete document failed", slog.String("path", path), slog.String("error", err.Error()))
			writeJSON(w, status, errorBody("internal error"))
		} else {
			writeJSON(w, status, errorBody(err.Error()))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /api/search. All parameters are optional; an empty
// query returns the whole index sorted and paginated.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	opts, err := searchOptionsFromQuery(r.URL.Query())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Search(opts))
}

func searchOptionsFromQuery(q url.Values) (models.SearchOptions, error) {
	opts := models.SearchOptions{
		Query:     q.Get("q"),
		SortBy:    q.Get("sort"),
		SortOrder: q.Get("order"),
	}
	opts.Offset, _ = strconv.Atoi(q.Get("offset"))
	opts.Limit, _ = strconv.Atoi(q.Get("limit"))

	filter := &models.MetadataFilter{
		Type: q.Get("type"),
	}
	empty := filter.Type == ""
	if tags := q.Get("tags"); tags != "" {
		for _, tag := range strings.Split(tags, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				filter.Tags = append(filter.Tags, tag)
			}
		}
		empty = empty && len(filter.Tags) == 0
	}
	if vs := q.Get("validation"); vs != "" {
		status := models.ValidationStatus(vs)
		switch status {
		case models.ValidationValid, models.ValidationInvalid,
			models.ValidationUnchecked, models.ValidationSchemaNotFound:
		default:
			return opts, errors.New("unknown validation status: " + vs)
		}
		filter.ValidationStatus = &status
		empty = false
	}
	if !empty {
		opts.Filter = filter
	}
	return opts, nil
}

// Stats handles GET /api/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatsResponse{
		Index: h.svc.GetIndexStats(r.Context()),
		Cache: h.svc.CacheStats(),
	})
}

// Health handles GET /api/health. Unhealthy banks answer 503 so load
// balancers can act on the status code alone.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.svc.CheckHealth(r.Context())
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// Rebuild handles POST /api/rebuild. A concurrent rebuild answers 409.
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	result, err := h.svc.RebuildIndex(r.Context(), force)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			slog.Error("rebuild failed", slog.String("error", err.Error()))
			writeJSON(w, status, errorBody("internal error"))
		} else {
			writeJSON(w, status, errorBody(err.Error()))
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}
