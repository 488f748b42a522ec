package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/claimguard/internal/assess"
	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/features"
	"github.com/opensource-finance/claimguard/internal/repository"
)

// maxBodyBytes caps claim request bodies.
const maxBodyBytes = 1 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	svc     *assess.Service
	repo    domain.ClaimRepository
	cache   domain.Cache
	bus     domain.EventBus
	version string
}

// NewHandler creates a new API handler.
func NewHandler(svc *assess.Service, repo domain.ClaimRepository, cache domain.Cache, bus domain.EventBus, version string) *Handler {
	return &Handler{
		svc:     svc,
		repo:    repo,
		cache:   cache,
		bus:     bus,
		version: version,
	}
}

// QueuedResponse is returned for claims accepted for async scoring.
type QueuedResponse struct {
	ClaimID string `json:"claimId"`
	Status  string `json:"status"`
	TraceID string `json:"traceId,omitempty"`
}

// SubmitClaim handles POST /claims. With ?async=true the claim is queued
// for the worker instead of being scored inline.
func (h *Handler) SubmitClaim(w http.ResponseWriter, r *http.Request) {
	record, err := readRecord(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		h.enqueueClaim(w, r, record)
		return
	}

	h.submit(w, r, record)
}

// SubmitClaimForm handles POST /claims/form, the dashboard submit.
func (h *Handler) SubmitClaimForm(w http.ResponseWriter, r *http.Request) {
	record, err := readForm(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	h.submit(w, r, record)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, record domain.ClaimRecord) {
	ctx := r.Context()

	claim, assessment, err := h.svc.Submit(ctx, record)
	if err != nil {
		slog.Error("claim submission failed",
			"trace_id", GetTraceID(ctx),
			"error", err,
		)
		writeError(w, err)
		return
	}

	resp := assessment.ToResponse(claim.ID)
	resp.Status = "created"
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) enqueueClaim(w http.ResponseWriter, r *http.Request, record domain.ClaimRecord) {
	ctx := r.Context()
	traceID := GetTraceID(ctx)
	claimID := uuid.New().String()

	if err := h.svc.Enqueue(ctx, claimID, record, traceID); err != nil {
		var encErr *domain.EncodingError
		if errors.As(err, &encErr) {
			writeError(w, err)
			return
		}
		slog.Error("failed to queue claim", "claim_id", claimID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "async scoring not available",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, QueuedResponse{
		ClaimID: claimID,
		Status:  "queued",
		TraceID: traceID,
	})
}

// AnalyzeClaim handles POST /claims/{id}/analyze.
func (h *Handler) AnalyzeClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claimID := chi.URLParam(r, "id")

	_, assessment, err := h.svc.Reanalyze(ctx, claimID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("claim analysis failed", "claim_id", claimID, "error", err)
		}
		writeError(w, err)
		return
	}

	resp := assessment.ToResponse(claimID)
	resp.Status = "updated"
	writeJSON(w, http.StatusOK, resp)
}

// GetClaim handles GET /claims/{id}.
func (h *Handler) GetClaim(w http.ResponseWriter, r *http.Request) {
	claimID := chi.URLParam(r, "id")

	claim, err := h.svc.GetClaim(r.Context(), claimID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get claim", "claim_id", claimID, "error", err)
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, claim)
}

// ListClaims handles GET /claims.
func (h *Handler) ListClaims(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.ClaimFilter{Label: q.Get("label")}

	if filter.Label != "" && !isRiskLabel(filter.Label) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("unknown risk label %q", filter.Label),
		})
		return
	}

	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "offset must be a non-negative integer"})
		return
	}

	claims, err := h.svc.ListClaims(r.Context(), filter)
	if err != nil {
		slog.Error("failed to list claims", "error", err)
		writeError(w, err)
		return
	}
	if claims == nil {
		claims = []*domain.Claim{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"claims": claims,
		"count":  len(claims),
	})
}

// Assess handles POST /assess: score a record without storing it.
// Accepts a JSON record or the dashboard's form encoding.
func (h *Handler) Assess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	record, err := readRecord(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	assessment, err := h.svc.Preview(ctx, record)
	if err != nil {
		slog.Warn("claim assessment failed", "trace_id", GetTraceID(ctx), "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, assessment.ToResponse(""))
}

// DashboardStats handles GET /dashboard/stats.
func (h *Handler) DashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		slog.Error("failed to compute dashboard stats", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// SchemaFeature describes one slot of the feature vector.
type SchemaFeature struct {
	Index   int           `json:"index"`
	Name    string        `json:"name"`
	Kind    features.Kind `json:"kind"`
	Aliases []string      `json:"aliases,omitempty"`
}

// Schema handles GET /schema.
func (h *Handler) Schema(w http.ResponseWriter, r *http.Request) {
	schema := h.svc.Assessor().Schema()
	out := make([]SchemaFeature, len(schema))
	for i, slot := range schema {
		out[i] = SchemaFeature{
			Index:   i,
			Name:    slot.Name,
			Kind:    slot.Kind,
			Aliases: slot.Aliases,
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":  features.SchemaVersion,
		"features": out,
	})
}

// AlertPolicyRequest is the request body for PUT /alert/policy.
type AlertPolicyRequest struct {
	Expression string `json:"expression"`
}

// GetAlertPolicy handles GET /alert/policy.
func (h *Handler) GetAlertPolicy(w http.ResponseWriter, r *http.Request) {
	policy := h.svc.Policy()
	if policy == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "alert policy not configured",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"expression": policy.Expression(),
	})
}

// UpdateAlertPolicy handles PUT /alert/policy. The new expression replaces
// the old one only if it compiles.
func (h *Handler) UpdateAlertPolicy(w http.ResponseWriter, r *http.Request) {
	policy := h.svc.Policy()
	if policy == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "alert policy not configured",
		})
		return
	}

	var req AlertPolicyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if strings.TrimSpace(req.Expression) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "expression is required",
		})
		return
	}

	if err := policy.Reload(req.Expression); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	slog.Info("alert policy updated", "expression", req.Expression)
	writeJSON(w, http.StatusOK, map[string]string{
		"expression": policy.Expression(),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(ctx); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(ctx); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic. The model and
// frequency table are loaded before the server starts, so readiness only
// depends on the claim store.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
				"error": "claim store unavailable",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// readRecord decodes a claim record from a JSON or form-encoded body.
func readRecord(w http.ResponseWriter, r *http.Request) (domain.ClaimRecord, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		return readForm(w, r)
	}

	var record domain.ClaimRecord
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&record); err != nil {
		return nil, fmt.Errorf("invalid JSON request body")
	}
	if len(record) == 0 {
		return nil, fmt.Errorf("claim record is empty")
	}
	return record, nil
}

// readForm builds a record from form fields. Repeated fields keep their
// first value.
func readForm(w http.ResponseWriter, r *http.Request) (domain.ClaimRecord, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		err = r.ParseMultipartForm(maxBodyBytes)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		return nil, fmt.Errorf("invalid form body")
	}

	record := make(domain.ClaimRecord, len(r.PostForm))
	for key, values := range r.PostForm {
		if len(values) > 0 {
			record[key] = values[0]
		}
	}
	if len(record) == 0 {
		return nil, fmt.Errorf("claim record is empty")
	}
	return record, nil
}

// writeError maps pipeline and storage errors to HTTP responses.
func writeError(w http.ResponseWriter, err error) {
	var encErr *domain.EncodingError
	switch {
	case errors.As(err, &encErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": encErr.Error(),
			"field": encErr.Field,
		})
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "claim not found",
		})
	case errors.Is(err, repository.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	case errors.Is(err, domain.ErrSchemaViolation):
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "feature schema does not match the model",
		})
	case errors.Is(err, domain.ErrScoring):
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "claim could not be scored",
		})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
	}
}

func isRiskLabel(label string) bool {
	for _, l := range domain.RiskLabels {
		if l == label {
			return true
		}
	}
	return false
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
