// Package handler is the thin HTTP layer over the consolidation engine. It
// validates input shape and translates domain errors; merge logic stays in
// the service.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"weld/internal/domain"
	"weld/internal/platform/middleware"
	dErrors "weld/pkg/domain-errors"
)

// Service defines the interface for identity reconciliation.
type Service interface {
	Identify(ctx context.Context, email, phone string) (domain.ConsolidatedContact, error)
}

// IdentifyRequest is the inbound observation. At least one field is required.
type IdentifyRequest struct {
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
}

// IdentifyResponse is the wire envelope around the consolidated view.
type IdentifyResponse struct {
	Contact domain.ConsolidatedContact `json:"contact"`
}

// Handler handles reconciliation endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
}

// New creates a reconciliation Handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, service: service}
}

// Register registers the reconcile routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	identifyRouter := chi.NewRouter()
	identifyRouter.Use(middleware.Recovery(h.logger))
	identifyRouter.Use(middleware.RequestID)
	identifyRouter.Use(middleware.Logger(h.logger))
	identifyRouter.Use(middleware.Timeout(30 * time.Second))
	identifyRouter.Use(middleware.ContentTypeJSON)
	identifyRouter.Post("/identify", h.handleIdentify)

	r.Mount("/", identifyRouter)
}

func (h *Handler) handleIdentify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req IdentifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid identify request",
			"request_id", requestID,
			"error", err.Error(),
		)
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	if domain.NormalizeEmail(req.Email) == "" && domain.NormalizePhone(req.PhoneNumber) == "" {
		writeError(w, dErrors.New(dErrors.CodeValidation, "at least one of email or phoneNumber is required"))
		return
	}

	view, err := h.service.Identify(ctx, req.Email, req.PhoneNumber)
	if err != nil {
		switch {
		case dErrors.Is(err, dErrors.CodeValidation) || dErrors.Is(err, dErrors.CodeBadRequest):
			h.logger.WarnContext(ctx, "identify rejected",
				"request_id", requestID,
				"error", err.Error(),
			)
			writeError(w, err)
		case dErrors.Is(err, dErrors.CodeUnavailable) || dErrors.Is(err, dErrors.CodeTimeout):
			h.logger.WarnContext(ctx, "identify transient failure",
				"request_id", requestID,
				"error", err.Error(),
			)
			writeError(w, err)
		default:
			h.logger.ErrorContext(ctx, "identify failed",
				"request_id", requestID,
				"error", err.Error(),
			)
			writeError(w, dErrors.New(dErrors.CodeInternal, "identify failed"))
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(IdentifyResponse{Contact: view})
}

// writeError centralizes domain error translation to HTTP responses, keeping
// the JSON error envelope consistent.
func writeError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(dErrors.ToHTTPStatus(code))
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": string(code),
	})
}
