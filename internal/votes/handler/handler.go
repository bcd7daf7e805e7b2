package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"provote/internal/votes/service"
	id "provote/pkg/domain"
	dErrors "provote/pkg/domain-errors"
	"provote/pkg/platform/httputil"
	"provote/pkg/requestcontext"
)

// Service defines the casting operation the handler needs.
type Service interface {
	Cast(ctx context.Context, req service.CastRequest) (*service.CastResponse, error)
}

// Handler wires the voting endpoint to the casting service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the voting endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/votes/cast", h.HandleCast)
}

// CastRequest is the JSON body of POST /votes/cast.
type CastRequest struct {
	PollID   string `json:"poll_id"`
	OptionID string `json:"option_id"`
}

// CastResponse is returned for both fresh votes (201) and resolved replays
// (200).
type CastResponse struct {
	VoteID    string    `json:"vote_id"`
	PollID    string    `json:"poll_id"`
	OptionID  string    `json:"option_id"`
	Duplicate bool      `json:"duplicate"`
	CreatedAt time.Time `json:"created_at"`
}

// HandleCast handles POST /votes/cast requests.
func (h *Handler) HandleCast(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, err := httputil.Decode[CastRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	pollID, err := id.ParsePollID(req.PollID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	optionID, err := id.ParseOptionID(req.OptionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.service.Cast(ctx, service.CastRequest{PollID: pollID, OptionID: optionID})
	if err != nil {
		if code := dErrors.CodeOf(err); code == dErrors.CodeInternal || code == dErrors.CodeTransientStorage {
			h.logger.ErrorContext(ctx, "cast vote failed",
				"request_id", requestID,
				"poll_id", req.PollID,
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "cast vote handled",
		"request_id", requestID,
		"poll_id", req.PollID,
		"duplicate", !result.Created,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	status := http.StatusCreated
	if !result.Created {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, CastResponse{
		VoteID:    result.Vote.ID.String(),
		PollID:    result.Vote.PollID.String(),
		OptionID:  result.Vote.OptionID.String(),
		Duplicate: !result.Created,
		CreatedAt: result.Vote.CreatedAt,
	})
}
