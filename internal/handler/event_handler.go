package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/minglemood/internal/functions"
	"github.com/hitoshi/minglemood/internal/model"
)

// maxGuests は1回の参加登録で同伴できる人数の上限。
const maxGuests = 3

// EventBackend はイベント一覧と参加登録の取得元。*functions.Client が実装する。
type EventBackend interface {
	Events(ctx context.Context, accessToken string) ([]functions.Event, error)
	RSVP(ctx context.Context, accessToken string, req functions.RSVPRequest) (*functions.RSVPResult, error)
}

var _ EventBackend = (*functions.Client)(nil)

// EventHandler は会員向けイベントのHTTPハンドラー。
type EventHandler struct {
	responder
	backend EventBackend
}

// NewEventHandler はEventHandlerを生成する。
func NewEventHandler(backend EventBackend, supportEmail string, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		responder: newResponder(supportEmail, logger),
		backend:   backend,
	}
}

// rsvpRequest は参加登録リクエストのボディ。
type rsvpRequest struct {
	Guests int `json:"guests"`
}

// ListEvents はイベント一覧を返す。
// GET /api/events
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mount(w, r)
	if !ok {
		return
	}
	token, err := m.AccessToken(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	events, err := h.backend.Events(r.Context(), token)
	if err != nil {
		h.handleServiceError(w, r, functions.ToAPIError(err))
		return
	}
	if events == nil {
		events = []functions.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// RSVP はイベントへの参加を登録する。
// POST /api/events/{id}/rsvp
func (h *EventHandler) RSVP(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mount(w, r)
	if !ok {
		return
	}
	user := m.State().Session.User
	if user == nil {
		h.handleServiceError(w, r, model.NewUnauthorizedError())
		return
	}

	eventID := chi.URLParam(r, "id")
	var req rsvpRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			h.handleServiceError(w, r, err)
			return
		}
	}
	if req.Guests < 0 || req.Guests > maxGuests {
		h.handleServiceError(w, r, model.NewValidationError(map[string]string{
			"guests": "同伴者は3人まで登録できます",
		}))
		return
	}

	token, err := m.AccessToken(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	result, err := h.backend.RSVP(r.Context(), token, functions.RSVPRequest{
		EventID: eventID,
		UserID:  user.ID,
		Email:   user.Email,
		Guests:  req.Guests,
	})
	if err != nil {
		var callErr *functions.CallError
		if errors.As(err, &callErr) && callErr.Status == http.StatusNotFound {
			h.handleServiceError(w, r, model.NewEventNotFoundError(eventID))
			return
		}
		h.handleServiceError(w, r, functions.ToAPIError(err))
		return
	}

	h.logger.Info("イベントの参加登録が完了しました",
		slog.String("event_id", eventID),
		slog.String("user_id", user.ID),
		slog.String("status", result.Status),
	)
	writeJSON(w, http.StatusOK, result)
}
