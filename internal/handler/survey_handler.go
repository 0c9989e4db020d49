package handler

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/minglemood/internal/survey"
)

// SurveyHandler はPreferences SurveyのHTTPハンドラー。
type SurveyHandler struct {
	responder
	service *survey.Service
}

// NewSurveyHandler はSurveyHandlerを生成する。
func NewSurveyHandler(service *survey.Service, supportEmail string, logger *slog.Logger) *SurveyHandler {
	return &SurveyHandler{
		responder: newResponder(supportEmail, logger),
		service:   service,
	}
}

// surveySubmitResponse はアンケート送信のAPIレスポンス。
type surveySubmitResponse struct {
	Session sessionResponse `json:"session"`
}

// Get は入力途中のアンケートを返す。
// GET /api/survey
func (h *SurveyHandler) Get(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mount(w, r)
	if !ok {
		return
	}
	wiz, err := h.service.Current(r.Context(), m)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, survey.NewView(wiz))
}

// Start はアンケートを開始（または再開）する。
// POST /api/survey/start
func (h *SurveyHandler) Start(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mount(w, r)
	if !ok {
		return
	}
	wiz, err := h.service.Start(r.Context(), m)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, survey.NewView(wiz))
}

// Next は次のステップへ進める。
// POST /api/survey/next
func (h *SurveyHandler) Next(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mount(w, r)
	if !ok {
		return
	}
	wiz, err := h.service.Next(r.Context(), m)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, survey.NewView(wiz))
}

// Previous は前のステップへ戻す。
// POST /api/survey/previous
func (h *SurveyHandler) Previous(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mount(w, r)
	if !ok {
		return
	}
	wiz, err := h.service.Previous(r.Context(), m)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, survey.NewView(wiz))
}

// UpdateDraft は1項目分の入力を反映する。
// PATCH /api/survey/draft
func (h *SurveyHandler) UpdateDraft(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mount(w, r)
	if !ok {
		return
	}

	var mut survey.Mutation
	if err := decodeJSON(w, r, &mut); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	wiz, err := h.service.Apply(r.Context(), m, mut)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, survey.NewView(wiz))
}

// Submit は回答一式を送信する。
// POST /api/survey/submit
func (h *SurveyHandler) Submit(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mount(w, r)
	if !ok {
		return
	}
	state, err := h.service.Submit(r.Context(), m)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, surveySubmitResponse{Session: toSessionResponse(state)})
}

// Cancel は入力途中のアンケートを破棄する。
// POST /api/survey/cancel
func (h *SurveyHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mount(w, r)
	if !ok {
		return
	}
	h.service.Cancel(r.Context(), m)
	w.WriteHeader(http.StatusNoContent)
}
