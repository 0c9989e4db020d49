package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hitoshi/minglemood/internal/model"
	"github.com/hitoshi/minglemood/internal/onboarding"
)

// AppHandler は画面決定とオンボーディングのHTTPハンドラー。
type AppHandler struct {
	responder
	service *onboarding.Service
}

// NewAppHandler はAppHandlerを生成する。
func NewAppHandler(service *onboarding.Service, supportEmail string, logger *slog.Logger) *AppHandler {
	return &AppHandler{
		responder: newResponder(supportEmail, logger),
		service:   service,
	}
}

// appStateResponse は画面決定のAPIレスポンス。
type appStateResponse struct {
	View    onboarding.ViewState `json:"view"`
	Session sessionResponse      `json:"session"`
}

// tabRequest はタブ切り替えリクエストのボディ。
type tabRequest struct {
	Tab string `json:"tab"`
}

// State は現在表示する画面を返す。
// GET /api/app/state?survey=true|delete-user=true|test-backend=true
func (h *AppHandler) State(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mount(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	view, err := h.service.Resolve(r.Context(), m, onboarding.Query{
		Survey:      queryFlag(q.Get("survey")),
		DeleteUser:  queryFlag(q.Get("delete-user")),
		TestBackend: queryFlag(q.Get("test-backend")),
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, appStateResponse{View: view, Session: toSessionResponse(m.State())})
}

// SetTab はダッシュボードのタブを切り替える。
// PUT /api/app/tab
func (h *AppHandler) SetTab(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mount(w, r)
	if !ok {
		return
	}

	var req tabRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	view, err := h.service.SetActiveTab(r.Context(), m, req.Tab)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, appStateResponse{View: view, Session: toSessionResponse(m.State())})
}

// CompleteProfile はプロフィールを保存してサンクス画面へ進める。
// POST /api/profile
func (h *AppHandler) CompleteProfile(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mount(w, r)
	if !ok {
		return
	}

	var req model.ProfileData
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	view, err := h.service.CompleteProfile(r.Context(), m, req)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, appStateResponse{View: view, Session: toSessionResponse(m.State())})
}

// ContinueFromThankYou はサンクス画面を閉じる。
// POST /api/thank-you/continue
func (h *AppHandler) ContinueFromThankYou(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mount(w, r)
	if !ok {
		return
	}

	view, err := h.service.ContinueFromThankYou(r.Context(), m)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, appStateResponse{View: view, Session: toSessionResponse(m.State())})
}

// queryFlag はクエリパラメータの真偽値を解釈する。解釈できない値はfalse。
func queryFlag(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
