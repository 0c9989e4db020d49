package handler

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/minglemood/internal/admin"
	"github.com/hitoshi/minglemood/internal/member"
)

// AdminHandler は管理ダッシュボードと診断ツールのHTTPハンドラー。
// ルーターでRequireAdminの内側に置く。
type AdminHandler struct {
	responder
	loader  *admin.Loader
	members *member.Service
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(loader *admin.Loader, members *member.Service, supportEmail string, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		responder: newResponder(supportEmail, logger),
		loader:    loader,
		members:   members,
	}
}

// deleteUserRequest は会員削除リクエストのボディ。
type deleteUserRequest struct {
	Email string `json:"email"`
}

// Dashboard は管理ダッシュボードのデータを返す。
// 一部の取得元が失敗しても200で返し、失敗はerrorsに含める。
// GET /api/admin/dashboard
func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mount(w, r)
	if !ok {
		return
	}
	token, err := m.AccessToken(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.loader.Load(r.Context(), token))
}

// BackendTest はIdPとFunctionの接続を確認する。
// GET /api/diagnostics/backend
func (h *AdminHandler) BackendTest(w http.ResponseWriter, r *http.Request) {
	report := h.members.BackendTest(r.Context())
	status := http.StatusOK
	if !report.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// DeleteUser はメールアドレスで指定した会員を削除する。
// POST /api/diagnostics/delete-user
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mount(w, r)
	if !ok {
		return
	}

	var req deleteUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	token, err := m.AccessToken(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	result, err := h.members.DeleteUser(r.Context(), token, req.Email)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
