// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/minglemood/internal/identity"
	"github.com/hitoshi/minglemood/internal/middleware"
	"github.com/hitoshi/minglemood/internal/model"
	"github.com/hitoshi/minglemood/internal/session"
)

// maxRequestBody はJSONリクエストボディの上限（1MB）。
const maxRequestBody = 1 << 20

// responder は各ハンドラーが共有するレスポンス出力とエラー変換。
type responder struct {
	supportEmail string
	logger       *slog.Logger
}

func newResponder(supportEmail string, logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{supportEmail: supportEmail, logger: logger}
}

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// decodeJSON はリクエストボディをdstへ読み込む。解析できない場合はINVALID_REQUESTを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return model.NewInvalidRequestError()
	}
	return nil
}

// mount はセッションミドルウェアが用意したMountを返す。
// 見つからない場合は500を書き込んで false を返す。
func (h responder) mount(w http.ResponseWriter, r *http.Request) (*session.Mount, bool) {
	m, ok := middleware.MountFromContext(r.Context())
	if !ok {
		h.logger.Error("リクエストにセッションがありません",
			slog.String("path", r.URL.Path),
		)
		middleware.WriteInternalServerError(w, h.supportEmail)
		return nil, false
	}
	return m, true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// 処理されずに残ったリフレッシュトークン失効はここでサインアウトに変換する。
func (h responder) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if identity.IsRefreshTokenError(err) {
		if m, ok := middleware.MountFromContext(r.Context()); ok {
			m.Sync.HandleBackgroundError(r.Context(), err)
		}
		err = model.NewSessionExpiredError()
	}
	var parseErr *model.MetadataParseError
	if errors.As(err, &parseErr) {
		h.logger.Warn("メタデータの解析に失敗しました",
			slog.String("fields", strings.Join(parseErr.Fields, ",")),
			slog.String("error", parseErr.Error()),
		)
		err = model.NewMetadataParseError(strings.Join(parseErr.Fields, ", "))
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	h.logger.Error("内部エラーが発生しました",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w, h.supportEmail)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized, model.ErrCodeInvalidCredentials, model.ErrCodeSessionExpired:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeInvalidRequest, model.ErrCodeUnknownSurveyField:
		return http.StatusBadRequest
	case model.ErrCodeValidationFailed:
		return http.StatusUnprocessableEntity
	case model.ErrCodeSurveyNotStarted:
		return http.StatusConflict
	case model.ErrCodeEventNotFound, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeBackendRejected:
		return http.StatusBadGateway
	case model.ErrCodeBackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// userResponse はログイン中ユーザーのAPIレスポンス。
type userResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// sessionResponse はセッション状態のAPIレスポンス。
type sessionResponse struct {
	Authenticated   bool          `json:"authenticated"`
	Loading         bool          `json:"loading"`
	User            *userResponse `json:"user,omitempty"`
	IsAdmin         bool          `json:"is_admin"`
	ProfileComplete bool          `json:"profile_complete"`
	ShowThankYou    bool          `json:"show_thank_you"`
	SurveyCompleted bool          `json:"survey_completed"`
}

// toSessionResponse はStoreのスナップショットをレスポンス型に変換する。
func toSessionResponse(state session.State) sessionResponse {
	s := state.Session
	resp := sessionResponse{
		Authenticated:   s.Authenticated(),
		Loading:         state.Loading,
		IsAdmin:         s.IsAdmin,
		ProfileComplete: s.ProfileComplete,
		ShowThankYou:    s.ShowThankYou,
		SurveyCompleted: s.SurveyCompleted,
	}
	if s.User != nil {
		resp.User = &userResponse{ID: s.User.ID, Email: s.User.Email}
		if p := s.User.Metadata.ProfileData; p != nil {
			resp.User.FirstName = p.FirstName
			resp.User.LastName = p.LastName
		}
	}
	return resp
}
