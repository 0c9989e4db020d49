package functions

import "github.com/hitoshi/minglemood/internal/model"

// AdminStats は管理ダッシュボードの集計値。
type AdminStats struct {
	TotalUsers       int `json:"total_users"`
	ActiveMembers    int `json:"active_members"`
	PendingProfiles  int `json:"pending_profiles"`
	SurveysCompleted int `json:"surveys_completed"`
	UpcomingEvents   int `json:"upcoming_events"`
	EmailsSent       int `json:"emails_sent"`
}

// Member は管理画面に表示する会員。
type Member struct {
	ID              string `json:"id"`
	Email           string `json:"email"`
	Name            string `json:"name,omitempty"`
	ProfileComplete bool   `json:"profile_complete"`
	SurveyCompleted bool   `json:"survey_completed"`
	CreatedAt       string `json:"created_at,omitempty"`
}

// Event は会員向けイベント。
type Event struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Date        string  `json:"date"`
	Location    string  `json:"location,omitempty"`
	Capacity    int     `json:"capacity,omitempty"`
	Attendees   int     `json:"attendees"`
	Price       float64 `json:"price,omitempty"`
}

// EmailLog はメール送信履歴の1件。
type EmailLog struct {
	ID        string `json:"id"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Template  string `json:"template,omitempty"`
	Status    string `json:"status"`
	SentAt    string `json:"sent_at"`
}

// RSVPRequest はイベント参加登録のリクエスト。
type RSVPRequest struct {
	EventID string `json:"event_id"`
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	Guests  int    `json:"guests,omitempty"`
}

// RSVPResult はイベント参加登録の結果。
type RSVPResult struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
	Message string `json:"message,omitempty"`
}

// SignupNotification は新規登録時に送る通知。ウェルカムメールの起点になる。
type SignupNotification struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// ProfileCompletedNotification はプロフィール入力完了時に送る通知。
type ProfileCompletedNotification struct {
	UserID  string            `json:"user_id"`
	Email   string            `json:"email"`
	Profile model.ProfileData `json:"profile"`
}

// SurveyCompletedNotification はアンケート送信時に送る通知。
type SurveyCompletedNotification struct {
	UserID string           `json:"user_id"`
	Email  string           `json:"email"`
	Survey model.SurveyData `json:"survey"`
}

// DeleteUserRequest は会員削除ツールのリクエスト。
type DeleteUserRequest struct {
	Email string `json:"email"`
}

// DeleteUserResult は会員削除の結果。
type DeleteUserResult struct {
	UserID  string `json:"user_id,omitempty"`
	Deleted bool   `json:"deleted"`
	Message string `json:"message,omitempty"`
}
