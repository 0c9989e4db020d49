package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/minglemood/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// compile-time interface check
var (
	_ SessionRepository  = (*PostgresSessionRepo)(nil)
	_ SessionMaintenance = (*PostgresSessionRepo)(nil)
)

// Create はセッションを作成する。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.BrowserSession) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, data, expires_at, created_at, updated_at)
		 VALUES ($1, NULLIF($2::text, ''), '{}'::jsonb, $3, $4, $4)`,
		session.ID, session.UserID, session.ExpiresAt, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("セッションの作成に失敗: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.BrowserSession, error) {
	session := &model.BrowserSession{}
	var userID sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, expires_at, created_at
		 FROM sessions
		 WHERE id = $1 AND expires_at > now()`,
		id,
	).Scan(&session.ID, &userID, &session.ExpiresAt, &session.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("セッションの取得に失敗: %w", err)
	}
	session.UserID = userID.String

	return session, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("セッションの削除に失敗: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *PostgresSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("ユーザーのセッション削除に失敗: %w", err)
	}
	return nil
}

// SetUserID はセッションにユーザーIDを記録する。
func (r *PostgresSessionRepo) SetUserID(ctx context.Context, id, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET user_id = NULLIF($2::text, ''), updated_at = now()
		 WHERE id = $1`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("セッションのユーザーID更新に失敗: %w", err)
	}
	return nil
}

// Extend はセッションの有効期限を延長する。
func (r *PostgresSessionRepo) Extend(ctx context.Context, id string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET expires_at = $2, updated_at = now() WHERE id = $1`,
		id, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("セッションの有効期限の延長に失敗: %w", err)
	}
	return nil
}

// LoadData はdataの全キーを返す。
func (r *PostgresSessionRepo) LoadData(ctx context.Context, id string) (map[string]string, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT data FROM sessions WHERE id = $1`,
		id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("セッションデータの取得に失敗: %w", err)
	}
	return decodeData(raw)
}

// SetData はdataのキーに値を保存する。
func (r *PostgresSessionRepo) SetData(ctx context.Context, id, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET data = data || jsonb_build_object($2::text, $3::text), updated_at = now()
		 WHERE id = $1`,
		id, key, value,
	)
	if err != nil {
		return fmt.Errorf("セッションデータの保存に失敗: %w", err)
	}
	return nil
}

// RemoveData はdataから指定したキーを削除する。
func (r *PostgresSessionRepo) RemoveData(ctx context.Context, id string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET data = data - $2::text[], updated_at = now()
		 WHERE id = $1`,
		id, pq.Array(keys),
	)
	if err != nil {
		return fmt.Errorf("セッションデータの削除に失敗: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れのセッションを削除する。
func (r *PostgresSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("期限切れセッションの削除に失敗: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return n, nil
}

// PurgeDataKeys は全セッションのdataから指定したキーを削除する。
// 対象のキーを1つも持たないレコードは更新しない。
func (r *PostgresSessionRepo) PurgeDataKeys(ctx context.Context, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET data = data - $1::text[], updated_at = now()
		 WHERE data ?| $1::text[]`,
		pq.Array(keys),
	)
	if err != nil {
		return 0, fmt.Errorf("セッションデータの一括削除に失敗: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	return n, nil
}

// decodeData はdataカラムのJSONを文字列のマップへ変換する。
// 文字列以外の値はJSONテキストのまま保持する。
func decodeData(raw []byte) (map[string]string, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("セッションデータの解析に失敗: %w", err)
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			s = string(v)
		}
		out[k] = s
	}
	return out, nil
}
