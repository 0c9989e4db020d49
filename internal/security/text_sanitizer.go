// Package security は会員が入力した値を扱うためのセキュリティ機能を提供する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は自由記述のテキストからHTMLを取り除く。
// プロフィールの自己紹介やアンケートの自由記述をIdPへ保存する前に使用する。
type TextSanitizer interface {
	// Sanitize はタグをすべて除去したプレーンテキストを返す。
	// エンティティは元の文字に戻し、前後の空白は取り除く。
	// 同一入力に対して常に同一出力を返す。
	Sanitize(text string) string
}

// textSanitizer はbluemondayのStrictPolicyによるTextSanitizerの実装。
// ポリシーはスレッドセーフに共有できる。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグをすべて除去したプレーンテキストを返す。
func (s *textSanitizer) Sanitize(text string) string {
	if text == "" {
		return ""
	}
	// StrictPolicyは残したテキストをエスケープするため、保存用に1回だけ戻す
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(text)))
}
