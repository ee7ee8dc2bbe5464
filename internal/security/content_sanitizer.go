// Package security はアプリケーションのセキュリティ機能を提供する。
//
// CommentSanitizer は読者が投稿したコメントを保存前にサニタイズする。
// bluemondayの許可リストベースのポリシーで、安全なタグと属性のみを通過させる。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizer はコメント投稿のサニタイズ機能のインターフェース。
type ContentSanitizer interface {
	// SanitizeBody はコメント本文をサニタイズする。
	// 許可タグ（p, br, a, strong, em, code, blockquote）のみを通過させる。
	// aタグにはrel="nofollow noreferrer noopener"が付与される。
	SanitizeBody(raw string) string

	// SanitizePlain は全てのタグを除去したプレーンテキストを返す。
	// 投稿者名など、HTMLを含めない項目に使用する。
	SanitizePlain(raw string) string
}

// CommentSanitizer はContentSanitizerの実装。
// bluemondayのポリシーはスレッドセーフなので共有して使用する。
type CommentSanitizer struct {
	body  *bluemonday.Policy
	plain *bluemonday.Policy
}

// NewCommentSanitizer はCommentSanitizerを生成する。
func NewCommentSanitizer() *CommentSanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "strong", "em", "code", "blockquote")

	// 外部リンクのみ許可し、検索エンジンの評価を渡さない
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("https", "http")
	p.AllowRelativeURLs(false)
	p.RequireNoFollowOnLinks(true)
	p.RequireNoReferrerOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)

	return &CommentSanitizer{
		body:  p,
		plain: bluemonday.StrictPolicy(),
	}
}

// SanitizeBody はコメント本文をサニタイズする。前後の空白は除去する。
func (s *CommentSanitizer) SanitizeBody(raw string) string {
	return strings.TrimSpace(s.body.Sanitize(raw))
}

// SanitizePlain は全てのタグを除去する。
// StrictPolicyがエスケープした文字は元に戻し、表示側のエスケープに任せる。
func (s *CommentSanitizer) SanitizePlain(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.plain.Sanitize(raw)))
}

var _ ContentSanitizer = (*CommentSanitizer)(nil)
