// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind はアプリケーションエラーの種別を表す。
// HTTPステータスへの変換はmiddleware.StatusForKindのみが行う。
type ErrorKind int

const (
	// KindInternal は想定外の障害（データストア障害等）。
	KindInternal ErrorKind = iota
	// KindBadRequest はスキーマ検証失敗・不正なバッチ入力。
	KindBadRequest
	// KindUnauthorized はベアラートークンの欠落・無効。
	KindUnauthorized
	// KindForbidden は有効なIDだが権限不足または非アクティブなプロフィール。
	KindForbidden
	// KindNotFound は対象エンティティが存在しない。
	KindNotFound
	// KindMethodNotAllowed は許可されていないHTTPメソッド。
	KindMethodNotAllowed
	// KindRateLimited はレート制限の上限超過。
	KindRateLimited
)

// String はエラー種別のログ用表記を返す。
func (k ErrorKind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindMethodNotAllowed:
		return "method_not_allowed"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// ErrIdentityUnavailable はIDサービスへの到達失敗（ネットワーク系・5xx）を表す。
// セッション復元のリトライ対象はこのエラーのみ。
var ErrIdentityUnavailable = errors.New("identity service unavailable")

// AppError は統一エラーフォーマットを表す。
type AppError struct {
	Kind    ErrorKind
	Code    string            // エラーコード
	Message string            // ユーザー向けメッセージ
	Fields  map[string]string // フィールド単位の検証メッセージ（BadRequestのみ）
}

// Error はerrorインターフェースを実装する。
func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// KindOf はerrから種別を取り出す。AppError以外はKindInternalとして扱う。
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// 定義済みエラーコード
const (
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeCommentNotFound  = "COMMENT_NOT_FOUND"
	ErrCodeArticleNotFound  = "ARTICLE_NOT_FOUND"
)

// NewBadRequestError は入力検証エラーを生成する。
// fieldsにはフィールド名とメッセージの組を渡す（nil可）。
func NewBadRequestError(message string, fields map[string]string) *AppError {
	return &AppError{
		Kind:    KindBadRequest,
		Code:    ErrCodeBadRequest,
		Message: message,
		Fields:  fields,
	}
}

// NewUnauthorizedError は認証エラーを生成する。
func NewUnauthorizedError() *AppError {
	return &AppError{
		Kind:    KindUnauthorized,
		Code:    ErrCodeUnauthorized,
		Message: "認証が必要です。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *AppError {
	return &AppError{
		Kind:    KindForbidden,
		Code:    ErrCodeForbidden,
		Message: "この操作を行う権限がありません。",
	}
}

// NewMethodNotAllowedError は許可されていないメソッドのエラーを生成する。
func NewMethodNotAllowedError(method string) *AppError {
	return &AppError{
		Kind:    KindMethodNotAllowed,
		Code:    ErrCodeMethodNotAllowed,
		Message: fmt.Sprintf("メソッド %s は許可されていません。", method),
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *AppError {
	return &AppError{
		Kind:    KindRateLimited,
		Code:    ErrCodeRateLimited,
		Message: "リクエストが多すぎます。しばらく待ってから再度お試しください。",
	}
}

// NewCommentNotFoundError はコメント未検出エラーを生成する。
func NewCommentNotFoundError(commentID string) *AppError {
	return &AppError{
		Kind:    KindNotFound,
		Code:    ErrCodeCommentNotFound,
		Message: fmt.Sprintf("指定されたコメントが見つかりません: %s", commentID),
	}
}

// NewArticleNotFoundError は記事未検出エラーを生成する。
// 未公開の記事も存在しないものとして扱う。
func NewArticleNotFoundError(articleID string) *AppError {
	return &AppError{
		Kind:    KindNotFound,
		Code:    ErrCodeArticleNotFound,
		Message: fmt.Sprintf("指定された記事が見つかりません: %s", articleID),
	}
}

// NewNotFoundError は汎用の未検出エラーを生成する。
func NewNotFoundError() *AppError {
	return &AppError{
		Kind:    KindNotFound,
		Code:    ErrCodeNotFound,
		Message: "リソースが見つかりません。",
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func NewInternalError() *AppError {
	return &AppError{
		Kind:    KindInternal,
		Code:    ErrCodeInternal,
		Message: "内部エラーが発生しました。",
	}
}
