// Package middleware はHTTPミドルウェアとリクエストパイプラインを提供する。
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/hitoshi/inkpost/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	callerContextKey    = contextKey("caller")
	requestIDContextKey = contextKey("request_id")
	logFieldsContextKey = contextKey("log_fields")
)

// CallerFromContext はリクエストコンテキストから認可済みの呼び出し元を取得する。
// 認可を要求しないルートではnilを返す。
func CallerFromContext(ctx context.Context) *model.Caller {
	caller, _ := ctx.Value(callerContextKey).(*model.Caller)
	return caller
}

// ContextWithCaller はコンテキストに呼び出し元を注入する。
func ContextWithCaller(ctx context.Context, caller *model.Caller) context.Context {
	if fields := logFieldsFromContext(ctx); fields != nil && caller != nil {
		fields.subject = caller.Subject
	}
	return context.WithValue(ctx, callerContextKey, caller)
}

// RequestIDFromContext はリクエストIDを取得する。
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}

// BearerToken はAuthorizationヘッダーからベアラートークンを取り出す。
// ヘッダーが無い・形式が異なる場合は空文字を返す。
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// logFields はロギングミドルウェアより内側で判明する属性を受け渡す。
type logFields struct {
	subject string
}

func logFieldsFromContext(ctx context.Context) *logFields {
	fields, _ := ctx.Value(logFieldsContextKey).(*logFields)
	return fields
}
