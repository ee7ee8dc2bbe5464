package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/inkpost/internal/model"
)

// SuccessBody は成功レスポンスのエンベロープ。
type SuccessBody struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Message string `json:"message,omitempty"`
}

// ErrorBody はエラーレスポンスのエンベロープ。
type ErrorBody struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// StatusForKind はエラー種別からHTTPステータスを決める。
// ステータスコードを決めるのはこの関数のみ。
func StatusForKind(kind model.ErrorKind) int {
	switch kind {
	case model.KindBadRequest:
		return http.StatusBadRequest
	case model.KindUnauthorized:
		return http.StatusUnauthorized
	case model.KindForbidden:
		return http.StatusForbidden
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case model.KindRateLimited:
		return http.StatusTooManyRequests
	case model.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// WriteSuccess は成功エンベロープを200で書き込む。
func WriteSuccess(w http.ResponseWriter, data any, message string) {
	writeJSON(w, http.StatusOK, SuccessBody{
		Success: true,
		Data:    data,
		Message: message,
	})
}

// WriteError はエラーをエンベロープに変換して書き込む。
// AppError以外のエラーは詳細をログにのみ記録し、一般的な内部エラーとして返す。
// 書き込んだステータスコードを返す。
func WriteError(w http.ResponseWriter, err error) int {
	var appErr *model.AppError
	if !errors.As(err, &appErr) {
		slog.Error("unhandled error",
			slog.String("error", err.Error()),
		)
		appErr = model.NewInternalError()
	}

	status := StatusForKind(appErr.Kind)
	writeJSON(w, status, ErrorBody{
		Success: false,
		Error:   appErr.Code,
		Message: appErr.Message,
		Details: appErr.Fields,
	})
	return status
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response",
			slog.String("error", err.Error()),
		)
	}
}
