package middleware

import (
	"net/http"
	"slices"
	"strings"
)

// ParseAllowedOrigins はカンマ区切りのオリジン一覧を分解する。
// 末尾のスラッシュは取り除く。
func ParseAllowedOrigins(s string) []string {
	var origins []string
	for _, part := range strings.Split(s, ",") {
		origin := strings.TrimRight(strings.TrimSpace(part), "/")
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

// NewCORSMiddleware は許可されたオリジンからのリクエストにCORSヘッダーを付与する。
// 認証はベアラートークンで行うため、Authorizationヘッダーを許可し、Cookieは送らせない。
// 許可リストに無いオリジンにはヘッダーを付与せず、後続のハンドラにそのまま渡す。
// 許可されたオリジンのOPTIONSプリフライトには204で応答する。
func NewCORSMiddleware(allowedOrigins []string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" || !slices.Contains(allowedOrigins, origin) {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Expose-Headers", "Retry-After, X-Request-ID")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
				h.Set("Access-Control-Max-Age", "86400")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
