package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/hitoshi/inkpost/internal/middleware"
	"github.com/hitoshi/inkpost/internal/model"
)

// コールバックまで値を保持するCookie名。
const (
	pkceVerifierCookie = "inkpost_pkce_verifier"
	oauthStateCookie   = "inkpost_oauth_state"
)

// SignInURLBuilder はサインインのリダイレクトURLを組み立てるインターフェース。
type SignInURLBuilder interface {
	SignInURL(provider string) (model.SignInStart, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain string
	CookieSecure bool
}

// AuthHandler はサインイン関連のHTTPハンドラー。
type AuthHandler struct {
	signIn SignInURLBuilder
	config AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(signIn SignInURLBuilder, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		signIn: signIn,
		config: config,
	}
}

// signInRequest は POST /auth/signin のボディ。
type signInRequest struct {
	Provider string `json:"provider"`
}

// Validate はmiddleware.Validatorを実装する。
func (b signInRequest) Validate() map[string]string {
	if strings.TrimSpace(b.Provider) == "" {
		return map[string]string{"provider": "プロバイダーを指定してください。"}
	}
	return nil
}

// signInResponse はサインイン開始のレスポンス。
type signInResponse struct {
	URL string `json:"url"`
}

// meResponse は GET /auth/me のレスポンス。
type meResponse struct {
	Subject string     `json:"subject"`
	Email   string     `json:"email"`
	Role    model.Role `json:"role"`
}

// SignIn は POST /auth/signin を処理する。
// プロバイダーの認可URLを返し、code_verifierとstateはHTTP Only Cookieに保存する。
func (h *AuthHandler) SignIn(ctx context.Context, req *middleware.Request) (middleware.Result, error) {
	body, _ := middleware.BodyAs[signInRequest](req)

	start, err := h.signIn.SignInURL(body.Provider)
	if err != nil {
		return middleware.Result{}, err
	}

	return middleware.Result{
		Data: signInResponse{URL: start.URL},
		Cookies: []*http.Cookie{
			h.callbackCookie(pkceVerifierCookie, start.Verifier),
			h.callbackCookie(oauthStateCookie, start.State),
		},
	}, nil
}

func (h *AuthHandler) callbackCookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/auth",
		Domain:   h.config.CookieDomain,
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Me は GET /auth/me を処理する。
func (h *AuthHandler) Me(ctx context.Context, req *middleware.Request) (middleware.Result, error) {
	if req.Caller == nil {
		return middleware.Result{}, model.NewUnauthorizedError()
	}
	return middleware.Result{Data: meResponse{
		Subject: req.Caller.Subject,
		Email:   req.Caller.Email,
		Role:    req.Caller.Role,
	}}, nil
}
