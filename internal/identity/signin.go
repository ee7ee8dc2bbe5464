package identity

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"golang.org/x/oauth2"

	"github.com/hitoshi/inkpost/internal/model"
)

// SupportedProviders はサインインに使用できる外部プロバイダー。
var SupportedProviders = []string{"github", "google"}

// SignInRedirector はIDサービスのOAuth認可エンドポイントへのリダイレクトURLを組み立てる。
// コード交換はサイト側のコールバックが行うため、ここでは認可URLのみを扱う。
type SignInRedirector struct {
	oauthConfig *oauth2.Config
	redirectTo  string
}

// NewSignInRedirector はSignInRedirectorを生成する。
// identityURLはIDサービスのベースURL、siteURLはサインイン完了後に戻るサイトのURL。
func NewSignInRedirector(identityURL, siteURL string) *SignInRedirector {
	base := strings.TrimRight(identityURL, "/")
	redirectTo := strings.TrimRight(siteURL, "/") + "/auth/callback"

	return &SignInRedirector{
		oauthConfig: &oauth2.Config{
			Endpoint:    oauth2.Endpoint{AuthURL: base + "/auth/v1/authorize"},
			RedirectURL: redirectTo,
		},
		redirectTo: redirectTo,
	}
}

// SignInURL はプロバイダーの認可URLと、PKCEのcode_verifierおよびstateを返す。
// stateは呼び出しごとに新しい乱数を使う。
func (s *SignInRedirector) SignInURL(provider string) (model.SignInStart, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if !slices.Contains(SupportedProviders, provider) {
		return model.SignInStart{}, model.NewBadRequestError("未対応のプロバイダーです。",
			map[string]string{"provider": "github または google を指定してください。"})
	}

	verifier := oauth2.GenerateVerifier()
	state := oauth2.GenerateVerifier()
	raw := s.oauthConfig.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("provider", provider),
		oauth2.SetAuthURLParam("redirect_to", s.redirectTo),
	)

	// IDサービスはクライアントIDを使わないため空のclient_idは送らない
	u, err := url.Parse(raw)
	if err != nil {
		return model.SignInStart{}, fmt.Errorf("failed to build authorize url: %w", err)
	}
	q := u.Query()
	q.Del("client_id")
	u.RawQuery = q.Encode()

	return model.SignInStart{URL: u.String(), Verifier: verifier, State: state}, nil
}
