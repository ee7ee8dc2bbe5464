// Package identity はホスト型IDサービス（認証・プロフィール）のHTTPクライアントを提供する。
// 特権キーと制限キーのクライアントはそれぞれ明示的に生成して注入する。
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/inkpost/internal/model"
)

// ClientConfig はIDサービスクライアントの設定。
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client // テスト用に差し替え可能
}

// Client はIDサービスのHTTPクライアント。
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient はClientを生成する。
func NewClient(config ClientConfig) *Client {
	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		apiKey:     config.APIKey,
		httpClient: httpClient,
	}
}

// userResponse は /auth/v1/user のレスポンス。
type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// profileRow は profiles テーブルの行。
type profileRow struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GetUser はアクセストークンを主体情報に交換する。
// トークンが無効な場合はUnauthorized、到達できない場合はErrIdentityUnavailableを返す。
func (c *Client) GetUser(ctx context.Context, accessToken string) (*model.Identity, error) {
	if accessToken == "" {
		return nil, model.NewUnauthorizedError()
	}

	var user userResponse
	if err := c.do(ctx, http.MethodGet, "/auth/v1/user", accessToken, &user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, fmt.Errorf("empty user id in identity response")
	}

	return &model.Identity{Subject: user.ID, Email: user.Email}, nil
}

// VerifyToken はGetUserのエイリアス。auth.TokenVerifierを満たす。
func (c *Client) VerifyToken(ctx context.Context, accessToken string) (*model.Identity, error) {
	return c.GetUser(ctx, accessToken)
}

// FetchProfile はクライアントのAPIキーの権限で主体のプロフィールを取得する。
// 見つからない場合はnilを返す。
func (c *Client) FetchProfile(ctx context.Context, subject string) (*model.Profile, error) {
	return c.fetchProfile(ctx, c.apiKey, subject)
}

// FetchProfileWithToken はユーザーのアクセストークンの権限でプロフィールを取得する。
// 行レベルセキュリティにより本人の行のみ参照できる。
func (c *Client) FetchProfileWithToken(ctx context.Context, accessToken, subject string) (*model.Profile, error) {
	return c.fetchProfile(ctx, accessToken, subject)
}

func (c *Client) fetchProfile(ctx context.Context, bearer, subject string) (*model.Profile, error) {
	q := url.Values{
		"id":     {"eq." + subject},
		"select": {"id,display_name,role,is_active,created_at,updated_at"},
	}

	var rows []profileRow
	if err := c.do(ctx, http.MethodGet, "/rest/v1/profiles?"+q.Encode(), bearer, &rows); err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	row := rows[0]
	return &model.Profile{
		ID:          row.ID,
		DisplayName: row.DisplayName,
		Role:        model.Role(row.Role),
		IsActive:    row.IsActive,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}, nil
}

// ResolveRole は主体の実効ロールをプロフィールから都度解決する。
// プロフィールが無い・非アクティブの場合はRoleUserを返す。
func (c *Client) ResolveRole(ctx context.Context, subject string) (model.Role, error) {
	profile, err := c.FetchProfile(ctx, subject)
	if err != nil {
		return model.RoleUser, err
	}
	return model.EffectiveRole(profile), nil
}

// Logout はアクセストークンに紐づくセッションをIDサービス側で失効させる。
// 既に無効なトークンの場合はエラーにしない。
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	err := c.do(ctx, http.MethodPost, "/auth/v1/logout", accessToken, nil)
	if err != nil && model.KindOf(err) == model.KindUnauthorized {
		return nil
	}
	return err
}

// do はIDサービスへリクエストを送り、レスポンスをoutにデコードする。
func (c *Client) do(ctx context.Context, method, path, bearer string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create identity request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrIdentityUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", model.ErrIdentityUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return model.NewUnauthorizedError()
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", model.ErrIdentityUnavailable, resp.StatusCode)
	case resp.StatusCode >= 300:
		return fmt.Errorf("identity request %s %s failed with status %d: %s", method, path, resp.StatusCode, string(body))
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse identity response: %w", err)
	}
	return nil
}
