package identity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/inkpost/internal/model"
)

// TokenStore はクライアント側でアクセストークンを永続化する。
type TokenStore interface {
	Load() (string, error)
	Save(token string) error
	Clear() error
}

// FileTokenStore はアクセストークンをファイルに保存する。
type FileTokenStore struct {
	path string
}

// NewFileTokenStore はFileTokenStoreを生成する。
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

// Load は保存済みのトークンを返す。未保存の場合は空文字を返す。
func (s *FileTokenStore) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Save はトークンを所有者のみ読み書き可能なファイルに保存する。
func (s *FileTokenStore) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// Clear はトークンファイルを削除する。
func (s *FileTokenStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}
	return nil
}

// TokenSession は保存済みトークンと制限キーのIDクライアントからセッションを提供する。
// session.Managerの IdentityClient と RoleLookup を実装する。
type TokenSession struct {
	client *Client
	store  TokenStore

	mu        sync.Mutex
	nextID    int
	listeners map[int]func(*model.Session)
}

// NewTokenSession はTokenSessionを生成する。
func NewTokenSession(client *Client, store TokenStore) *TokenSession {
	return &TokenSession{
		client:    client,
		store:     store,
		listeners: make(map[int]func(*model.Session)),
	}
}

// GetSession は保存済みトークンのセッションを返す。
// トークンが無い・無効・期限切れの場合はnilを返す。
// IDサービスに到達できない場合はErrIdentityUnavailableをラップしたエラーを返す。
func (s *TokenSession) GetSession(ctx context.Context) (*model.Session, error) {
	token, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, nil
	}
	return s.sessionFor(ctx, token)
}

func (s *TokenSession) sessionFor(ctx context.Context, token string) (*model.Session, error) {
	ident, err := s.client.GetUser(ctx, token)
	if err != nil {
		if model.KindOf(err) == model.KindUnauthorized {
			// 失効済みのトークンは破棄する
			if clearErr := s.store.Clear(); clearErr != nil {
				return nil, clearErr
			}
			return nil, nil
		}
		return nil, err
	}

	session := &model.Session{
		AccessToken: token,
		Subject:     ident.Subject,
		Email:       ident.Email,
		ExpiresAt:   tokenExpiry(token),
	}
	if session.Expired(time.Now()) {
		return nil, nil
	}
	return session, nil
}

// SetToken はトークンを検証して保存し、サインイン通知を発行する。
func (s *TokenSession) SetToken(ctx context.Context, token string) (*model.Session, error) {
	token = strings.TrimSpace(token)
	session, err := s.sessionFor(ctx, token)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, model.NewUnauthorizedError()
	}
	if err := s.store.Save(token); err != nil {
		return nil, err
	}

	s.emit(session)
	return session, nil
}

// OnAuthStateChange はセッション変更通知を購読する。
// サインアウト時はnilで通知される。戻り値の関数で購読を解除する。
func (s *TokenSession) OnAuthStateChange(fn func(*model.Session)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// SignOut はIDサービス側のセッションを失効させ、保存済みトークンを削除する。
// IDサービスへの失効要求に失敗してもローカルのトークンは削除する。
func (s *TokenSession) SignOut(ctx context.Context) error {
	token, err := s.store.Load()
	if err != nil {
		return err
	}

	var logoutErr error
	if token != "" {
		logoutErr = s.client.Logout(ctx, token)
	}
	if err := s.store.Clear(); err != nil {
		return err
	}

	s.emit(nil)
	return logoutErr
}

// ResolveRole は本人のトークンの権限でプロフィールを参照し、実効ロールを返す。
func (s *TokenSession) ResolveRole(ctx context.Context, subject string) (model.Role, error) {
	token, err := s.store.Load()
	if err != nil {
		return model.RoleUser, err
	}
	profile, err := s.client.FetchProfileWithToken(ctx, token, subject)
	if err != nil {
		return model.RoleUser, err
	}
	return model.EffectiveRole(profile), nil
}

func (s *TokenSession) emit(session *model.Session) {
	s.mu.Lock()
	fns := make([]func(*model.Session), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(session)
	}
}

// tokenExpiry はトークンのexpクレームを署名検証なしで読み取る。
// 署名の検証はIDサービスが行うため、ここでは表示と期限判定にのみ使う。
func tokenExpiry(token string) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
