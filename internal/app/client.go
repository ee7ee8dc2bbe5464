package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hitoshi/inkpost/internal/config"
	"github.com/hitoshi/inkpost/internal/identity"
	"github.com/hitoshi/inkpost/internal/session"
)

// whoamiOutput は whoami の出力。
type whoamiOutput struct {
	State     string    `json:"state"`
	Subject   string    `json:"subject,omitempty"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// runClient はセッション操作のサブコマンドを実行する。
// 制限キーのクライアントのみを使用し、特権キーは必要としない。
func runClient(ctx context.Context, w io.Writer, cfg *config.Config, cmd Command, args []string) error {
	client := identity.NewClient(identity.ClientConfig{
		BaseURL: cfg.IdentityURL,
		APIKey:  cfg.IdentityAnonKey,
		Timeout: cfg.IdentityTimeout,
	})
	tokens := identity.NewTokenSession(client, identity.NewFileTokenStore(cfg.SessionFile))

	switch cmd {
	case CommandLogin:
		return runLogin(ctx, w, tokens, args)
	case CommandWhoami:
		return runWhoami(ctx, w, tokens, cfg)
	case CommandLogout:
		return runLogout(ctx, w, tokens, cfg)
	default:
		return fmt.Errorf("unsupported client command: %s", cmd)
	}
}

// runLogin はアクセストークンを検証してセッションファイルに保存する。
func runLogin(ctx context.Context, w io.Writer, tokens *identity.TokenSession, args []string) error {
	if len(args) == 0 || args[0] == "" {
		return errors.New("usage: inkpost login <access-token>")
	}

	s, err := tokens.SetToken(ctx, args[0])
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	fmt.Fprintf(w, "signed in as %s\n", s.Email)
	return nil
}

// runWhoami はセッションを復元し、確定した状態を出力する。
func runWhoami(ctx context.Context, w io.Writer, tokens *identity.TokenSession, cfg *config.Config) error {
	m := newSessionManager(tokens, cfg, nil)
	defer m.Dispose()

	view, err := startAndSettle(ctx, m, cfg.SessionHardTimeout)
	if err != nil {
		return err
	}

	out := whoamiOutput{State: view.State.String()}
	if view.Session != nil {
		out.Subject = view.Session.Subject
		out.Email = view.Session.Email
		out.Role = string(view.Role)
		out.ExpiresAt = view.Session.ExpiresAt
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// runLogout はセッションを破棄する。
// ローカルの状態は即座に破棄され、IDサービス側の失効に失敗した場合もエラーとして報告する。
func runLogout(ctx context.Context, w io.Writer, tokens *identity.TokenSession, cfg *config.Config) error {
	reloaded := false
	m := newSessionManager(tokens, cfg, func() { reloaded = true })
	defer m.Dispose()

	if _, err := startAndSettle(ctx, m, cfg.SessionHardTimeout); err != nil {
		return err
	}

	err := m.SignOut(ctx)
	if reloaded {
		fmt.Fprintln(w, "signed out")
	}
	if err != nil {
		return fmt.Errorf("identity service sign-out failed: %w", err)
	}
	return nil
}

func newSessionManager(tokens *identity.TokenSession, cfg *config.Config, reload func()) *session.Manager {
	c := session.DefaultConfig()
	if cfg.SessionHardTimeout > 0 {
		c.HardTimeout = cfg.SessionHardTimeout
	}
	c.Reload = reload
	c.Logger = slog.Default()
	return session.NewManager(tokens, tokens, c)
}

// startAndSettle はManagerを開始し、状態が確定するまで待つ。
// ハードタイムアウトにより必ず確定するため、待機の上限はその少し先に置く。
func startAndSettle(ctx context.Context, m *session.Manager, hardTimeout time.Duration) (session.View, error) {
	settled := make(chan session.View, 1)
	unsubscribe := m.Subscribe(func(v session.View) {
		if isSettled(v) {
			select {
			case settled <- v:
			default:
			}
		}
	})
	defer unsubscribe()

	if err := m.Start(ctx); err != nil {
		return session.View{}, err
	}
	if v := m.View(); isSettled(v) {
		return v, nil
	}

	ctx, cancel := context.WithTimeout(ctx, hardTimeout+5*time.Second)
	defer cancel()

	select {
	case v := <-settled:
		return v, nil
	case <-ctx.Done():
		return m.View(), fmt.Errorf("session did not settle: %w", ctx.Err())
	}
}

func isSettled(v session.View) bool {
	switch v.State {
	case session.StateAnonymous:
		return true
	case session.StateEstablished:
		return !v.Loading
	default:
		return false
	}
}
