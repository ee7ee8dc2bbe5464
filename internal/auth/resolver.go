// Package auth はベアラートークンから呼び出し元とロールを解決するサーバー側の認可を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/inkpost/internal/model"
)

// TokenVerifier はベアラートークンを主体情報に交換する。
// identity.Client（IDサービス問い合わせ）とJWTVerifier（ローカル検証）が実装する。
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*model.Identity, error)
}

// ProfileFinder は主体のプロフィールを取得する。見つからない場合はnilを返す。
type ProfileFinder interface {
	FetchProfile(ctx context.Context, subject string) (*model.Profile, error)
}

// Resolver はリクエストごとにトークン検証とロール解決を行う。
// 解決結果はリクエストをまたいでキャッシュしない。
type Resolver struct {
	verifier TokenVerifier
	profiles ProfileFinder
	logger   *slog.Logger
}

// NewResolver はResolverを生成する。
func NewResolver(verifier TokenVerifier, profiles ProfileFinder, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		verifier: verifier,
		profiles: profiles,
		logger:   logger,
	}
}

// Resolve はトークンから呼び出し元を解決する。
// トークンが無い・無効な場合はUnauthorized。
// requireAdminの場合、プロフィールが無い・非アクティブ・管理者でなければForbidden。
func (r *Resolver) Resolve(ctx context.Context, token string, requireAdmin bool) (*model.Caller, error) {
	if token == "" {
		return nil, model.NewUnauthorizedError()
	}

	ident, err := r.verifier.VerifyToken(ctx, token)
	if err != nil {
		if errors.Is(err, model.ErrIdentityUnavailable) {
			return nil, fmt.Errorf("failed to verify token: %w", err)
		}
		r.logger.Debug("token verification failed",
			slog.String("error", err.Error()),
		)
		return nil, model.NewUnauthorizedError()
	}

	profile, err := r.profiles.FetchProfile(ctx, ident.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile for %s: %w", ident.Subject, err)
	}

	if requireAdmin && (profile == nil || !profile.IsActive || profile.Role != model.RoleAdmin) {
		r.logger.Warn("admin access denied",
			slog.String("subject", ident.Subject),
		)
		return nil, model.NewForbiddenError()
	}

	return &model.Caller{
		Subject: ident.Subject,
		Email:   ident.Email,
		Role:    model.EffectiveRole(profile),
	}, nil
}
