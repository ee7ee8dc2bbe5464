package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/inkpost/internal/model"
)

// accessClaims はIDサービスが発行するアクセストークンのクレーム。
type accessClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// JWTVerifier はIDサービスと共有するHS256シークレットでトークンをローカル検証する。
type JWTVerifier struct {
	secret   []byte
	audience string
}

// NewJWTVerifier はJWTVerifierを生成する。audienceが空の場合はaudを検証しない。
func NewJWTVerifier(secret, audience string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), audience: audience}
}

// VerifyToken は署名・有効期限・audを検証して主体情報を返す。
func (v *JWTVerifier) VerifyToken(_ context.Context, token string) (*model.Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("access token has no subject")
	}

	return &model.Identity{Subject: claims.Subject, Email: claims.Email}, nil
}
