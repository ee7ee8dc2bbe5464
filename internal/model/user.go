// Package model はドメインモデルを定義する。
package model

import "time"

// Role はプロフィールから解決される権限クラス。
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid はロールが定義済みの値かどうかを返す。
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Identity はIDサービスがトークンから解決した主体を表す。
type Identity struct {
	Subject string
	Email   string
}

// Profile は主体ごとのプロフィールレコード。
// ロールの判定は必ずこのレコードから都度行い、キャッシュしない。
type Profile struct {
	ID          string
	DisplayName string
	Role        Role
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EffectiveRole はプロフィールから実効ロールを導出する。
// プロフィールが無い・非アクティブ・未知のロールの場合は最小権限のRoleUserを返す。
func EffectiveRole(p *Profile) Role {
	if p == nil || !p.IsActive || !p.Role.Valid() {
		return RoleUser
	}
	return p.Role
}

// Caller は認可済みのリクエスト主体を表す。
type Caller struct {
	Subject string
	Email   string
	Role    Role
}

// IsAdmin は管理者かどうかを返す。
func (c *Caller) IsAdmin() bool {
	return c != nil && c.Role == RoleAdmin
}

// Session はIDサービスが発行したセッション。
// 完全に有効か存在しないかのどちらかであり、部分的に有効な状態は持たない。
type Session struct {
	AccessToken string
	Subject     string
	Email       string
	ExpiresAt   time.Time
}

// Expired はnow時点でセッションが期限切れかどうかを返す。
// 有効期限が不明（ゼロ値）の場合は期限切れとみなさない。
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// SignInStart はサインイン開始時に発行する値の組。
// VerifierとStateはコールバックまで呼び出し側が保持する。
type SignInStart struct {
	URL      string
	Verifier string
	State    string
}
