package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Environment
	AppEnv string

	// Database
	DatabaseURL string

	// Identity service
	IdentityURL        string
	IdentityAnonKey    string // 制限キー（クライアント・ユーザー権限の問い合わせ用）
	IdentityServiceKey string // 特権キー（サーバー側のプロフィール参照用）
	IdentityJWTSecret  string // 設定時はアクセストークンをローカルで検証する
	IdentityTimeout    time.Duration

	// Site
	SiteURL string

	// Rate Limit
	RedisURL        string
	RateLimitMax    int
	RateLimitWindow time.Duration
	TrustedProxies  string

	// Moderation
	ModerationConcurrency int
	ModerationOpsPerSec   float64
	PendingRetentionDays  int // 未承認コメントの保持日数（cleanupコマンド）

	// Client session
	SessionFile        string
	SessionHardTimeout time.Duration

	// Server
	ServerPort string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は未設定のキーをまとめてエラーとして返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	required := []struct {
		key string
		dst *string
	}{
		{"DATABASE_URL", &cfg.DatabaseURL},
		{"IDENTITY_URL", &cfg.IdentityURL},
		{"IDENTITY_ANON_KEY", &cfg.IdentityAnonKey},
		{"IDENTITY_SERVICE_KEY", &cfg.IdentityServiceKey},
		{"SITE_URL", &cfg.SiteURL},
	}
	for _, r := range required {
		*r.dst = os.Getenv(r.key)
		if *r.dst == "" {
			missing = append(missing, r.key)
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.AppEnv = getEnvString("APP_ENV", "development")
	cfg.IdentityJWTSecret = getEnvString("IDENTITY_JWT_SECRET", "")
	cfg.IdentityTimeout = getEnvDuration("IDENTITY_TIMEOUT", 5*time.Second)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.RateLimitMax = getEnvInt("RATE_LIMIT_MAX", 60)
	cfg.RateLimitWindow = getEnvDuration("RATE_LIMIT_WINDOW", time.Minute)
	cfg.TrustedProxies = getEnvString("TRUSTED_PROXIES", "")
	cfg.ModerationConcurrency = getEnvInt("MODERATION_CONCURRENCY", 8)
	cfg.ModerationOpsPerSec = getEnvFloat("MODERATION_OPS_PER_SEC", 20)
	cfg.PendingRetentionDays = getEnvInt("PENDING_RETENTION_DAYS", 30)
	cfg.SessionFile = getEnvString("SESSION_FILE", defaultSessionFile())
	cfg.SessionHardTimeout = getEnvDuration("SESSION_HARD_TIMEOUT", 10*time.Second)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.SiteURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")

	return cfg, nil
}

// LoadClient はCLIのセッション操作（whoami, logout）に必要な設定だけを読み込む。
// データベースやサイトURLは不要。
func LoadClient() (*Config, error) {
	cfg := &Config{}

	var missing []string
	cfg.IdentityURL = os.Getenv("IDENTITY_URL")
	if cfg.IdentityURL == "" {
		missing = append(missing, "IDENTITY_URL")
	}
	cfg.IdentityAnonKey = os.Getenv("IDENTITY_ANON_KEY")
	if cfg.IdentityAnonKey == "" {
		missing = append(missing, "IDENTITY_ANON_KEY")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.IdentityTimeout = getEnvDuration("IDENTITY_TIMEOUT", 5*time.Second)
	cfg.SessionFile = getEnvString("SESSION_FILE", defaultSessionFile())
	cfg.SessionHardTimeout = getEnvDuration("SESSION_HARD_TIMEOUT", 10*time.Second)

	return cfg, nil
}

func defaultSessionFile() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".inkpost", "session")
	}
	return filepath.Join(home, ".inkpost", "session")
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
