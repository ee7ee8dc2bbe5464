// Package cache はルートと実行環境に応じたレスポンスキャッシュ方針の選択を提供する。
// 入力2つだけで決まる純粋関数として実装し、サーバーなしでテストできる。
package cache

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Environment は実行環境を表す。
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// ParseEnvironment は文字列を実行環境に変換する。
// 未知の値は開発環境として扱う（誤ってキャッシュさせないため）。
func ParseEnvironment(s string) Environment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "production", "prod":
		return EnvProduction
	default:
		return EnvDevelopment
	}
}

// Kind はキャッシュ方針の種類。
type Kind int

const (
	KindNoStore Kind = iota
	KindMaxAge
	KindStaleWhileRevalidate
)

// Policy はレスポンスに適用するキャッシュ方針。
type Policy struct {
	Kind                 Kind
	MaxAge               time.Duration
	StaleWhileRevalidate time.Duration
}

// NoStore はキャッシュさせない方針。
func NoStore() Policy {
	return Policy{Kind: KindNoStore}
}

// MaxAge は一定時間キャッシュさせる方針。
func MaxAge(d time.Duration) Policy {
	return Policy{Kind: KindMaxAge, MaxAge: d}
}

// StaleWhileRevalidate は期限後も再検証中は古いレスポンスを返させる方針。
func StaleWhileRevalidate(maxAge, stale time.Duration) Policy {
	return Policy{Kind: KindStaleWhileRevalidate, MaxAge: maxAge, StaleWhileRevalidate: stale}
}

// ルート名
const (
	RouteArticlesList  = "articles.list"
	RouteArticleDetail = "articles.detail"
	RouteTagsList      = "tags.list"
	RouteCommentsList  = "comments.list"
)

// productionPolicies は本番環境でのルート別方針。
var productionPolicies = map[string]Policy{
	RouteArticlesList:  StaleWhileRevalidate(60*time.Second, 300*time.Second),
	RouteArticleDetail: StaleWhileRevalidate(300*time.Second, time.Hour),
	RouteTagsList:      MaxAge(time.Hour),
	RouteCommentsList:  MaxAge(30 * time.Second),
}

// Select はルートと実行環境からキャッシュ方針を選ぶ。
// 開発環境では常にno-store。本番環境で未登録のルートもno-store。
func Select(route string, env Environment) Policy {
	if env != EnvProduction {
		return NoStore()
	}
	if p, ok := productionPolicies[route]; ok {
		return p
	}
	return NoStore()
}

// HeaderValue はCache-Controlヘッダーの値を返す。
func (p Policy) HeaderValue() string {
	switch p.Kind {
	case KindMaxAge:
		return fmt.Sprintf("public, max-age=%d", seconds(p.MaxAge))
	case KindStaleWhileRevalidate:
		return fmt.Sprintf("public, s-maxage=%d, stale-while-revalidate=%d",
			seconds(p.MaxAge), seconds(p.StaleWhileRevalidate))
	default:
		return "no-store, no-cache, must-revalidate"
	}
}

// Apply はキャッシュ方針に対応するヘッダーを設定する。
func Apply(h http.Header, p Policy) {
	h.Set("Cache-Control", p.HeaderValue())
	if p.Kind == KindNoStore {
		h.Set("Pragma", "no-cache")
		h.Set("Expires", "0")
		return
	}
	h.Del("Pragma")
	h.Del("Expires")
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}
