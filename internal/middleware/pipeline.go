package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/netip"
	"slices"
	"strconv"
	"strings"

	"github.com/hitoshi/inkpost/internal/cache"
	"github.com/hitoshi/inkpost/internal/metrics"
	"github.com/hitoshi/inkpost/internal/model"
	"github.com/hitoshi/inkpost/internal/ratelimit"
)

// maxBodyBytes はリクエストボディの上限サイズ。
const maxBodyBytes = 1 << 20

// Authorizer はベアラートークンから呼び出し元を解決する。
// auth.Resolverが実装する。
type Authorizer interface {
	Resolve(ctx context.Context, token string, requireAdmin bool) (*model.Caller, error)
}

// RateDecider はクライアントキーごとのレート制限判定を行う。
type RateDecider interface {
	Decide(ctx context.Context, clientKey string) ratelimit.Decision
}

// BodySchema はリクエストボディの解析と検証を行う。
type BodySchema interface {
	Decode(r *http.Request) (any, error)
}

// Validator はボディ型が実装するフィールド単位の検証。
// 問題がなければnilまたは空のmapを返す。
type Validator interface {
	Validate() map[string]string
}

// RouteConfig はルートごとに有効にする関心事。
// 適用順序はPipeline側で固定されており、ルートからは変更できない。
type RouteConfig struct {
	Methods      []string
	RateLimit    bool
	RequireAuth  bool
	RequireAdmin bool
	Body         BodySchema
	CacheRoute   string // 空の場合はno-store
}

// Request はハンドラーに渡されるパイプライン処理済みのリクエスト。
type Request struct {
	*http.Request
	Caller   *model.Caller
	Body     any
	ClientIP string
}

// Result はハンドラーの処理結果。エンベロープのdataとmessageになる。
type Result struct {
	Data    any
	Message string
	Cookies []*http.Cookie // 成功時のみ設定する
}

// HandlerFunc はパイプラインの内側で実行される業務処理。
// ステータスコードは返さず、失敗はmodel.AppErrorで表す。
type HandlerFunc func(ctx context.Context, req *Request) (Result, error)

// Pipeline はルートハンドラーの周囲に共通の関心事を合成する。
type Pipeline struct {
	limiter        RateDecider
	authorizer     Authorizer
	env            cache.Environment
	trustedProxies []netip.Prefix
	metrics        metrics.MetricsCollector
	logger         *slog.Logger
}

// PipelineConfig はPipelineの依存。
type PipelineConfig struct {
	Limiter        RateDecider
	Authorizer     Authorizer
	Environment    cache.Environment
	TrustedProxies []netip.Prefix
	Metrics        metrics.MetricsCollector
	Logger         *slog.Logger
}

// NewPipeline はPipelineを生成する。
func NewPipeline(config PipelineConfig) *Pipeline {
	p := &Pipeline{
		limiter:        config.Limiter,
		authorizer:     config.Authorizer,
		env:            config.Environment,
		trustedProxies: config.TrustedProxies,
		metrics:        config.Metrics,
		logger:         config.Logger,
	}
	if p.metrics == nil {
		p.metrics = metrics.Nop{}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Handle はRouteConfigに従って関心事を合成したhttp.Handlerを返す。
// 処理順序: メソッド検査 → レート制限 → 認可 → ボディ解析・検証 → キャッシュ方針 → 業務処理 → エンベロープ。
func (p *Pipeline) Handle(config RouteConfig, h HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		clientIP := ClientIP(r, p.trustedProxies)

		// 1. メソッド検査
		if len(config.Methods) > 0 && !slices.Contains(config.Methods, r.Method) {
			w.Header().Set("Allow", strings.Join(config.Methods, ", "))
			p.fail(w, model.NewMethodNotAllowedError(r.Method))
			return
		}

		// 2. レート制限
		if config.RateLimit && p.limiter != nil {
			decision := p.limiter.Decide(ctx, clientIP)
			if !decision.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(decision)))
				p.fail(w, model.NewRateLimitedError())
				return
			}
		}

		// 3. 認可
		var caller *model.Caller
		if config.RequireAuth || config.RequireAdmin {
			resolved, err := p.authorizer.Resolve(ctx, BearerToken(r), config.RequireAdmin)
			if err != nil {
				p.metrics.RecordAuthFailure(model.KindOf(err).String())
				p.fail(w, err)
				return
			}
			caller = resolved
			ctx = ContextWithCaller(ctx, caller)
		}

		// 4. ボディ解析・検証（ボディを持つメソッドのみ）
		var body any
		if config.Body != nil && hasBody(r.Method) {
			decoded, err := config.Body.Decode(r)
			if err != nil {
				p.fail(w, err)
				return
			}
			body = decoded
		}

		// 5. キャッシュ方針（読み取り専用ルートのみ）
		policy := cache.NoStore()
		if config.CacheRoute != "" && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
			policy = cache.Select(config.CacheRoute, p.env)
		}

		// 6. 業務処理
		result, err := h(ctx, &Request{
			Request:  r.WithContext(ctx),
			Caller:   caller,
			Body:     body,
			ClientIP: clientIP,
		})
		if err != nil {
			if model.KindOf(err) == model.KindInternal {
				p.logger.Error("request handler failed",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("request_id", RequestIDFromContext(ctx)),
					slog.String("error", err.Error()),
				)
			}
			p.fail(w, err)
			return
		}

		// 7. エンベロープ
		cache.Apply(w.Header(), policy)
		for _, c := range result.Cookies {
			http.SetCookie(w, c)
		}
		WriteSuccess(w, result.Data, result.Message)
	})
}

// fail はエラーレスポンスを書き込む。エラーレスポンスはキャッシュさせない。
func (p *Pipeline) fail(w http.ResponseWriter, err error) {
	cache.Apply(w.Header(), cache.NoStore())
	WriteError(w, err)
}

func hasBody(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}

func retryAfterSeconds(d ratelimit.Decision) int {
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// jsonBody はJSONボディをTとして解析し検証する。
type jsonBody[T Validator] struct{}

// JSONBody はJSONボディをTに解析してValidateを実行するBodySchemaを返す。
func JSONBody[T Validator]() BodySchema {
	return jsonBody[T]{}
}

// EmptyBodyAllowed はすべての項目が任意のボディが実装する。
// 実装した型は空のボディをゼロ値として受け付ける。
type EmptyBodyAllowed interface {
	AllowEmptyBody() bool
}

// Decode はBodySchemaを実装する。
func (jsonBody[T]) Decode(r *http.Request) (any, error) {
	var v T
	if r.Body == nil || r.Body == http.NoBody {
		return validateBody(v, allowsEmpty(v))
	}

	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return validateBody(v, allowsEmpty(v))
		}
		return nil, decodeError(err)
	}
	// 1つのJSON値の後ろに続くデータは受け付けない
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			err = errors.New("unexpected data after JSON value")
		}
		return nil, decodeError(err)
	}

	return validateBody(v, true)
}

func allowsEmpty(v any) bool {
	e, ok := v.(EmptyBodyAllowed)
	return ok && e.AllowEmptyBody()
}

func validateBody[T Validator](v T, present bool) (any, error) {
	if !present {
		return nil, model.NewBadRequestError("リクエストボディが必要です。", nil)
	}
	if fields := v.Validate(); len(fields) > 0 {
		return nil, model.NewBadRequestError("入力内容に誤りがあります。", fields)
	}
	return v, nil
}

func decodeError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return model.NewBadRequestError("リクエストボディが大きすぎます。", nil)
	}
	return model.NewBadRequestError("リクエストボディのJSONが不正です。",
		map[string]string{"body": err.Error()})
}

// BodyAs はパイプラインで検証済みのボディをTとして取り出す。
func BodyAs[T any](req *Request) (T, bool) {
	v, ok := req.Body.(T)
	return v, ok
}
