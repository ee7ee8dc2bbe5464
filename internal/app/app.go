package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/inkpost/internal/auth"
	"github.com/hitoshi/inkpost/internal/cache"
	"github.com/hitoshi/inkpost/internal/comment"
	"github.com/hitoshi/inkpost/internal/config"
	"github.com/hitoshi/inkpost/internal/database"
	"github.com/hitoshi/inkpost/internal/handler"
	"github.com/hitoshi/inkpost/internal/identity"
	"github.com/hitoshi/inkpost/internal/logger"
	"github.com/hitoshi/inkpost/internal/metrics"
	"github.com/hitoshi/inkpost/internal/middleware"
	"github.com/hitoshi/inkpost/internal/moderation"
	"github.com/hitoshi/inkpost/internal/ratelimit"
	"github.com/hitoshi/inkpost/internal/repository"
	"github.com/hitoshi/inkpost/internal/security"
	"github.com/hitoshi/inkpost/internal/worker/cleanup"
)

// tokenAudience はIDサービスが発行するアクセストークンのaudクレーム。
const tokenAudience = "authenticated"

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	// セッション操作はIDサービスの設定だけで動作する。結果はwに、ログはstderrに出す
	if isClientCommand(cmd) {
		logger.SetupDefault(os.Stderr)
		cfg, err := config.LoadClient()
		if err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}
		return runClient(context.Background(), w, cfg, cmd, args[1:])
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("environment", string(cache.ParseEnvironment(cfg.AppEnv))),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandCleanup:
		return runCleanup(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := database.Ping(context.Background(), db, 5*time.Second); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 3. レートリミッター
	store, closeStore, err := newRateLimitStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	limiter := ratelimit.NewLimiter(
		ratelimit.Config{Max: int64(cfg.RateLimitMax), Window: cfg.RateLimitWindow},
		store,
		ratelimit.WithLogger(slog.Default()),
		ratelimit.WithMetrics(collector),
	)

	trustedProxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}

	// 4. IDサービス（特権キーのクライアントはサーバー内でのみ使用する）
	privileged := identity.NewClient(identity.ClientConfig{
		BaseURL: cfg.IdentityURL,
		APIKey:  cfg.IdentityServiceKey,
		Timeout: cfg.IdentityTimeout,
	})

	var verifier auth.TokenVerifier = privileged
	if cfg.IdentityJWTSecret != "" {
		verifier = auth.NewJWTVerifier(cfg.IdentityJWTSecret, tokenAudience)
		slog.Info("access tokens are verified locally")
	}
	resolver := auth.NewResolver(verifier, privileged, slog.Default())

	// 5. リポジトリとドメインサービス
	commentRepo := repository.NewPostgresCommentRepo(db)
	articleRepo := repository.NewPostgresArticleRepo(db)

	coordinator := moderation.NewCoordinator(commentRepo, moderation.Config{
		Concurrency:  cfg.ModerationConcurrency,
		OpsPerSecond: cfg.ModerationOpsPerSec,
	}, slog.Default(), collector)
	commentService := comment.NewCommentService(commentRepo, articleRepo, security.NewCommentSanitizer())

	// 6. ルーターの構築
	pipeline := middleware.NewPipeline(middleware.PipelineConfig{
		Limiter:        limiter,
		Authorizer:     resolver,
		Environment:    cache.ParseEnvironment(cfg.AppEnv),
		TrustedProxies: trustedProxies,
		Metrics:        collector,
		Logger:         slog.Default(),
	})

	router := handler.NewRouter(&handler.RouterDeps{
		Pipeline:           pipeline,
		Logger:             slog.Default(),
		StatusRecorder:     collector,
		CORSAllowedOrigins: middleware.ParseAllowedOrigins(cfg.CORSAllowedOrigin),

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),

		Moderator:      coordinator,
		CommentService: commentService,

		SignIn: identity.NewSignInRedirector(cfg.IdentityURL, cfg.SiteURL),
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
		},
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	return serveUntilSignal(server, stop, 30*time.Second)
}

// serveUntilSignal はstopを受信するまでserverを動かし、受信後にグレースフルシャットダウンする。
// 待ち受けに失敗した場合はシグナルを待たずにそのエラーを返す。
func serveUntilSignal(server *http.Server, stop <-chan os.Signal, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		slog.Error("server listen error", slog.String("error", err.Error()))
		return fmt.Errorf("server listen failed: %w", err)
	case <-stop:
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// newRateLimitStore はREDIS_URLが設定されていればRedis、なければプロセス内のバケットストアを返す。
// 戻り値の関数でストアを解放する。
func newRateLimitStore(cfg *config.Config) (ratelimit.Store, func(), error) {
	if cfg.RedisURL == "" {
		store := ratelimit.NewMemoryStore(time.Minute)
		slog.Info("rate limit buckets are process-local")
		return store, store.Stop, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	slog.Info("rate limit buckets are shared via redis", slog.String("addr", opts.Addr))

	return ratelimit.NewRedisStore(client), func() { client.Close() }, nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.MigrationStatus(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runCleanup は保持期間を超えた未承認コメントを削除する。
// 定期実行はスケジューラ（cron等）に任せ、1回実行して終了する。
func runCleanup(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	job := cleanup.NewPendingCommentPurge(db, cfg.PendingRetentionDays, slog.Default())
	if _, err := job.Run(ctx); err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
