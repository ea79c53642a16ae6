// Package app はアプリケーションの起動とワイヤリングを行う。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/ragedizzer/conwatch/internal/config"
	"github.com/ragedizzer/conwatch/internal/database"
	"github.com/ragedizzer/conwatch/internal/fingerprint"
	"github.com/ragedizzer/conwatch/internal/handler"
	"github.com/ragedizzer/conwatch/internal/logger"
	"github.com/ragedizzer/conwatch/internal/metrics"
	"github.com/ragedizzer/conwatch/internal/middleware"
	"github.com/ragedizzer/conwatch/internal/reconcile"
	"github.com/ragedizzer/conwatch/internal/reminder"
	"github.com/ragedizzer/conwatch/internal/repository"
	"github.com/ragedizzer/conwatch/internal/scrape"
	"github.com/ragedizzer/conwatch/internal/security"
	"github.com/ragedizzer/conwatch/internal/worker/cleanup"
)

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

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	convRepo := repository.NewPostgresConventionRepo(db)
	windowRepo := repository.NewPostgresSignUpWindowRepo(db)
	watchRepo := repository.NewPostgresWatchRepo(db)
	reminderRepo := repository.NewPostgresReminderRepo(db)
	srcRepo := repository.NewPostgresSourceRepo(db)
	jobRepo := repository.NewPostgresScrapeJobRepo(db)

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. 購読作成時の即時再計算用Materializer
	materializer := reminder.NewMaterializer(
		userRepo, convRepo, windowRepo, watchRepo, reminderRepo,
		collector, slog.Default(),
	)

	// 5. ルーターの構築
	rateLimiterCfg := middleware.RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(cfg.RateLimitGeneral) / 60.0),
		GeneralBurst:    cfg.RateLimitGeneral,
		AdminRate:       rate.Limit(float64(cfg.RateLimitAdmin) / 60.0),
		AdminBurst:      cfg.RateLimitAdmin,
		CleanupInterval: 5 * time.Minute,
	}
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:         slog.Default(),
		RateLimiter:    rateLimiter,
		MetricsHandler: metrics.Handler(registry),
		DB:             db,
		SourceRepo:     srcRepo,
		JobRepo:        jobRepo,
		WatchRepo:      watchRepo,
		UserRepo:       userRepo,
		ConvRepo:       convRepo,
		URLGuard:       security.NewSSRFGuard(),
		Materializer:   materializer,
	})

	// 6. HTTPサーバーの起動
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

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// スクレイプスケジューラ・ディスパッチループ・クリーンアップジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	convRepo := repository.NewPostgresConventionRepo(db)
	windowRepo := repository.NewPostgresSignUpWindowRepo(db)
	watchRepo := repository.NewPostgresWatchRepo(db)
	reminderRepo := repository.NewPostgresReminderRepo(db)
	srcRepo := repository.NewPostgresSourceRepo(db)
	jobRepo := repository.NewPostgresScrapeJobRepo(db)

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. スクレイプパイプラインの組み立て
	ssrfGuard := security.NewSSRFGuard()
	fetcher := scrape.NewHTTPFetcher(
		ssrfGuard, slog.Default(),
		cfg.FetchTimeout, cfg.FetchMaxSize, cfg.FetchPerHostRPS,
	)
	fpStore := fingerprint.NewStore(srcRepo, slog.Default())
	sanitizer := security.NewTextSanitizer()
	reconciler := reconcile.NewReconciler(convRepo, windowRepo, sanitizer, slog.Default())
	materializer := reminder.NewMaterializer(
		userRepo, convRepo, windowRepo, watchRepo, reminderRepo,
		collector, slog.Default(),
	)

	policy := scrape.NewSchedulePolicy(cfg)
	runner := scrape.NewRunner(
		srcRepo, jobRepo,
		fetcher, scrape.NewNoopExtractor(), fpStore, reconciler, materializer,
		policy, collector, slog.Default(), cfg.FetchTimeout,
	)
	scheduler := scrape.NewScheduler(srcRepo, runner, slog.Default(), cfg.ScrapeMaxConcurrent)

	// 5. ディスパッチループの組み立て
	dispatcher := reminder.NewDispatcher(
		reminderRepo, reminder.NewLogDeliverer(slog.Default()),
		collector, slog.Default(),
		cfg.DispatchBatchSize, cfg.DispatchMaxConcurrent,
		cfg.DeliveryTimeout, cfg.DeliveryMaxAttempts,
	)

	// 6. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())
	cleanupJob.JobRetentionDays = cfg.JobRetentionDays
	cleanupJob.ReminderRetentionDays = cfg.ReminderRetentionDays

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("scrape_interval", cfg.ScrapeInterval),
		slog.Duration("dispatch_interval", cfg.DispatchInterval),
		slog.Int("max_concurrent", cfg.ScrapeMaxConcurrent),
	)

	// ディスパッチループをバックグラウンドで起動
	go dispatcher.Start(ctx, cfg.DispatchInterval)

	// クリーンアップジョブを日次でバックグラウンド実行
	go func() {
		// 起動直後に1回実行
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := cleanupJob.Run(ctx); err != nil {
					slog.Error("cleanup job failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	// スクレイプスケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.ScrapeInterval)

	slog.Info("worker stopped gracefully")
	return nil
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

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
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
