package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Scrape
	ScrapeInterval      time.Duration // スケジューラのティック間隔
	ScrapeMaxConcurrent int
	FetchTimeout        time.Duration
	FetchMaxSize        int64
	FetchPerHostRPS     float64 // ホストごとの外部フェッチのレート上限（req/sec）

	// ソース種別ごとのチェック間隔
	TicketsCheckInterval  time.Duration
	OfficialCheckInterval time.Duration
	NewsCheckInterval     time.Duration
	SocialCheckInterval   time.Duration

	// 連続失敗時の指数バックオフ
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// Dispatch
	DispatchInterval      time.Duration
	DispatchBatchSize     int
	DispatchMaxConcurrent int
	DeliveryTimeout       time.Duration
	DeliveryMaxAttempts   int

	// Retention
	JobRetentionDays      int // scrape_jobsの保持日数
	ReminderRetentionDays int // cancelled/sent/failedリマインダーの保持日数

	// Rate Limit
	RateLimitGeneral int // API全般のレート（req/min/client）
	RateLimitAdmin   int // ソース管理操作のレート（req/min/client）

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.ScrapeInterval = getEnvDuration("SCRAPE_INTERVAL", 1*time.Minute)
	cfg.ScrapeMaxConcurrent = getEnvInt("SCRAPE_MAX_CONCURRENT", 10)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 15*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.FetchPerHostRPS = getEnvFloat("FETCH_PER_HOST_RPS", 1.0)

	cfg.TicketsCheckInterval = getEnvDuration("TICKETS_CHECK_INTERVAL", 30*time.Minute)
	cfg.OfficialCheckInterval = getEnvDuration("OFFICIAL_CHECK_INTERVAL", 6*time.Hour)
	cfg.NewsCheckInterval = getEnvDuration("NEWS_CHECK_INTERVAL", 1*time.Hour)
	cfg.SocialCheckInterval = getEnvDuration("SOCIAL_CHECK_INTERVAL", 15*time.Minute)

	cfg.BackoffInitial = getEnvDuration("BACKOFF_INITIAL", 30*time.Minute)
	cfg.BackoffMax = getEnvDuration("BACKOFF_MAX", 12*time.Hour)

	cfg.DispatchInterval = getEnvDuration("DISPATCH_INTERVAL", 30*time.Second)
	cfg.DispatchBatchSize = getEnvInt("DISPATCH_BATCH_SIZE", 100)
	cfg.DispatchMaxConcurrent = getEnvInt("DISPATCH_MAX_CONCURRENT", 5)
	cfg.DeliveryTimeout = getEnvDuration("DELIVERY_TIMEOUT", 10*time.Second)
	cfg.DeliveryMaxAttempts = getEnvInt("DELIVERY_MAX_ATTEMPTS", 5)

	cfg.JobRetentionDays = getEnvInt("JOB_RETENTION_DAYS", 90)
	cfg.ReminderRetentionDays = getEnvInt("REMINDER_RETENTION_DAYS", 180)

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAdmin = getEnvInt("RATE_LIMIT_ADMIN", 30)

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	return cfg, nil
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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
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
