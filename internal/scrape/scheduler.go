package scrape

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ragedizzer/conwatch/internal/model"
	"github.com/ragedizzer/conwatch/internal/repository"
)

// SourceProcessor はソース1件の処理インターフェース。
type SourceProcessor interface {
	Process(ctx context.Context, src *model.Source) error
}

// Scheduler はソースチェックのスケジューリングと並列制御を行う。
// ティッカーでチェック対象ソースを取得し、semaphoreパターンで
// 最大並列数を制御しながら処理を実行する。
type Scheduler struct {
	srcRepo        repository.SourceRepository
	processor      SourceProcessor
	logger         *slog.Logger
	maxConcurrency int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値10を使用する。
func NewScheduler(
	srcRepo repository.SourceRepository,
	processor SourceProcessor,
	logger *slog.Logger,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	return &Scheduler{
		srcRepo:        srcRepo,
		processor:      processor,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("スクレイプスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("スクレイプサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("スクレイプスケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("スクレイプサイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce はチェック対象ソースを1回取得し、並列で処理を実行する。
// semaphoreパターンで最大並列数を制御する。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	// チェック対象ソースを取得（FOR UPDATE SKIP LOCKED）
	sources, err := s.srcRepo.ListDueForCheck(ctx)
	if err != nil {
		return err
	}

	if len(sources) == 0 {
		return nil
	}

	s.logger.Info("スクレイプサイクルを開始します",
		slog.Int("source_count", len(sources)),
	)

	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, src := range sources {
		wg.Add(1)
		sem <- struct{}{}

		go func(src *model.Source) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.processor.Process(ctx, src); err != nil {
				s.logger.Error("ソース処理に失敗しました",
					slog.String("source_id", src.ID),
					slog.String("source_url", src.URL),
					slog.String("error", err.Error()),
				)
			}
		}(src)
	}

	wg.Wait()

	duration := time.Since(start)
	s.logger.Info("スクレイプサイクルが完了しました",
		slog.Int("source_count", len(sources)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
