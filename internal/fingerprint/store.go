// Package fingerprint はソースごとのコンテンツ同一性の追跡を提供する。
// 強いチェックサム（コンテンツハッシュ）と弱いバリデータ（ETag等）を保持し、
// 「変更あり/なし」の判定を行う。ネットワークやパース処理はここには存在せず、
// 計算済みのダイジェストを受け取るだけである。
package fingerprint

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ragedizzer/conwatch/internal/model"
)

// SourceFingerprintRepo はStoreが必要とする永続化操作の最小インターフェース。
type SourceFingerprintRepo interface {
	FindByID(ctx context.Context, id string) (*model.Source, error)
	UpdateFingerprint(ctx context.Context, id, checksum, weakValidator string, changedAt *time.Time, checkedAt time.Time) error
}

// Store はソースごとのフィンガープリントを管理する。
// 同一ソースへの並行呼び出しはソース単位のロックで直列化され、
// lost updateを防ぐ。呼び出しごとの書き込みは正確に1回。
type Store struct {
	repo   SourceFingerprintRepo
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore はStoreの新しいインスタンスを生成する。
func NewStore(repo SourceFingerprintRepo, logger *slog.Logger) *Store {
	return &Store{
		repo:   repo,
		logger: logger,
		locks:  map[string]*sync.Mutex{},
	}
}

// lockFor はソースIDに対応するロックを返す。
// ドメインのカーディナリティは小さいため、エントリは解放しない。
func (s *Store) lockFor(sourceID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[sourceID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sourceID] = l
	}
	return l
}

// CheckChanged は新しいチェックサムを保存済みの値と比較する。
// 保存値が存在しないか異なる場合はtrueを返し、チェックサム・弱いバリデータ・
// last_changed_atを原子的に更新する。結果に関わらずlast_checked_atは常に進む。
func (s *Store) CheckChanged(ctx context.Context, sourceID, checksum, weakValidator string) (bool, error) {
	l := s.lockFor(sourceID)
	l.Lock()
	defer l.Unlock()

	src, err := s.repo.FindByID(ctx, sourceID)
	if err != nil {
		return false, fmt.Errorf("ソースの取得に失敗: %w", err)
	}
	if src == nil {
		return false, model.NewNotFoundError(fmt.Sprintf("ソースが存在しません: %s", sourceID))
	}

	now := time.Now().UTC()

	if src.Checksum != "" && src.Checksum == checksum {
		// 変更なし: last_checked_atのみ更新
		if err := s.repo.UpdateFingerprint(ctx, sourceID, "", "", nil, now); err != nil {
			return false, fmt.Errorf("チェック時刻の更新に失敗: %w", err)
		}
		return false, nil
	}

	if err := s.repo.UpdateFingerprint(ctx, sourceID, checksum, weakValidator, &now, now); err != nil {
		return false, fmt.Errorf("フィンガープリントの更新に失敗: %w", err)
	}

	s.logger.Info("ソースの変更を検出しました",
		slog.String("source_id", sourceID),
		slog.String("checksum", checksum),
	)

	return true, nil
}
