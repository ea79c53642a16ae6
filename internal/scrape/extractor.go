package scrape

import (
	"context"
	"time"

	"github.com/ragedizzer/conwatch/internal/model"
)

// Extractor はフェッチ済みコンテンツから構造化された事実を取り出す
// 外部コラボレーターのインターフェース。パース戦略（HTML解析、構造化データ、
// ソース固有のルール等）の実体はこのコアの範囲外にある。
//
// パース不能なコンテンツにはExtractionErrorを返すこと。その場合ジョブは
// errorで終端し、ソースは直前の既知状態のまま保たれる。
type Extractor interface {
	Extract(ctx context.Context, src *model.Source, body []byte) (*model.Findings, error)
}

// noopExtractor は何も抽出しない既定実装。
// 本物のExtractorが差し込まれるまでの間、フィンガープリントによる
// 変更検出とジョブ記録だけを機能させる。
type noopExtractor struct{}

// NewNoopExtractor は空のFindingsを返すExtractorを生成する。
func NewNoopExtractor() Extractor {
	return noopExtractor{}
}

func (noopExtractor) Extract(_ context.Context, _ *model.Source, _ []byte) (*model.Findings, error) {
	return &model.Findings{ExtractedAt: time.Now().UTC()}, nil
}
