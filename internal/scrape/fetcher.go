// Package scrape はソースの定期チェックと変更検出パイプラインを提供する。
// スケジューラ、HTTPフェッチャー、チェック間隔/バックオフ戦略、
// フェッチ結果をフィンガープリント・リコンサイル・再計算へ流すランナーを含む。
package scrape

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ragedizzer/conwatch/internal/model"
)

// Fetcher はソースのコンテンツ取得インターフェース。
type Fetcher interface {
	Fetch(ctx context.Context, src *model.Source) (*FetchResult, error)
}

// FetchResult はフェッチ結果を表す。
type FetchResult struct {
	// NotModified はコンテンツ未変更（304応答）かどうか。trueの場合Bodyは空。
	NotModified bool
	Body        []byte
	// Checksum はBodyのSHA-256（16進文字列）。強いフィンガープリントとして使う。
	Checksum string
	// WeakValidator は次回の条件付きGETに使うETagまたはLast-Modified。
	WeakValidator string
}

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// HTTPFetcher はFetcherのHTTP実装。
// SSRF検証付きクライアントによるフェッチ、保存済み弱いバリデータを使った
// 条件付きGET、ホストごとのレート制限、SHA-256チェックサム計算を行う。
type HTTPFetcher struct {
	ssrfGuard   SSRFValidator
	logger      *slog.Logger
	timeout     time.Duration
	maxBodySize int64

	// ホストごとのレートリミッタ
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perHost  rate.Limit
}

// NewHTTPFetcher はHTTPFetcherの新しいインスタンスを生成する。
func NewHTTPFetcher(
	ssrfGuard SSRFValidator,
	logger *slog.Logger,
	timeout time.Duration,
	maxBodySize int64,
	perHostRPS float64,
) *HTTPFetcher {
	return &HTTPFetcher{
		ssrfGuard:   ssrfGuard,
		logger:      logger,
		timeout:     timeout,
		maxBodySize: maxBodySize,
		limiters:    make(map[string]*rate.Limiter),
		perHost:     rate.Limit(perHostRPS),
	}
}

// Fetch はソースのURLをフェッチしてチェックサムと弱いバリデータを返す。
// 保存済みのETag/Last-Modifiedがあれば条件付きGETを行い、304の場合は
// NotModified = trueの結果を返す。
// ネットワーク障害・タイムアウト・非200応答はTransientSourceErrorとして返す。
func (f *HTTPFetcher) Fetch(ctx context.Context, src *model.Source) (*FetchResult, error) {
	if err := f.ssrfGuard.ValidateURL(src.URL); err != nil {
		return nil, model.NewTransientSourceError("SSRF検証に失敗", err)
	}

	if err := f.waitForHost(ctx, src.URL); err != nil {
		return nil, model.NewTransientSourceError("レート制限待機が中断", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, model.NewTransientSourceError("リクエスト作成に失敗", err)
	}
	req.Header.Set("User-Agent", "Conwatch/1.0 Convention Tracker")
	req.Header.Set("Accept", "text/html, application/json, application/xml, */*")
	applyConditionalHeaders(req, src.WeakValidator)

	client := f.ssrfGuard.NewSafeClient(f.timeout, f.maxBodySize)
	resp, err := client.Do(req)
	if err != nil {
		return nil, model.NewTransientSourceError("HTTPリクエストに失敗", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return &FetchResult{NotModified: true, WeakValidator: src.WeakValidator}, nil
	case resp.StatusCode != http.StatusOK:
		return nil, model.NewTransientSourceError(
			fmt.Sprintf("HTTPステータス %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return nil, model.NewTransientSourceError("レスポンスボディの読み取りに失敗", err)
	}

	sum := sha256.Sum256(body)
	return &FetchResult{
		Body:          body,
		Checksum:      hex.EncodeToString(sum[:]),
		WeakValidator: extractWeakValidator(resp.Header),
	}, nil
}

// waitForHost はホストごとのレートリミッタで待機する。
func (f *HTTPFetcher) waitForHost(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	host := strings.ToLower(u.Hostname())

	f.mu.Lock()
	limiter, ok := f.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(f.perHost, 1)
		f.limiters[host] = limiter
	}
	f.mu.Unlock()

	return limiter.Wait(ctx)
}

// applyConditionalHeaders は保存済みの弱いバリデータから条件付きGETヘッダを設定する。
// バリデータは "etag:<値>" または "last-modified:<値>" の形式で保存されている。
func applyConditionalHeaders(req *http.Request, weakValidator string) {
	switch {
	case strings.HasPrefix(weakValidator, "etag:"):
		req.Header.Set("If-None-Match", strings.TrimPrefix(weakValidator, "etag:"))
	case strings.HasPrefix(weakValidator, "last-modified:"):
		req.Header.Set("If-Modified-Since", strings.TrimPrefix(weakValidator, "last-modified:"))
	}
}

// extractWeakValidator は応答ヘッダから次回の条件付きGETに使うバリデータを取り出す。
// ETagを優先し、なければLast-Modifiedを使う。
func extractWeakValidator(header http.Header) string {
	if etag := header.Get("ETag"); etag != "" {
		return "etag:" + etag
	}
	if lastMod := header.Get("Last-Modified"); lastMod != "" {
		return "last-modified:" + lastMod
	}
	return ""
}
