// Package handler は管理APIのHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/ragedizzer/conwatch/internal/middleware"
	"github.com/ragedizzer/conwatch/internal/model"
	"github.com/ragedizzer/conwatch/internal/repository"
)

// URLGuard は登録URLの事前SSRF検証インターフェース。
// ワーカーのフェッチ時にも同じ検証が行われるが、内部ネットワークを指すURLは
// 登録時点で弾いてユーザーへ即時にエラーを返す。
type URLGuard interface {
	ValidateURL(rawURL string) error
}

// SourceHandler はスクレイプソース管理のHTTPハンドラー。
type SourceHandler struct {
	srcRepo  repository.SourceRepository
	jobRepo  repository.ScrapeJobRepository
	urlGuard URLGuard
}

// NewSourceHandler はSourceHandlerを生成する。
func NewSourceHandler(srcRepo repository.SourceRepository, jobRepo repository.ScrapeJobRepository, urlGuard URLGuard) *SourceHandler {
	return &SourceHandler{
		srcRepo:  srcRepo,
		jobRepo:  jobRepo,
		urlGuard: urlGuard,
	}
}

// createSourceRequest はソース登録リクエストのボディ。
type createSourceRequest struct {
	Kind         string  `json:"kind"`
	URL          string  `json:"url"`
	ConventionID *string `json:"convention_id"`
}

// Validate はリクエストの妥当性を検証する。
func (r createSourceRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Kind, validation.Required, validation.By(validSourceKind)),
		validation.Field(&r.URL, validation.Required, validation.Length(1, 2048), validation.By(validHTTPURL)),
	)
}

// validSourceKind は既知のソース種別かを検証する。
func validSourceKind(value any) error {
	k, _ := value.(string)
	if !model.ValidSourceKind(model.SourceKind(k)) {
		return validation.NewError("validation_source_kind", "tickets/official/news/socialのいずれかを指定してください")
	}
	return nil
}

// validHTTPURL はhttp(s)の絶対URLかを検証する。
func validHTTPURL(value any) error {
	raw, _ := value.(string)
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return validation.NewError("validation_url", "http(s)の絶対URLを指定してください")
	}
	return nil
}

// sourceResponse はソース情報のAPIレスポンス。
type sourceResponse struct {
	ID                string     `json:"id"`
	Kind              string     `json:"kind"`
	URL               string     `json:"url"`
	ConventionID      *string    `json:"convention_id"`
	Enabled           bool       `json:"enabled"`
	LastCheckedAt     *time.Time `json:"last_checked_at"`
	LastChangedAt     *time.Time `json:"last_changed_at"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	NextCheckAt       time.Time  `json:"next_check_at"`
}

func toSourceResponse(src *model.Source) sourceResponse {
	return sourceResponse{
		ID:                src.ID,
		Kind:              string(src.Kind),
		URL:               src.URL,
		ConventionID:      src.ConventionID,
		Enabled:           src.Enabled,
		LastCheckedAt:     src.LastCheckedAt,
		LastChangedAt:     src.LastChangedAt,
		ConsecutiveErrors: src.ConsecutiveErrors,
		NextCheckAt:       src.NextCheckAt,
	}
}

// scrapeJobResponse はスクレイプジョブ履歴のAPIレスポンス。
type scrapeJobResponse struct {
	ID          string     `json:"id"`
	SourceID    string     `json:"source_id"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at"`
	Status      string     `json:"status"`
	ErrorDetail string     `json:"error_detail,omitempty"`
}

func toScrapeJobResponse(job *model.ScrapeJob) scrapeJobResponse {
	return scrapeJobResponse{
		ID:          job.ID,
		SourceID:    job.SourceID,
		ScheduledAt: job.ScheduledAt,
		StartedAt:   job.StartedAt,
		FinishedAt:  job.FinishedAt,
		Status:      string(job.Status),
		ErrorDetail: job.ErrorDetail,
	}
}

// CreateSource はソースを登録する。次回チェックは即時に予約される。
// POST /api/sources
func (h *SourceHandler) CreateSource(w http.ResponseWriter, r *http.Request) {
	var req createSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "invalid_request", "リクエストボディの解析に失敗しました。")
		return
	}
	if err := req.Validate(); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	if err := h.urlGuard.ValidateURL(req.URL); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "unsafe_url", "内部ネットワークを指すURLは登録できません。")
		return
	}

	now := time.Now().UTC()
	src := &model.Source{
		ID:           uuid.NewString(),
		Kind:         model.SourceKind(req.Kind),
		URL:          req.URL,
		ConventionID: req.ConventionID,
		Enabled:      true,
		NextCheckAt:  now,
	}

	if err := h.srcRepo.Create(r.Context(), src); err != nil {
		middleware.WriteDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toSourceResponse(src))
}

// ListSources はソース一覧を返す。
// GET /api/sources
func (h *SourceHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.srcRepo.List(r.Context())
	if err != nil {
		middleware.WriteDomainError(w, err)
		return
	}

	resp := make([]sourceResponse, 0, len(sources))
	for _, src := range sources {
		resp = append(resp, toSourceResponse(src))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetSource はソース詳細を返す。
// GET /api/sources/{id}
func (h *SourceHandler) GetSource(w http.ResponseWriter, r *http.Request) {
	src, err := h.srcRepo.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteDomainError(w, err)
		return
	}
	if src == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, "not_found", "指定されたソースが見つかりません。")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSourceResponse(src))
}

// EnableSource はソースを有効化する。
// POST /api/sources/{id}/enable
func (h *SourceHandler) EnableSource(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

// DisableSource はソースを無効化する。スケジューラの取得対象から外れる。
// POST /api/sources/{id}/disable
func (h *SourceHandler) DisableSource(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *SourceHandler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := chi.URLParam(r, "id")

	src, err := h.srcRepo.FindByID(r.Context(), id)
	if err != nil {
		middleware.WriteDomainError(w, err)
		return
	}
	if src == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, "not_found", "指定されたソースが見つかりません。")
		return
	}

	if err := h.srcRepo.SetEnabled(r.Context(), id, enabled); err != nil {
		middleware.WriteDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListSourceJobs はソースのスクレイプジョブ履歴を新しい順に返す。
// GET /api/sources/{id}/jobs?limit=20
func (h *SourceHandler) ListSourceJobs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	src, err := h.srcRepo.FindByID(r.Context(), id)
	if err != nil {
		middleware.WriteDomainError(w, err)
		return
	}
	if src == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, "not_found", "指定されたソースが見つかりません。")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, "validation_failed", "limitは1〜100の整数を指定してください。")
			return
		}
		limit = n
	}

	jobs, err := h.jobRepo.ListBySource(r.Context(), id, limit)
	if err != nil {
		middleware.WriteDomainError(w, err)
		return
	}

	resp := make([]scrapeJobResponse, 0, len(jobs))
	for _, job := range jobs {
		resp = append(resp, toScrapeJobResponse(job))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
