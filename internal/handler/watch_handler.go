package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/ragedizzer/conwatch/internal/middleware"
	"github.com/ragedizzer/conwatch/internal/model"
	"github.com/ragedizzer/conwatch/internal/repository"
)

// SubscriptionRematerializer は購読の作成/削除直後のリマインダー再計算インターフェース。
type SubscriptionRematerializer interface {
	Materialize(ctx context.Context, subscriptionID string) error
}

// WatchHandler は監視購読のHTTPハンドラー。
// 購読の作成・削除はリマインダー集合の再計算を同期的にトリガーする。
type WatchHandler struct {
	watchRepo    repository.WatchRepository
	userRepo     repository.UserRepository
	convRepo     repository.ConventionRepository
	materializer SubscriptionRematerializer
}

// NewWatchHandler はWatchHandlerを生成する。
func NewWatchHandler(
	watchRepo repository.WatchRepository,
	userRepo repository.UserRepository,
	convRepo repository.ConventionRepository,
	materializer SubscriptionRematerializer,
) *WatchHandler {
	return &WatchHandler{
		watchRepo:    watchRepo,
		userRepo:     userRepo,
		convRepo:     convRepo,
		materializer: materializer,
	}
}

// createWatchRequest は購読作成リクエストのボディ。
type createWatchRequest struct {
	UserID             string  `json:"user_id"`
	ConventionID       string  `json:"convention_id"`
	SignUpType         *string `json:"signup_type"`
	LeadDays           *int    `json:"lead_days"`
	RemindOnOpen       bool    `json:"remind_on_open"`
	RemindBeforeOpen   bool    `json:"remind_before_open"`
	RemindOnEventStart bool    `json:"remind_on_event_start"`
}

// Validate はリクエストの妥当性を検証する。
func (r createWatchRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserID, validation.Required),
		validation.Field(&r.ConventionID, validation.Required),
		validation.Field(&r.SignUpType, validation.By(validOptionalSignUpType)),
		validation.Field(&r.LeadDays, validation.By(validOptionalLeadDays)),
	)
}

// validOptionalSignUpType は指定された場合のみ申込枠種別を検証する。
func validOptionalSignUpType(value any) error {
	t, _ := value.(*string)
	if t == nil {
		return nil
	}
	if !model.ValidSignUpType(model.SignUpType(*t)) {
		return validation.NewError("validation_signup_type", "attendee/press/pro/vendor/artistのいずれかを指定してください")
	}
	return nil
}

// validOptionalLeadDays は指定された場合のみリード日数を検証する。
func validOptionalLeadDays(value any) error {
	d, _ := value.(*int)
	if d == nil {
		return nil
	}
	if *d < 0 || *d > 365 {
		return validation.NewError("validation_lead_days", "lead_daysは0〜365の範囲で指定してください")
	}
	return nil
}

// watchResponse は購読情報のAPIレスポンス。
type watchResponse struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"user_id"`
	ConventionID       string    `json:"convention_id"`
	SignUpType         *string   `json:"signup_type"`
	LeadDays           *int      `json:"lead_days"`
	RemindOnOpen       bool      `json:"remind_on_open"`
	RemindBeforeOpen   bool      `json:"remind_before_open"`
	RemindOnEventStart bool      `json:"remind_on_event_start"`
	CreatedAt          time.Time `json:"created_at"`
}

func toWatchResponse(sub *model.WatchSubscription) watchResponse {
	var signupType *string
	if sub.SignUpType != nil {
		s := string(*sub.SignUpType)
		signupType = &s
	}
	return watchResponse{
		ID:                 sub.ID,
		UserID:             sub.UserID,
		ConventionID:       sub.ConventionID,
		SignUpType:         signupType,
		LeadDays:           sub.LeadDays,
		RemindOnOpen:       sub.RemindOnOpen,
		RemindBeforeOpen:   sub.RemindBeforeOpen,
		RemindOnEventStart: sub.RemindOnEventStart,
		CreatedAt:          sub.CreatedAt,
	}
}

// CreateWatch は購読を作成し、リマインダー集合を即時に再計算する。
// POST /api/watches
func (h *WatchHandler) CreateWatch(w http.ResponseWriter, r *http.Request) {
	var req createWatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "invalid_request", "リクエストボディの解析に失敗しました。")
		return
	}
	if err := req.Validate(); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	user, err := h.userRepo.FindByID(r.Context(), req.UserID)
	if err != nil {
		middleware.WriteDomainError(w, err)
		return
	}
	if user == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, "not_found", "指定されたユーザーが見つかりません。")
		return
	}

	conv, err := h.convRepo.FindByID(r.Context(), req.ConventionID)
	if err != nil {
		middleware.WriteDomainError(w, err)
		return
	}
	if conv == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, "not_found", "指定されたコンベンションが見つかりません。")
		return
	}

	sub := &model.WatchSubscription{
		ID:                 uuid.NewString(),
		UserID:             req.UserID,
		ConventionID:       req.ConventionID,
		LeadDays:           req.LeadDays,
		RemindOnOpen:       req.RemindOnOpen,
		RemindBeforeOpen:   req.RemindBeforeOpen,
		RemindOnEventStart: req.RemindOnEventStart,
	}
	if req.SignUpType != nil {
		t := model.SignUpType(*req.SignUpType)
		sub.SignUpType = &t
	}

	if err := h.watchRepo.Create(r.Context(), sub); err != nil {
		middleware.WriteDomainError(w, err)
		return
	}

	// 作成直後に再計算し、open_atが既知ならすぐpendingインスタンスが立つ
	if err := h.materializer.Materialize(r.Context(), sub.ID); err != nil {
		middleware.WriteDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toWatchResponse(sub))
}

// DeleteWatch は購読を削除する。リマインダーはCASCADE削除される。
// DELETE /api/watches/{id}
func (h *WatchHandler) DeleteWatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, err := h.watchRepo.FindByID(r.Context(), id)
	if err != nil {
		middleware.WriteDomainError(w, err)
		return
	}
	if sub == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, "not_found", "指定された購読が見つかりません。")
		return
	}

	if err := h.watchRepo.DeleteByID(r.Context(), id); err != nil {
		middleware.WriteDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListUserWatches はユーザーの購読一覧を返す。
// GET /api/users/{id}/watches
func (h *WatchHandler) ListUserWatches(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	user, err := h.userRepo.FindByID(r.Context(), userID)
	if err != nil {
		middleware.WriteDomainError(w, err)
		return
	}
	if user == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, "not_found", "指定されたユーザーが見つかりません。")
		return
	}

	subs, err := h.watchRepo.ListByUserID(r.Context(), userID)
	if err != nil {
		middleware.WriteDomainError(w, err)
		return
	}

	resp := make([]watchResponse, 0, len(subs))
	for _, sub := range subs {
		resp = append(resp, toWatchResponse(sub))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
