package reminder

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ragedizzer/conwatch/internal/model"
)

// mockUserRepo はUserRepositoryのモック実装。
type mockUserRepo struct {
	users map[string]*model.User
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return m.users[id], nil
}

// mockConvRepo はConventionRepositoryのモック実装。
type mockConvRepo struct {
	conventions map[string]*model.Convention
}

func (m *mockConvRepo) FindByID(ctx context.Context, id string) (*model.Convention, error) {
	return m.conventions[id], nil
}

func (m *mockConvRepo) FindByNameAndSite(ctx context.Context, name, siteURL string) (*model.Convention, error) {
	return nil, nil
}
func (m *mockConvRepo) Create(ctx context.Context, conv *model.Convention) error { return nil }
func (m *mockConvRepo) Update(ctx context.Context, conv *model.Convention) error { return nil }
func (m *mockConvRepo) DeleteByID(ctx context.Context, id string) error          { return nil }

// mockWindowRepo はSignUpWindowRepositoryのモック実装。
type mockWindowRepo struct {
	windows map[model.SignUpType]*model.SignUpWindow
}

func (m *mockWindowRepo) FindByConventionAndType(ctx context.Context, conventionID string, t model.SignUpType) (*model.SignUpWindow, error) {
	return m.windows[t], nil
}

func (m *mockWindowRepo) ListByConvention(ctx context.Context, conventionID string) ([]*model.SignUpWindow, error) {
	return nil, nil
}
func (m *mockWindowRepo) Create(ctx context.Context, w *model.SignUpWindow) error { return nil }
func (m *mockWindowRepo) Update(ctx context.Context, w *model.SignUpWindow) error { return nil }

// mockWatchRepo はWatchRepositoryのモック実装。
type mockWatchRepo struct {
	subs         map[string]*model.WatchSubscription
	listByTarget func(ctx context.Context, target model.WatchTarget) ([]*model.WatchSubscription, error)
}

func (m *mockWatchRepo) FindByID(ctx context.Context, id string) (*model.WatchSubscription, error) {
	return m.subs[id], nil
}

func (m *mockWatchRepo) ListByTarget(ctx context.Context, target model.WatchTarget) ([]*model.WatchSubscription, error) {
	if m.listByTarget != nil {
		return m.listByTarget(ctx, target)
	}
	return nil, nil
}

func (m *mockWatchRepo) ListByUserID(ctx context.Context, userID string) ([]*model.WatchSubscription, error) {
	return nil, nil
}
func (m *mockWatchRepo) Create(ctx context.Context, w *model.WatchSubscription) error { return nil }
func (m *mockWatchRepo) DeleteByID(ctx context.Context, id string) error              { return nil }

// syncCall はSyncForSubscription呼び出しの記録。
type syncCall struct {
	subscriptionID string
	desired        []model.DesiredReminder
}

// mockReminderRepo はReminderRepositoryのモック実装。
type mockReminderRepo struct {
	syncCalls []syncCall
	syncFunc  func(ctx context.Context, subscriptionID string, desired []model.DesiredReminder) (int, int, error)
}

func (m *mockReminderRepo) ListActiveBySubscription(ctx context.Context, subscriptionID string) ([]*model.ReminderInstance, error) {
	return nil, nil
}

func (m *mockReminderRepo) SyncForSubscription(ctx context.Context, subscriptionID string, desired []model.DesiredReminder) (int, int, error) {
	m.syncCalls = append(m.syncCalls, syncCall{subscriptionID: subscriptionID, desired: desired})
	if m.syncFunc != nil {
		return m.syncFunc(ctx, subscriptionID, desired)
	}
	return len(desired), 0, nil
}

func (m *mockReminderRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.DueReminder, error) {
	return nil, nil
}
func (m *mockReminderRepo) Claim(ctx context.Context, id string) (bool, error) { return true, nil }
func (m *mockReminderRepo) RequeueStaleClaims(ctx context.Context, olderThan time.Time) (int, error) {
	return 0, nil
}
func (m *mockReminderRepo) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	return nil
}
func (m *mockReminderRepo) MarkDeliveryFailure(ctx context.Context, id string, lastError string, final bool) error {
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func intPtr(i int) *int                            { return &i }
func strPtr(s string) *string                      { return &s }
func typePtr(t model.SignUpType) *model.SignUpType { return &t }

// TestBuildDesiredSet_BeforeOpenLeadDays はリード日数の計算を検証する。
func TestBuildDesiredSet_BeforeOpenLeadDays(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	openAt := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	sub := &model.WatchSubscription{
		ID:               "sub-1",
		SignUpType:       typePtr(model.SignUpTypeAttendee),
		RemindBeforeOpen: true,
	}
	user := &model.User{Timezone: "UTC", DefaultLeadDays: 7}
	window := &model.SignUpWindow{OpenAt: &openAt}

	desired := BuildDesiredSet(sub, user, nil, window, now)

	if len(desired) != 1 {
		t.Fatalf("desired = %d件, want 1件", len(desired))
	}
	want := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	if !desired[0].TriggerAt.Equal(want) {
		t.Errorf("TriggerAt = %v, want %v", desired[0].TriggerAt, want)
	}
	if desired[0].Kind != model.ReminderKindBeforeOpen {
		t.Errorf("Kind = %v, want %v", desired[0].Kind, model.ReminderKindBeforeOpen)
	}
	if !desired[0].CreateIfMissing {
		t.Error("未来のトリガーなのにCreateIfMissing = false")
	}
}

// TestBuildDesiredSet_LeadDaysOverride は購読の上書きリード日数が優先されることを検証する。
func TestBuildDesiredSet_LeadDaysOverride(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	openAt := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	sub := &model.WatchSubscription{
		ID:               "sub-1",
		SignUpType:       typePtr(model.SignUpTypeVendor),
		LeadDays:         intPtr(3),
		RemindBeforeOpen: true,
	}
	user := &model.User{Timezone: "UTC", DefaultLeadDays: 7}
	window := &model.SignUpWindow{OpenAt: &openAt}

	desired := BuildDesiredSet(sub, user, nil, window, now)

	if len(desired) != 1 {
		t.Fatalf("desired = %d件, want 1件", len(desired))
	}
	want := time.Date(2025, 3, 7, 9, 0, 0, 0, time.UTC)
	if !desired[0].TriggerAt.Equal(want) {
		t.Errorf("TriggerAt = %v, want 上書き3日前の %v", desired[0].TriggerAt, want)
	}
}

// TestBuildDesiredSet_OnOpenExactTime はon_openがopen_atちょうどであることを検証する。
func TestBuildDesiredSet_OnOpenExactTime(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	openAt := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	sub := &model.WatchSubscription{
		ID:           "sub-1",
		SignUpType:   typePtr(model.SignUpTypeAttendee),
		RemindOnOpen: true,
	}
	user := &model.User{Timezone: "UTC", DefaultLeadDays: 7}
	window := &model.SignUpWindow{OpenAt: &openAt}

	desired := BuildDesiredSet(sub, user, nil, window, now)

	if len(desired) != 1 {
		t.Fatalf("desired = %d件, want 1件", len(desired))
	}
	if !desired[0].TriggerAt.Equal(openAt) {
		t.Errorf("TriggerAt = %v, want %v", desired[0].TriggerAt, openAt)
	}
	if desired[0].Kind != model.ReminderKindOnOpen {
		t.Errorf("Kind = %v, want %v", desired[0].Kind, model.ReminderKindOnOpen)
	}
}

// TestBuildDesiredSet_EventStartUserTimezone は開催日リマインダーが
// ユーザータイムゾーンの00:00（UTC換算）になることを検証する。
func TestBuildDesiredSet_EventStartUserTimezone(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	startDate := time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)

	sub := &model.WatchSubscription{
		ID:                 "sub-1",
		RemindOnEventStart: true,
	}
	user := &model.User{Timezone: "Asia/Tokyo", DefaultLeadDays: 7}
	conv := &model.Convention{StartDate: &startDate}

	desired := BuildDesiredSet(sub, user, conv, nil, now)

	if len(desired) != 1 {
		t.Fatalf("desired = %d件, want 1件", len(desired))
	}
	// 東京の2026-08-14 00:00 = UTC 2026-08-13 15:00
	want := time.Date(2026, 8, 13, 15, 0, 0, 0, time.UTC)
	if !desired[0].TriggerAt.Equal(want) {
		t.Errorf("TriggerAt = %v, want %v", desired[0].TriggerAt, want)
	}
	if desired[0].Kind != model.ReminderKindEventStart {
		t.Errorf("Kind = %v, want %v", desired[0].Kind, model.ReminderKindEventStart)
	}
}

// TestBuildDesiredSet_PastTriggerNotCreatable は過去トリガーの
// CreateIfMissing = falseを検証する。
func TestBuildDesiredSet_PastTriggerNotCreatable(t *testing.T) {
	now := time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC)
	openAt := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	sub := &model.WatchSubscription{
		ID:               "sub-1",
		SignUpType:       typePtr(model.SignUpTypeAttendee),
		RemindBeforeOpen: true,
		RemindOnOpen:     true,
	}
	user := &model.User{Timezone: "UTC", DefaultLeadDays: 7}
	window := &model.SignUpWindow{OpenAt: &openAt}

	desired := BuildDesiredSet(sub, user, nil, window, now)

	if len(desired) != 2 {
		t.Fatalf("desired = %d件, want 2件", len(desired))
	}
	for _, d := range desired {
		switch d.Kind {
		case model.ReminderKindBeforeOpen:
			// 3/3はnow(3/9)より過去
			if d.CreateIfMissing {
				t.Error("過去トリガーのbefore_openがCreateIfMissing = true")
			}
		case model.ReminderKindOnOpen:
			// 3/10はnowより未来
			if !d.CreateIfMissing {
				t.Error("未来トリガーのon_openがCreateIfMissing = false")
			}
		}
	}
}

// TestBuildDesiredSet_OpenAtLost はopen_atが失われた場合に集合が空になることを検証する。
func TestBuildDesiredSet_OpenAtLost(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	sub := &model.WatchSubscription{
		ID:               "sub-1",
		SignUpType:       typePtr(model.SignUpTypeAttendee),
		RemindBeforeOpen: true,
		RemindOnOpen:     true,
	}
	user := &model.User{Timezone: "UTC", DefaultLeadDays: 7}
	window := &model.SignUpWindow{OpenAt: nil}

	desired := BuildDesiredSet(sub, user, nil, window, now)
	if len(desired) != 0 {
		t.Errorf("desired = %d件, want 0件（open_at消失で全キャンセル）", len(desired))
	}
}

// TestBuildDesiredSet_TogglesOff は全トグル無効時に集合が空になることを検証する。
func TestBuildDesiredSet_TogglesOff(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	openAt := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	sub := &model.WatchSubscription{
		ID:         "sub-1",
		SignUpType: typePtr(model.SignUpTypeAttendee),
	}
	user := &model.User{Timezone: "UTC", DefaultLeadDays: 7}
	window := &model.SignUpWindow{OpenAt: &openAt}

	desired := BuildDesiredSet(sub, user, nil, window, now)
	if len(desired) != 0 {
		t.Errorf("desired = %d件, want 0件", len(desired))
	}
}

// TestBuildDesiredSet_Deterministic は同一入力に対する決定性を検証する。
func TestBuildDesiredSet_Deterministic(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	openAt := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	sub := &model.WatchSubscription{
		ID:               "sub-1",
		SignUpType:       typePtr(model.SignUpTypeAttendee),
		RemindBeforeOpen: true,
		RemindOnOpen:     true,
	}
	user := &model.User{Timezone: "UTC", DefaultLeadDays: 7}
	window := &model.SignUpWindow{OpenAt: &openAt}

	first := BuildDesiredSet(sub, user, nil, window, now)
	second := BuildDesiredSet(sub, user, nil, window, now)

	if len(first) != len(second) {
		t.Fatalf("件数が一致しない: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("desired[%d]が一致しない: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func newTestMaterializer(
	watchRepo *mockWatchRepo,
	reminderRepo *mockReminderRepo,
	users map[string]*model.User,
	conventions map[string]*model.Convention,
	windows map[model.SignUpType]*model.SignUpWindow,
) *Materializer {
	m := NewMaterializer(
		&mockUserRepo{users: users},
		&mockConvRepo{conventions: conventions},
		&mockWindowRepo{windows: windows},
		watchRepo,
		reminderRepo,
		nopCollector{},
		testLogger(),
	)
	m.nowFn = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	return m
}

// TestMaterialize_DeletedSubscriptionCancelsRemaining は削除済み購読の
// 残存インスタンス整理を検証する。
func TestMaterialize_DeletedSubscriptionCancelsRemaining(t *testing.T) {
	reminderRepo := &mockReminderRepo{}
	m := newTestMaterializer(&mockWatchRepo{}, reminderRepo, nil, nil, nil)

	if err := m.Materialize(context.Background(), "gone-sub"); err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	if len(reminderRepo.syncCalls) != 1 {
		t.Fatalf("SyncForSubscription呼び出し = %d回, want 1回", len(reminderRepo.syncCalls))
	}
	call := reminderRepo.syncCalls[0]
	if call.subscriptionID != "gone-sub" || len(call.desired) != 0 {
		t.Errorf("削除済み購読に空でない希望集合が渡された: %+v", call)
	}
}

// TestMaterialize_PassesDesiredSet は周辺状態から計算した希望集合が
// そのままリポジトリへ渡ることを検証する。
func TestMaterialize_PassesDesiredSet(t *testing.T) {
	openAt := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	watchRepo := &mockWatchRepo{
		subs: map[string]*model.WatchSubscription{
			"sub-1": {
				ID:               "sub-1",
				UserID:           "user-1",
				ConventionID:     "conv-1",
				SignUpType:       typePtr(model.SignUpTypeAttendee),
				RemindBeforeOpen: true,
				RemindOnOpen:     true,
			},
		},
	}
	reminderRepo := &mockReminderRepo{}
	m := newTestMaterializer(
		watchRepo,
		reminderRepo,
		map[string]*model.User{"user-1": {ID: "user-1", Timezone: "UTC", DefaultLeadDays: 7}},
		map[string]*model.Convention{"conv-1": {ID: "conv-1"}},
		map[model.SignUpType]*model.SignUpWindow{
			model.SignUpTypeAttendee: {ConventionID: "conv-1", Type: model.SignUpTypeAttendee, OpenAt: &openAt},
		},
	)

	if err := m.Materialize(context.Background(), "sub-1"); err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	if len(reminderRepo.syncCalls) != 1 {
		t.Fatalf("SyncForSubscription呼び出し = %d回, want 1回", len(reminderRepo.syncCalls))
	}
	desired := reminderRepo.syncCalls[0].desired
	if len(desired) != 2 {
		t.Fatalf("desired = %d件, want 2件", len(desired))
	}
}

// TestMaterializeForTargets_DeduplicatesSubscriptions は複数の監視対象に
// 一致する購読が1回だけ再計算されることを検証する。
func TestMaterializeForTargets_DeduplicatesSubscriptions(t *testing.T) {
	sub := &model.WatchSubscription{
		ID:           "sub-1",
		UserID:       "user-1",
		ConventionID: "conv-1",
	}
	watchRepo := &mockWatchRepo{
		subs: map[string]*model.WatchSubscription{"sub-1": sub},
		listByTarget: func(ctx context.Context, target model.WatchTarget) ([]*model.WatchSubscription, error) {
			return []*model.WatchSubscription{sub}, nil
		},
	}
	reminderRepo := &mockReminderRepo{}
	m := newTestMaterializer(
		watchRepo,
		reminderRepo,
		map[string]*model.User{"user-1": {ID: "user-1", Timezone: "UTC", DefaultLeadDays: 7}},
		map[string]*model.Convention{"conv-1": {ID: "conv-1"}},
		nil,
	)

	attendee := model.SignUpTypeAttendee
	targets := []model.WatchTarget{
		{ConventionID: "conv-1"},
		{ConventionID: "conv-1", SignUpType: &attendee},
	}
	if err := m.MaterializeForTargets(context.Background(), targets); err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	if len(reminderRepo.syncCalls) != 1 {
		t.Errorf("SyncForSubscription呼び出し = %d回, want 1回（重複排除）", len(reminderRepo.syncCalls))
	}
}
