package reconcile

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ragedizzer/conwatch/internal/model"
)

// mockConventionRepo はConventionRepositoryのモック実装。
type mockConventionRepo struct {
	findByIDFunc func(ctx context.Context, id string) (*model.Convention, error)
	updated      []*model.Convention
}

func (m *mockConventionRepo) FindByID(ctx context.Context, id string) (*model.Convention, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockConventionRepo) FindByNameAndSite(ctx context.Context, name, siteURL string) (*model.Convention, error) {
	return nil, nil
}

func (m *mockConventionRepo) Create(ctx context.Context, conv *model.Convention) error {
	return nil
}

func (m *mockConventionRepo) Update(ctx context.Context, conv *model.Convention) error {
	copied := *conv
	m.updated = append(m.updated, &copied)
	return nil
}

func (m *mockConventionRepo) DeleteByID(ctx context.Context, id string) error {
	return nil
}

// mockWindowRepo はSignUpWindowRepositoryのモック実装。
type mockWindowRepo struct {
	windows map[model.SignUpType]*model.SignUpWindow
	created []*model.SignUpWindow
	updated []*model.SignUpWindow
}

func (m *mockWindowRepo) FindByConventionAndType(ctx context.Context, conventionID string, t model.SignUpType) (*model.SignUpWindow, error) {
	if w, ok := m.windows[t]; ok {
		copied := *w
		return &copied, nil
	}
	return nil, nil
}

func (m *mockWindowRepo) ListByConvention(ctx context.Context, conventionID string) ([]*model.SignUpWindow, error) {
	return nil, nil
}

func (m *mockWindowRepo) Create(ctx context.Context, w *model.SignUpWindow) error {
	copied := *w
	m.created = append(m.created, &copied)
	return nil
}

func (m *mockWindowRepo) Update(ctx context.Context, w *model.SignUpWindow) error {
	copied := *w
	m.updated = append(m.updated, &copied)
	return nil
}

// passthroughSanitizer はタグ除去相当として前後空白のみ除去するモック。
type passthroughSanitizer struct{}

func (passthroughSanitizer) Sanitize(raw string) string {
	return strings.TrimSpace(raw)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func existingConvention() *model.Convention {
	start := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 22, 0, 0, 0, 0, time.UTC)
	return &model.Convention{
		ID:        "conv-1",
		Name:      "Example Expo",
		SiteURL:   "https://expo.example.com",
		StartDate: &start,
		EndDate:   &end,
		Tags:      []model.ConventionTag{model.TagGame},
	}
}

func newTestReconciler(convRepo *mockConventionRepo, windowRepo *mockWindowRepo) *Reconciler {
	return NewReconciler(convRepo, windowRepo, passthroughSanitizer{}, testLogger())
}

func strPtr(s string) *string                            { return &s }
func timePtr(t time.Time) *time.Time                     { return &t }
func statusPtr(s model.SignUpStatus) *model.SignUpStatus { return &s }

// TestApplyBatch_NonNullAndDifferentRule は「非nullかつ既存値と異なる場合のみ更新」を検証する。
func TestApplyBatch_NonNullAndDifferentRule(t *testing.T) {
	conv := existingConvention()
	convRepo := &mockConventionRepo{
		findByIDFunc: func(ctx context.Context, id string) (*model.Convention, error) {
			copied := *conv
			return &copied, nil
		},
	}
	windowRepo := &mockWindowRepo{}
	r := newTestReconciler(convRepo, windowRepo)

	newStart := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	newEnd := time.Date(2026, 4, 12, 0, 0, 0, 0, time.UTC)
	cs, err := r.ApplyBatch(context.Background(), "conv-1", []SourceBatch{
		{
			Kind: model.SourceKindOfficial,
			Findings: &model.Findings{
				Convention: &model.ConventionFindings{
					Name:      strPtr("Example Expo"), // 既存値と同一なので変更なし
					StartDate: &newStart,
					EndDate:   &newEnd,
				},
				ExtractedAt: time.Now(),
			},
		},
	})
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	if !cs.ConventionDatesChanged {
		t.Error("ConventionDatesChanged = false, want true")
	}
	if len(cs.Changes) != 2 {
		t.Errorf("Changes = %d件, want 2件 (start_date, end_date)", len(cs.Changes))
	}
	for _, ch := range cs.Changes {
		if ch.Field == "name" {
			t.Error("同一値のnameが変更として記録された")
		}
	}
	if len(convRepo.updated) != 1 {
		t.Fatalf("Update呼び出し = %d回, want 1回", len(convRepo.updated))
	}
	if !convRepo.updated[0].StartDate.Equal(newStart) {
		t.Errorf("StartDate = %v, want %v", convRepo.updated[0].StartDate, newStart)
	}
}

// TestApplyBatch_NilFieldsDoNotOverwrite はnilフィールドが既存値を消さないことを検証する。
func TestApplyBatch_NilFieldsDoNotOverwrite(t *testing.T) {
	conv := existingConvention()
	convRepo := &mockConventionRepo{
		findByIDFunc: func(ctx context.Context, id string) (*model.Convention, error) {
			copied := *conv
			return &copied, nil
		},
	}
	r := newTestReconciler(convRepo, &mockWindowRepo{})

	cs, err := r.ApplyBatch(context.Background(), "conv-1", []SourceBatch{
		{
			Kind: model.SourceKindNews,
			Findings: &model.Findings{
				Convention:  &model.ConventionFindings{NextEditionAnnounced: boolPtr(true)},
				ExtractedAt: time.Now(),
			},
		},
	})
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	if len(cs.Changes) != 1 || cs.Changes[0].Field != "next_edition_announced" {
		t.Errorf("Changes = %+v, want next_edition_announcedの1件のみ", cs.Changes)
	}
	if cs.ConventionDatesChanged {
		t.Error("日程フィールドがnilなのにConventionDatesChanged = true")
	}
	if len(convRepo.updated) != 1 {
		t.Fatalf("Update呼び出し = %d回, want 1回", len(convRepo.updated))
	}
	if convRepo.updated[0].StartDate == nil || convRepo.updated[0].Name != "Example Expo" {
		t.Error("nilフィールドにより既存値が消された")
	}
}

func boolPtr(b bool) *bool { return &b }

// TestApplyBatch_SpecificityWins は種別優先度（tickets > news）による衝突解決を検証する。
func TestApplyBatch_SpecificityWins(t *testing.T) {
	convRepo := &mockConventionRepo{
		findByIDFunc: func(ctx context.Context, id string) (*model.Convention, error) {
			copied := *existingConvention()
			return &copied, nil
		},
	}
	windowRepo := &mockWindowRepo{}
	r := newTestReconciler(convRepo, windowRepo)

	ticketsOpen := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	newsOpen := time.Date(2026, 2, 5, 10, 0, 0, 0, time.UTC)
	baseAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	cs, err := r.ApplyBatch(context.Background(), "conv-1", []SourceBatch{
		{
			// newsの方が抽出が新しくても、ticketsの特異度が勝つ
			Kind: model.SourceKindNews,
			Findings: &model.Findings{
				SignUps:     []model.SignUpFinding{{Type: model.SignUpTypeAttendee, OpenAt: &newsOpen}},
				ExtractedAt: baseAt.Add(time.Hour),
			},
		},
		{
			Kind: model.SourceKindTickets,
			Findings: &model.Findings{
				SignUps:     []model.SignUpFinding{{Type: model.SignUpTypeAttendee, OpenAt: &ticketsOpen}},
				ExtractedAt: baseAt,
			},
		},
	})
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	if len(windowRepo.created) != 1 {
		t.Fatalf("作成された申込枠 = %d件, want 1件", len(windowRepo.created))
	}
	if !windowRepo.created[0].OpenAt.Equal(ticketsOpen) {
		t.Errorf("OpenAt = %v, want ticketsソースの %v", windowRepo.created[0].OpenAt, ticketsOpen)
	}
	if len(cs.CreatedWindows) != 1 || cs.CreatedWindows[0] != model.SignUpTypeAttendee {
		t.Errorf("CreatedWindows = %v, want [attendee]", cs.CreatedWindows)
	}
}

// TestApplyBatch_TieBrokenByRecency は同一特異度の同点が抽出時刻で解決されることを検証する。
func TestApplyBatch_TieBrokenByRecency(t *testing.T) {
	convRepo := &mockConventionRepo{
		findByIDFunc: func(ctx context.Context, id string) (*model.Convention, error) {
			copied := *existingConvention()
			return &copied, nil
		},
	}
	windowRepo := &mockWindowRepo{}
	r := newTestReconciler(convRepo, windowRepo)

	olderOpen := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	newerOpen := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	baseAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := r.ApplyBatch(context.Background(), "conv-1", []SourceBatch{
		{
			Kind: model.SourceKindNews,
			Findings: &model.Findings{
				SignUps:     []model.SignUpFinding{{Type: model.SignUpTypeVendor, OpenAt: &olderOpen}},
				ExtractedAt: baseAt,
			},
		},
		{
			Kind: model.SourceKindNews,
			Findings: &model.Findings{
				SignUps:     []model.SignUpFinding{{Type: model.SignUpTypeVendor, OpenAt: &newerOpen}},
				ExtractedAt: baseAt.Add(time.Hour),
			},
		},
	})
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	if len(windowRepo.created) != 1 {
		t.Fatalf("作成された申込枠 = %d件, want 1件", len(windowRepo.created))
	}
	if !windowRepo.created[0].OpenAt.Equal(newerOpen) {
		t.Errorf("OpenAt = %v, want 新しい抽出の %v", windowRepo.created[0].OpenAt, newerOpen)
	}
}

// TestApplyBatch_LinkOnlyChangeNotMaterial はリンクのみの変更が
// UpdatedWindowsに記録されないことを検証する。
func TestApplyBatch_LinkOnlyChangeNotMaterial(t *testing.T) {
	openAt := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	convRepo := &mockConventionRepo{
		findByIDFunc: func(ctx context.Context, id string) (*model.Convention, error) {
			copied := *existingConvention()
			return &copied, nil
		},
	}
	windowRepo := &mockWindowRepo{
		windows: map[model.SignUpType]*model.SignUpWindow{
			model.SignUpTypeAttendee: {
				ID:           "win-1",
				ConventionID: "conv-1",
				Type:         model.SignUpTypeAttendee,
				Link:         "https://old.example.com/tickets",
				OpenAt:       &openAt,
				Status:       model.SignUpStatusAnnounced,
			},
		},
	}
	r := newTestReconciler(convRepo, windowRepo)

	cs, err := r.ApplyBatch(context.Background(), "conv-1", []SourceBatch{
		{
			Kind: model.SourceKindTickets,
			Findings: &model.Findings{
				SignUps: []model.SignUpFinding{{
					Type: model.SignUpTypeAttendee,
					Link: strPtr("https://new.example.com/tickets"),
				}},
				ExtractedAt: time.Now(),
			},
		},
	})
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	if len(cs.UpdatedWindows) != 0 {
		t.Errorf("UpdatedWindows = %v, want 空（リンクのみの変更）", cs.UpdatedWindows)
	}
	if len(cs.Changes) != 1 || cs.Changes[0].Field != "link" {
		t.Errorf("Changes = %+v, want linkの1件", cs.Changes)
	}
	if len(windowRepo.updated) != 1 {
		t.Errorf("Update呼び出し = %d回, want 1回", len(windowRepo.updated))
	}
}

// TestApplyBatch_StatusChangeIsMaterial は状態変更がUpdatedWindowsへ記録されることを検証する。
func TestApplyBatch_StatusChangeIsMaterial(t *testing.T) {
	convRepo := &mockConventionRepo{
		findByIDFunc: func(ctx context.Context, id string) (*model.Convention, error) {
			copied := *existingConvention()
			return &copied, nil
		},
	}
	windowRepo := &mockWindowRepo{
		windows: map[model.SignUpType]*model.SignUpWindow{
			model.SignUpTypeAttendee: {
				ID:           "win-1",
				ConventionID: "conv-1",
				Type:         model.SignUpTypeAttendee,
				Status:       model.SignUpStatusAnnounced,
			},
		},
	}
	r := newTestReconciler(convRepo, windowRepo)

	cs, err := r.ApplyBatch(context.Background(), "conv-1", []SourceBatch{
		{
			Kind: model.SourceKindTickets,
			Findings: &model.Findings{
				SignUps: []model.SignUpFinding{{
					Type:   model.SignUpTypeAttendee,
					Status: statusPtr(model.SignUpStatusOpen),
				}},
				ExtractedAt: time.Now(),
			},
		},
	})
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	if len(cs.UpdatedWindows) != 1 || cs.UpdatedWindows[0] != model.SignUpTypeAttendee {
		t.Errorf("UpdatedWindows = %v, want [attendee]", cs.UpdatedWindows)
	}
}

// TestApplyBatch_InvalidDateRangeDiscarded はstart > endとなる候補の破棄を検証する。
func TestApplyBatch_InvalidDateRangeDiscarded(t *testing.T) {
	conv := existingConvention()
	convRepo := &mockConventionRepo{
		findByIDFunc: func(ctx context.Context, id string) (*model.Convention, error) {
			copied := *conv
			return &copied, nil
		},
	}
	r := newTestReconciler(convRepo, &mockWindowRepo{})

	// 既存のend(3/22)より後のstart候補のみが届いた場合
	badStart := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	cs, err := r.ApplyBatch(context.Background(), "conv-1", []SourceBatch{
		{
			Kind: model.SourceKindSocial,
			Findings: &model.Findings{
				Convention:  &model.ConventionFindings{StartDate: &badStart},
				ExtractedAt: time.Now(),
			},
		},
	})
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	if cs.ConventionDatesChanged {
		t.Error("不正な日程候補が適用された")
	}
	if len(convRepo.updated) != 0 {
		t.Errorf("Update呼び出し = %d回, want 0回", len(convRepo.updated))
	}
}

// TestApply_UnlinkedSource はコンベンション未紐付けソースのスキップを検証する。
func TestApply_UnlinkedSource(t *testing.T) {
	convRepo := &mockConventionRepo{}
	r := newTestReconciler(convRepo, &mockWindowRepo{})

	src := &model.Source{ID: "src-1", Kind: model.SourceKindNews, URL: "https://news.example.org/article"}
	cs, err := r.Apply(context.Background(), src, &model.Findings{
		Convention:  &model.ConventionFindings{Name: strPtr("Ghost Con")},
		ExtractedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if !cs.Empty() {
		t.Errorf("未紐付けソースから変更が生成された: %+v", cs)
	}
}

// TestApplyBatch_UnknownConvention は存在しないコンベンションへの適用がnot_foundになることを検証する。
func TestApplyBatch_UnknownConvention(t *testing.T) {
	r := newTestReconciler(&mockConventionRepo{}, &mockWindowRepo{})

	_, err := r.ApplyBatch(context.Background(), "missing", []SourceBatch{
		{Kind: model.SourceKindNews, Findings: &model.Findings{ExtractedAt: time.Now()}},
	})
	if err == nil {
		t.Fatal("エラーが返されるべき")
	}
	if !model.IsKind(err, model.ErrKindNotFound) {
		t.Errorf("エラー種別 = %v, want %v", model.KindOf(err), model.ErrKindNotFound)
	}
}
