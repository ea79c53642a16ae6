// Package reconcile は抽出結果をコンベンション・申込枠モデルへ統合する。
//
// Reconcilerは「非nullかつ既存値と異なる場合のみ更新する」規則で各フィールドを
// 適用し、同一バッチ内の候補値の衝突はソース種別の優先度（tickets > official >
// news > social）、同点の場合は抽出時刻の新しい方で解決する。
// 適用結果はChangesetとして返され、Materializerの再計算対象の絞り込みに使われる。
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ragedizzer/conwatch/internal/model"
	"github.com/ragedizzer/conwatch/internal/repository"
)

// TextSanitizer は抽出文字列のサニタイズ機能のインターフェース。
type TextSanitizer interface {
	Sanitize(raw string) string
}

// SourceBatch は1ソース分の抽出結果と、優先度解決に必要なソース種別を束ねる。
type SourceBatch struct {
	Kind     model.SourceKind
	Findings *model.Findings
}

// Reconciler は抽出結果の統合処理を行う。
type Reconciler struct {
	convRepo   repository.ConventionRepository
	windowRepo repository.SignUpWindowRepository
	sanitizer  TextSanitizer
	logger     *slog.Logger
}

// NewReconciler はReconcilerの新しいインスタンスを生成する。
func NewReconciler(
	convRepo repository.ConventionRepository,
	windowRepo repository.SignUpWindowRepository,
	sanitizer TextSanitizer,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		convRepo:   convRepo,
		windowRepo: windowRepo,
		sanitizer:  sanitizer,
		logger:     logger,
	}
}

// Apply は単一ソースの抽出結果をソースの紐付くコンベンションへ適用する。
// ソースがコンベンションに紐付いていない場合は空のChangesetを返す。
func (r *Reconciler) Apply(ctx context.Context, src *model.Source, findings *model.Findings) (*model.Changeset, error) {
	if src.ConventionID == nil {
		r.logger.Info("ソースがコンベンションに紐付いていないため適用をスキップします",
			slog.String("source_id", src.ID),
			slog.String("source_url", src.URL),
		)
		return &model.Changeset{}, nil
	}

	return r.ApplyBatch(ctx, *src.ConventionID, []SourceBatch{
		{Kind: src.Kind, Findings: findings},
	})
}

// ApplyBatch は複数ソースの抽出結果を1つのコンベンションへまとめて適用する。
// バッチ内の候補値の衝突は優先度規則で解決されるため、ハードエラーにはならない。
func (r *Reconciler) ApplyBatch(ctx context.Context, conventionID string, batches []SourceBatch) (*model.Changeset, error) {
	conv, err := r.convRepo.FindByID(ctx, conventionID)
	if err != nil {
		return nil, fmt.Errorf("コンベンションの取得に失敗: %w", err)
	}
	if conv == nil {
		return nil, model.NewNotFoundError(fmt.Sprintf("コンベンション %s が見つかりません", conventionID))
	}

	cs := &model.Changeset{ConventionID: conventionID}

	resolved := resolveCandidates(batches)

	if err := r.applyConvention(ctx, conv, resolved.convention, cs); err != nil {
		return nil, err
	}
	if err := r.applySignUps(ctx, conventionID, resolved.signups, cs); err != nil {
		return nil, err
	}

	if !cs.Empty() {
		r.logger.Info("抽出結果を適用しました",
			slog.String("convention_id", conventionID),
			slog.Int("field_changes", len(cs.Changes)),
			slog.Int("windows_created", len(cs.CreatedWindows)),
			slog.Int("windows_updated", len(cs.UpdatedWindows)),
			slog.Bool("dates_changed", cs.ConventionDatesChanged),
		)
	}

	return cs, nil
}

// applyConvention はコンベンション本体への候補値適用と変更記録を行う。
func (r *Reconciler) applyConvention(ctx context.Context, conv *model.Convention, c conventionCandidates, cs *model.Changeset) error {
	changed := false

	if c.name.set {
		name := r.sanitizer.Sanitize(c.name.val)
		if name != "" && name != conv.Name {
			cs.Changes = append(cs.Changes, fieldChange(conv.ID, "name", conv.Name, name))
			conv.Name = name
			changed = true
		}
	}
	if c.siteURL.set && c.siteURL.val != "" && c.siteURL.val != conv.SiteURL {
		cs.Changes = append(cs.Changes, fieldChange(conv.ID, "site_url", conv.SiteURL, c.siteURL.val))
		conv.SiteURL = c.siteURL.val
		changed = true
	}

	// 開催日程は候補適用後のstart<=endが成り立つ場合のみ受け入れる。
	// 成り立たない候補は抽出品質の問題として破棄し、既存値を保つ。
	newStart, newEnd := conv.StartDate, conv.EndDate
	if c.startDate.set {
		v := c.startDate.val
		newStart = &v
	}
	if c.endDate.set {
		v := c.endDate.val
		newEnd = &v
	}
	if newStart != nil && newEnd != nil && newEnd.Before(*newStart) {
		r.logger.Warn("開催日程の候補が不正（start > end）なため破棄します",
			slog.String("convention_id", conv.ID),
			slog.Time("start_date", *newStart),
			slog.Time("end_date", *newEnd),
		)
	} else {
		if !equalTimePtr(conv.StartDate, newStart) {
			cs.Changes = append(cs.Changes, fieldChange(conv.ID, "start_date", timeValue(conv.StartDate), timeValue(newStart)))
			conv.StartDate = newStart
			changed = true
			cs.ConventionDatesChanged = true
		}
		if !equalTimePtr(conv.EndDate, newEnd) {
			cs.Changes = append(cs.Changes, fieldChange(conv.ID, "end_date", timeValue(conv.EndDate), timeValue(newEnd)))
			conv.EndDate = newEnd
			changed = true
			cs.ConventionDatesChanged = true
		}
	}

	if c.nextEdition.set && c.nextEdition.val != conv.NextEditionAnnounced {
		cs.Changes = append(cs.Changes, fieldChange(conv.ID, "next_edition_announced",
			fmt.Sprintf("%t", conv.NextEditionAnnounced), fmt.Sprintf("%t", c.nextEdition.val)))
		conv.NextEditionAnnounced = c.nextEdition.val
		changed = true
	}
	if c.tags.set && len(c.tags.val) > 0 && !equalTags(conv.Tags, c.tags.val) {
		cs.Changes = append(cs.Changes, fieldChange(conv.ID, "tags", tagsValue(conv.Tags), tagsValue(c.tags.val)))
		conv.Tags = c.tags.val
		changed = true
	}

	if !changed {
		return nil
	}
	if err := r.convRepo.Update(ctx, conv); err != nil {
		return fmt.Errorf("コンベンションの更新に失敗: %w", err)
	}
	return nil
}

// applySignUps は申込枠への候補値適用と作成/更新の記録を行う。
func (r *Reconciler) applySignUps(ctx context.Context, conventionID string, signups map[model.SignUpType]signupCandidates, cs *model.Changeset) error {
	// map走査順に依存しないようにtypeでソートして適用する
	types := make([]model.SignUpType, 0, len(signups))
	for t := range signups {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	for _, t := range types {
		c := signups[t]

		window, err := r.windowRepo.FindByConventionAndType(ctx, conventionID, t)
		if err != nil {
			return fmt.Errorf("申込枠の取得に失敗: %w", err)
		}

		if window == nil {
			if err := r.createWindow(ctx, conventionID, t, c, cs); err != nil {
				return err
			}
			continue
		}
		if err := r.updateWindow(ctx, window, c, cs); err != nil {
			return err
		}
	}
	return nil
}

// createWindow は候補値から新規の申込枠を作成する。
func (r *Reconciler) createWindow(ctx context.Context, conventionID string, t model.SignUpType, c signupCandidates, cs *model.Changeset) error {
	window := &model.SignUpWindow{
		ID:           uuid.NewString(),
		ConventionID: conventionID,
		Type:         t,
		Status:       model.SignUpStatusUnknown,
	}
	if c.link.set {
		window.Link = r.sanitizer.Sanitize(c.link.val)
	}
	if c.openAt.set {
		v := c.openAt.val
		window.OpenAt = &v
	}
	if c.closeAt.set {
		v := c.closeAt.val
		window.CloseAt = &v
	}
	if c.status.set {
		window.Status = c.status.val
	}

	if err := r.windowRepo.Create(ctx, window); err != nil {
		return fmt.Errorf("申込枠の作成に失敗: %w", err)
	}

	cs.CreatedWindows = append(cs.CreatedWindows, t)
	cs.Changes = append(cs.Changes, model.FieldChange{
		Entity:   "signup_window",
		EntityID: window.ID,
		Field:    "created",
		Old:      "",
		New:      string(t),
	})
	return nil
}

// updateWindow は既存の申込枠へ候補値を適用する。
// 日時（open_at/close_at）または状態の変更のみがUpdatedWindowsに記録される。
// リンクだけの変更はリマインダー再計算を要しないため記録されない。
func (r *Reconciler) updateWindow(ctx context.Context, window *model.SignUpWindow, c signupCandidates, cs *model.Changeset) error {
	changed := false
	materiallyChanged := false

	if c.link.set {
		link := r.sanitizer.Sanitize(c.link.val)
		if link != "" && link != window.Link {
			cs.Changes = append(cs.Changes, windowChange(window.ID, "link", window.Link, link))
			window.Link = link
			changed = true
		}
	}
	if c.openAt.set && !equalTimePtr(window.OpenAt, &c.openAt.val) {
		v := c.openAt.val
		cs.Changes = append(cs.Changes, windowChange(window.ID, "open_at", timeValue(window.OpenAt), timeValue(&v)))
		window.OpenAt = &v
		changed = true
		materiallyChanged = true
	}
	if c.closeAt.set && !equalTimePtr(window.CloseAt, &c.closeAt.val) {
		v := c.closeAt.val
		cs.Changes = append(cs.Changes, windowChange(window.ID, "close_at", timeValue(window.CloseAt), timeValue(&v)))
		window.CloseAt = &v
		changed = true
		materiallyChanged = true
	}
	if c.status.set && c.status.val != window.Status {
		cs.Changes = append(cs.Changes, windowChange(window.ID, "status", string(window.Status), string(c.status.val)))
		window.Status = c.status.val
		changed = true
		materiallyChanged = true
	}

	if !changed {
		return nil
	}
	if err := r.windowRepo.Update(ctx, window); err != nil {
		return fmt.Errorf("申込枠の更新に失敗: %w", err)
	}
	if materiallyChanged {
		cs.UpdatedWindows = append(cs.UpdatedWindows, window.Type)
	}
	return nil
}

func fieldChange(conventionID, field, oldVal, newVal string) model.FieldChange {
	return model.FieldChange{
		Entity:   "convention",
		EntityID: conventionID,
		Field:    field,
		Old:      oldVal,
		New:      newVal,
	}
}

func windowChange(windowID, field, oldVal, newVal string) model.FieldChange {
	return model.FieldChange{
		Entity:   "signup_window",
		EntityID: windowID,
		Field:    field,
		Old:      oldVal,
		New:      newVal,
	}
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func equalTags(a, b []model.ConventionTag) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[model.ConventionTag]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	for _, t := range b {
		if !set[t] {
			return false
		}
	}
	return true
}

func timeValue(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func tagsValue(tags []model.ConventionTag) string {
	strs := make([]string, len(tags))
	for i, t := range tags {
		strs[i] = string(t)
	}
	sort.Strings(strs)
	return strings.Join(strs, ",")
}
