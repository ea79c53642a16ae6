// Package model はドメインモデルを定義する。
package model

// FieldChange は1フィールドの変更（旧値→新値）を表す。
// 値は監査ログとしての可読性を優先し文字列表現で保持する。
type FieldChange struct {
	Entity   string // "convention" または "signup_window"
	EntityID string
	Field    string
	Old      string
	New      string
}

// Changeset はFindingsの適用結果を表す。
// どのフィールドがどう変わったか、どの申込枠が新規作成/更新されたかを記録し、
// Materializerが再計算すべき購読の絞り込みに使う唯一の情報源となる。
type Changeset struct {
	ConventionID string
	Changes      []FieldChange

	// CreatedWindows は今回のバッチで新規作成された申込枠の種別。
	CreatedWindows []SignUpType
	// UpdatedWindows は日時または状態が変更された既存申込枠の種別。
	UpdatedWindows []SignUpType
	// ConventionDatesChanged は開催日程（start_date/end_date）が変わったかどうか。
	ConventionDatesChanged bool
}

// Empty は変更が1件もなかったかどうかを返す。
func (cs *Changeset) Empty() bool {
	return len(cs.Changes) == 0 && len(cs.CreatedWindows) == 0 && len(cs.UpdatedWindows) == 0
}

// AffectedTargets は再計算候補となる監視対象の一覧を返す。
// 開催日程が変わった場合はコンベンション全体監視（SignUpType=nil）が、
// 申込枠が作成/更新された場合はその種別の監視が対象になる。
func (cs *Changeset) AffectedTargets() []WatchTarget {
	var targets []WatchTarget

	if cs.ConventionDatesChanged {
		targets = append(targets, WatchTarget{ConventionID: cs.ConventionID})
	}

	seen := make(map[SignUpType]bool)
	for _, t := range cs.CreatedWindows {
		if !seen[t] {
			seen[t] = true
			st := t
			targets = append(targets, WatchTarget{ConventionID: cs.ConventionID, SignUpType: &st})
		}
	}
	for _, t := range cs.UpdatedWindows {
		if !seen[t] {
			seen[t] = true
			st := t
			targets = append(targets, WatchTarget{ConventionID: cs.ConventionID, SignUpType: &st})
		}
	}

	return targets
}
