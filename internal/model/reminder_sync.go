// Package model はドメインモデルを定義する。
package model

import "fmt"

// ReminderSyncPlan はあるべきリマインダー集合と現状の差分計画を表す。
type ReminderSyncPlan struct {
	// CancelIDs はcancelledへ遷移させる既存インスタンスのID。
	CancelIDs []string
	// Creates は新規にpendingで作成するリマインダー。
	Creates []DesiredReminder
	// Unchanged は(kind, trigger_at)が一致し手を触れないインスタンス数。
	Unchanged int
}

// Empty は適用すべき差分がないかどうかを返す。
func (p *ReminderSyncPlan) Empty() bool {
	return len(p.CancelIDs) == 0 && len(p.Creates) == 0
}

// PlanReminderSync は既存のアクティブなインスタンスとあるべき集合の差分を計算する。
//
//   - kindとtrigger_atが完全に一致する既存インスタンスは維持される（冪等性の根拠）。
//   - kindが不要になった、またはtrigger_atが移動した既存インスタンスはキャンセル対象。
//   - 一致する既存インスタンスがなく、CreateIfMissingがtrueの希望エントリは作成対象。
//   - CreateIfMissingがfalse（トリガーが過去）の希望エントリは、一致する既存pending
//     インスタンスの維持のみを行い、新規作成はしない。
//
// existingに同一kindのアクティブなインスタンスが複数ある場合は不変条件違反を返す。
// これは原子的なdiff-and-replaceの下では発生し得ないため、プログラミング上の欠陥を示す。
func PlanReminderSync(existing []*ReminderInstance, desired []DesiredReminder) (*ReminderSyncPlan, error) {
	byKind := make(map[ReminderKind]*ReminderInstance, len(existing))
	for _, inst := range existing {
		if prev, ok := byKind[inst.Kind]; ok {
			return nil, NewInvariantViolationError(fmt.Sprintf(
				"購読 %s のkind %s にアクティブなインスタンスが複数存在します（%s と %s）",
				inst.SubscriptionID, inst.Kind, prev.ID, inst.ID,
			))
		}
		byKind[inst.Kind] = inst
	}

	plan := &ReminderSyncPlan{}
	matched := make(map[ReminderKind]bool, len(desired))

	for _, d := range desired {
		inst, ok := byKind[d.Kind]
		if ok && inst.TriggerAt.Equal(d.TriggerAt) {
			// 完全一致は維持
			matched[d.Kind] = true
			plan.Unchanged++
			continue
		}
		if d.CreateIfMissing {
			matched[d.Kind] = true
			plan.Creates = append(plan.Creates, d)
		}
		// CreateIfMissingがfalseで一致もしない場合は何もしない（過去分は作らない）
	}

	for kind, inst := range byKind {
		if !matched[kind] {
			plan.CancelIDs = append(plan.CancelIDs, inst.ID)
			continue
		}
		// kindは希望に含まれるがtrigger_atが移動した場合もキャンセルして作り直す
		for _, d := range desired {
			if d.Kind == kind && !inst.TriggerAt.Equal(d.TriggerAt) {
				plan.CancelIDs = append(plan.CancelIDs, inst.ID)
				break
			}
		}
	}

	return plan, nil
}
