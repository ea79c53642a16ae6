package reconcile

import (
	"time"

	"github.com/ragedizzer/conwatch/internal/model"
)

// candidate は1フィールド分の勝ち残り候補値を保持する。
// offerの度に優先度（ソース種別の特異度、同点なら抽出時刻の新しさ）で比較し、
// より強い候補のみが残る。
type candidate[T any] struct {
	set  bool
	val  T
	spec int
	at   time.Time
}

// offer は候補値を提示する。既存の勝ち残りより弱い候補は無視される。
func (c *candidate[T]) offer(val T, spec int, at time.Time) {
	if c.set && (spec < c.spec || (spec == c.spec && !at.After(c.at))) {
		return
	}
	c.set = true
	c.val = val
	c.spec = spec
	c.at = at
}

// conventionCandidates はコンベンション本体の各フィールドの勝ち残り候補。
type conventionCandidates struct {
	name        candidate[string]
	siteURL     candidate[string]
	startDate   candidate[time.Time]
	endDate     candidate[time.Time]
	nextEdition candidate[bool]
	tags        candidate[[]model.ConventionTag]
}

// signupCandidates は申込枠1種別分の各フィールドの勝ち残り候補。
type signupCandidates struct {
	link    candidate[string]
	openAt  candidate[time.Time]
	closeAt candidate[time.Time]
	status  candidate[model.SignUpStatus]
}

// resolvedFindings はバッチ全体の優先度解決済み候補集合。
type resolvedFindings struct {
	convention conventionCandidates
	signups    map[model.SignUpType]signupCandidates
}

// resolveCandidates は複数ソースの抽出結果をフィールド単位で優先度解決する。
// nilのフィールドは候補を提示しないため、既存値の上書き対象にならない。
func resolveCandidates(batches []SourceBatch) resolvedFindings {
	resolved := resolvedFindings{
		signups: make(map[model.SignUpType]signupCandidates),
	}

	for _, b := range batches {
		if b.Findings.Empty() {
			continue
		}
		spec := b.Kind.Specificity()
		batchAt := b.Findings.ExtractedAt

		if cf := b.Findings.Convention; cf != nil {
			if cf.Name != nil {
				resolved.convention.name.offer(*cf.Name, spec, batchAt)
			}
			if cf.SiteURL != nil {
				resolved.convention.siteURL.offer(*cf.SiteURL, spec, batchAt)
			}
			if cf.StartDate != nil {
				resolved.convention.startDate.offer(*cf.StartDate, spec, batchAt)
			}
			if cf.EndDate != nil {
				resolved.convention.endDate.offer(*cf.EndDate, spec, batchAt)
			}
			if cf.NextEditionAnnounced != nil {
				resolved.convention.nextEdition.offer(*cf.NextEditionAnnounced, spec, batchAt)
			}
			if len(cf.Tags) > 0 {
				resolved.convention.tags.offer(cf.Tags, spec, batchAt)
			}
		}

		for _, sf := range b.Findings.SignUps {
			if !model.ValidSignUpType(sf.Type) {
				continue
			}
			at := batchAt
			if sf.ExtractedAt != nil {
				at = *sf.ExtractedAt
			}

			c := resolved.signups[sf.Type]
			if sf.Link != nil {
				c.link.offer(*sf.Link, spec, at)
			}
			if sf.OpenAt != nil {
				c.openAt.offer(*sf.OpenAt, spec, at)
			}
			if sf.CloseAt != nil {
				c.closeAt.offer(*sf.CloseAt, spec, at)
			}
			if sf.Status != nil && model.ValidSignUpStatus(*sf.Status) {
				c.status.offer(*sf.Status, spec, at)
			}
			resolved.signups[sf.Type] = c
		}
	}

	return resolved
}
