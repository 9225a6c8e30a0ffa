// Package merge reconciles raw survey submissions into one canonical
// record per (student, grade).
package merge

import (
	"sort"
	"strings"

	"github.com/tomwchan/fourset/internal/grade"
	"github.com/tomwchan/fourset/internal/model"
)

// Merger collapses raw submissions into canonical records and resolves
// conflicts between the two collection platforms.
type Merger struct {
	detector grade.Detector
	// secondaryOwned reports whether a field belongs to the fixed set whose
	// values are authoritative on the secondary platform.
	secondaryOwned func(field string) bool
}

// New creates a Merger. secondaryOwned may be nil when no field is owned by
// the secondary platform.
func New(det grade.Detector, secondaryOwned func(string) bool) *Merger {
	if secondaryOwned == nil {
		secondaryOwned = func(string) bool { return false }
	}
	return &Merger{detector: det, secondaryOwned: secondaryOwned}
}

// Result is the outcome of merging one student's submissions.
type Result struct {
	// Records holds one canonical record per grade seen in the input.
	Records map[model.Grade]*model.CanonicalRecord
	// Conflicts lists fields where the two sources disagreed.
	Conflicts []model.Conflict
	// Skipped lists submissions excluded from merging, e.g. unknown grade.
	Skipped []model.SkippedRecord
}

// Record returns the canonical record for a grade, or nil.
func (r Result) Record(g model.Grade) *model.CanonicalRecord {
	return r.Records[g]
}

// Merge runs the two-level merge for one student's raw submissions.
//
// Level 1 groups each source's submissions by grade and, per question id,
// keeps the value from the earliest submission with a non-empty answer.
// A later value never overrides an earlier one; an empty value never
// overrides a non-empty one. Submissions from different grades are never
// merged together.
//
// Level 2 aligns the per-grade records of both sources. Fields owned by the
// secondary platform take the secondary value on disagreement and log a
// conflict; all other fields are primary-authoritative. Empty values on
// either side never conflict and never override.
func (m *Merger) Merge(subs []model.RawSubmission) Result {
	res := Result{Records: make(map[model.Grade]*model.CanonicalRecord)}

	primary := make(map[model.Grade][]model.RawSubmission)
	secondary := make(map[model.Grade][]model.RawSubmission)

	for _, sub := range subs {
		g, err := m.detector.Determine(sub.SubmittedAt, sub.SessionKey)
		if err != nil {
			res.Skipped = append(res.Skipped, model.SkippedRecord{
				StudentID:  sub.StudentID,
				Source:     sub.Source,
				SessionKey: sub.SessionKey,
				Reason:     "unresolvable grade",
			})
			continue
		}
		if sub.Source == model.SourceQualtrics {
			secondary[g] = append(secondary[g], sub)
		} else {
			primary[g] = append(primary[g], sub)
		}
	}

	for _, g := range gradesSeen(primary, secondary) {
		p := collapse(g, primary[g])
		s := collapse(g, secondary[g])
		merged, conflicts := m.align(p, s)
		if merged != nil {
			res.Records[g] = merged
			res.Conflicts = append(res.Conflicts, conflicts...)
		}
	}

	return res
}

// gradesSeen returns the union of grades in deterministic order.
func gradesSeen(a, b map[model.Grade][]model.RawSubmission) []model.Grade {
	seen := make(map[model.Grade]bool)
	for g := range a {
		seen[g] = true
	}
	for g := range b {
		seen[g] = true
	}
	grades := make([]model.Grade, 0, len(seen))
	for g := range seen {
		grades = append(grades, g)
	}
	sort.Slice(grades, func(i, j int) bool { return grades[i] < grades[j] })
	return grades
}

// collapse is the level-1 merge: earliest non-empty value wins per field.
func collapse(g model.Grade, subs []model.RawSubmission) *model.CanonicalRecord {
	if len(subs) == 0 {
		return nil
	}

	ordered := make([]model.RawSubmission, len(subs))
	copy(ordered, subs)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].SubmittedAt.Equal(ordered[j].SubmittedAt) {
			return ordered[i].SubmittedAt.Before(ordered[j].SubmittedAt)
		}
		return ordered[i].SessionKey < ordered[j].SessionKey
	})

	rec := &model.CanonicalRecord{
		StudentID:  ordered[0].StudentID,
		Grade:      g,
		SessionKey: ordered[0].SessionKey,
		Fields:     make(map[string]model.FieldEntry),
	}

	for _, sub := range ordered {
		for id, ans := range sub.Fields {
			if ans.Empty() {
				continue
			}
			if _, exists := rec.Fields[id]; exists {
				// Insertion into blank fields only; never overwrite.
				continue
			}
			rec.Fields[id] = model.FieldEntry{
				Value:       ans.Value,
				Text:        ans.Text,
				Source:      sub.Source,
				SubmittedAt: sub.SubmittedAt,
			}
		}
	}

	return rec
}

// align is the level-2 merge across the two sources for one grade.
func (m *Merger) align(p, s *model.CanonicalRecord) (*model.CanonicalRecord, []model.Conflict) {
	switch {
	case p == nil && s == nil:
		return nil, nil
	case p == nil:
		return s, nil
	case s == nil:
		return p, nil
	}

	merged := &model.CanonicalRecord{
		StudentID:  p.StudentID,
		Grade:      p.Grade,
		SessionKey: p.SessionKey,
		Fields:     make(map[string]model.FieldEntry, len(p.Fields)),
	}
	for id, e := range p.Fields {
		merged.Fields[id] = e
	}

	var conflicts []model.Conflict

	ids := make([]string, 0, len(s.Fields))
	for id := range s.Fields {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		se := s.Fields[id]
		if strings.TrimSpace(se.Value) == "" && strings.TrimSpace(se.Text) == "" {
			continue
		}
		pe, ok := merged.Fields[id]
		pEmpty := !ok || (strings.TrimSpace(pe.Value) == "" && strings.TrimSpace(pe.Text) == "")
		if pEmpty {
			// Either side may fill a blank without conflict.
			merged.Fields[id] = se
			continue
		}
		if !m.secondaryOwned(id) {
			// Primary is authoritative everywhere else.
			continue
		}
		if strings.TrimSpace(pe.Value) != strings.TrimSpace(se.Value) {
			conflicts = append(conflicts, model.Conflict{
				StudentID:      p.StudentID,
				Grade:          p.Grade,
				Field:          id,
				PrimaryValue:   pe.Value,
				SecondaryValue: se.Value,
			})
			merged.Fields[id] = se
		}
	}

	return merged, conflicts
}
