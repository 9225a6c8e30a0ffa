package merge

import (
	"sort"

	"github.com/tomwchan/fourset/internal/model"
)

// RecordSet holds the reconciled answer set per student for the whole
// roster, plus the quality observations the merge produced.
type RecordSet struct {
	records   map[string]*model.CanonicalRecord
	conflicts []model.Conflict
	skipped   []model.SkippedRecord
}

// BuildRecordSet merges the full submission stream, one student at a time.
// When a student has records in several grade cohorts the most recent
// cohort is kept as the current one.
func (m *Merger) BuildRecordSet(subs []model.RawSubmission) *RecordSet {
	byStudent := make(map[string][]model.RawSubmission)
	var order []string
	for _, sub := range subs {
		if _, seen := byStudent[sub.StudentID]; !seen {
			order = append(order, sub.StudentID)
		}
		byStudent[sub.StudentID] = append(byStudent[sub.StudentID], sub)
	}
	sort.Strings(order)

	rs := &RecordSet{records: make(map[string]*model.CanonicalRecord, len(order))}
	for _, id := range order {
		res := m.Merge(byStudent[id])
		rs.conflicts = append(rs.conflicts, res.Conflicts...)
		rs.skipped = append(rs.skipped, res.Skipped...)
		for _, g := range []model.Grade{model.GradeK3, model.GradeK2, model.GradeK1} {
			if rec := res.Record(g); rec != nil {
				rs.records[id] = rec
				break
			}
		}
	}
	return rs
}

// Record returns the current-grade canonical record for a student, nil
// when the student has no usable submissions.
func (rs *RecordSet) Record(studentID string) *model.CanonicalRecord {
	return rs.records[studentID]
}

// Conflicts returns every cross-source conflict observed while merging.
func (rs *RecordSet) Conflicts() []model.Conflict {
	return rs.conflicts
}

// Skipped returns every submission excluded from merging.
func (rs *RecordSet) Skipped() []model.SkippedRecord {
	return rs.skipped
}

// Len returns the number of students with a canonical record.
func (rs *RecordSet) Len() int {
	return len(rs.records)
}

// StudentIDs returns the ids of all students with a canonical record,
// sorted for stable output.
func (rs *RecordSet) StudentIDs() []string {
	ids := make([]string, 0, len(rs.records))
	for id := range rs.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
