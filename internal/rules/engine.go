// Package rules evaluates one task schema against one canonical record.
//
// Everything in this package is pure computation: the same inputs always
// produce the same TaskValidation, whether invoked for a single student's
// detail view or for the whole roster. Both call paths go through Evaluate
// and share the one completion predicate.
package rules

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tomwchan/fourset/internal/model"
)

// SchemaNotFound is the task-level error marker for a missing schema.
const SchemaNotFound = "schema-not-found"

// SchemaSource provides task schemas by id.
type SchemaSource interface {
	Task(id string) (model.TaskSchema, bool)
}

// Engine validates tasks against canonical records.
type Engine struct {
	schemas SchemaSource
}

// NewEngine creates an Engine backed by the given schema source.
func NewEngine(schemas SchemaSource) *Engine {
	return &Engine{schemas: schemas}
}

// Validate evaluates one task for one student. A missing schema yields a
// task-level error marker rather than an error, so one bad task never
// aborts the student's other tasks.
func (e *Engine) Validate(studentID, taskID string, rec *model.CanonicalRecord) model.TaskValidation {
	sch, ok := e.schemas.Task(taskID)
	if !ok {
		return model.TaskValidation{
			StudentID: studentID,
			TaskID:    taskID,
			Err:       SchemaNotFound,
			Status:    model.StatusError,
		}
	}
	return Evaluate(studentID, sch, rec)
}

// Reserved naming patterns for structurally excluded identifiers.
var (
	practicePattern = regexp.MustCompile(`(?i)_P(?:rac)?\d+$`)
	markerSuffixes  = []string{"_DATE", "_MEMO", "_NOTES", "_TIMEOUT", "_TEXT"}
)

// structurallyExcluded reports whether a question id never counts toward
// scoring: date stamps, memos, termination and timeout markers, paired
// free-text fields, and practice items.
func structurallyExcluded(q model.QuestionSpec) bool {
	if q.Unscored || q.Kind == model.KindInstruction || q.Kind == model.KindTerminal {
		return true
	}
	id := strings.TrimSpace(q.ID)
	if strings.HasPrefix(strings.ToLower(id), "term_") {
		return true
	}
	upper := strings.ToUpper(id)
	for _, suf := range markerSuffixes {
		if strings.HasSuffix(upper, suf) {
			return true
		}
	}
	return practicePattern.MatchString(id)
}

// flatten expands nested groups into an ordered list and drops
// structurally excluded specs.
func flatten(specs []model.QuestionSpec) []model.QuestionSpec {
	var out []model.QuestionSpec
	for _, q := range specs {
		if q.Kind == model.KindGroup {
			out = append(out, flatten(q.Children)...)
			continue
		}
		if structurallyExcluded(q) {
			continue
		}
		out = append(out, q)
	}
	return out
}

// lookup returns the canonical entry for a question id, tolerating the
// motor-task trial suffixes some uploads carry on their field names.
func lookup(rec *model.CanonicalRecord, id string) (string, string, bool) {
	if rec == nil {
		return "", "", false
	}
	for _, cand := range []string{id, id + "_t1", id + "_t2"} {
		if v, txt := rec.Value(cand), rec.Text(cand); v != "" || txt != "" {
			return v, txt, true
		}
	}
	return "", "", false
}

// resolveValue maps a recorded option index onto its semantic value.
// Survey exports record 1-based option positions for choice questions.
func resolveValue(q model.QuestionSpec, raw string) string {
	if len(q.Options) == 0 {
		return raw
	}
	idx, err := strconv.Atoi(raw)
	if err != nil || idx < 1 || idx > len(q.Options) {
		return raw
	}
	return q.Options[idx-1]
}

// resolved is one applicable question with its scored answer.
type resolved struct {
	spec     model.QuestionSpec
	answer   string
	display  string
	answered bool
	correct  *bool // nil when unanswered or unscorable
}

// resolveAnswer scores one applicable spec against the record.
func resolveAnswer(q model.QuestionSpec, rec *model.CanonicalRecord) resolved {
	value, text, _ := lookup(rec, q.ID)
	if q.Kind == model.KindChoiceText {
		// The paired free-text field is display-only, never scored.
		if t := rec.Text(q.ID + "_TEXT"); text == "" && t != "" {
			text = t
		} else if v := rec.Value(q.ID + "_TEXT"); text == "" && v != "" {
			text = v
		}
	}

	r := resolved{spec: q}
	switch {
	case value != "":
		r.answer = resolveValue(q, value)
		r.answered = true
		if q.CorrectAnswer != "" {
			ok := strings.TrimSpace(r.answer) == strings.TrimSpace(q.CorrectAnswer)
			r.correct = &ok
			// A definite choice settles the outcome; stray free text next to
			// a wrong option is shown but changes nothing.
			if !ok {
				r.display = text
			}
		} else {
			r.display = text
		}
	case q.Kind == model.KindChoiceText && text != "":
		// Text without an option choice counts as an incorrect attempt and
		// the (likely erroneous) free text is suppressed from display.
		r.answered = true
		if q.CorrectAnswer != "" {
			wrong := false
			r.correct = &wrong
		}
	}
	return r
}

// Evaluate is the single deterministic evaluation function for one task.
func Evaluate(studentID string, sch model.TaskSchema, rec *model.CanonicalRecord) model.TaskValidation {
	v := model.TaskValidation{StudentID: studentID, TaskID: sch.ID}

	applicable, excluded := resolveConditionals(flatten(sch.Questions), rec)

	answers := make([]resolved, len(applicable))
	for i, q := range applicable {
		answers[i] = resolveAnswer(q, rec)
	}

	v.TerminatedAt = detectTermination(sch.Termination, answers, rec)
	v.TimedOutAt = detectTimeout(sch, answers, rec)

	cut := stopIndex(v.TerminatedAt, v.TimedOutAt)

	for i, a := range answers {
		qr := model.QuestionResult{
			QuestionID:  a.spec.ID,
			Position:    i,
			Answer:      a.answer,
			DisplayText: a.display,
			Correct:     a.correct,
		}
		switch {
		case cut != nil && i > *cut:
			qr.Excluded = true
			qr.Note = "after termination"
			if a.answered {
				v.HasPostTerminationAnswers = true
			}
		case a.answered:
			v.AdjustedAnswered++
		}
		if cut == nil || i <= *cut {
			v.AdjustedTotal++
		}
		v.Questions = append(v.Questions, qr)
	}
	v.Questions = append(v.Questions, excluded...)

	if v.AdjustedTotal > 0 {
		v.CompletionRatio = float64(v.AdjustedAnswered) / float64(v.AdjustedTotal)
	}
	v.Complete = IsComplete(v)
	v.Status = statusOf(v)
	return v
}

// IsComplete is the one completion predicate shared by the per-student and
// aggregate paths. A terminated or timed-out task with zero answered
// questions is not complete; it is not started.
func IsComplete(v model.TaskValidation) bool {
	stopped := v.TerminatedAt != nil || v.TimedOutAt != nil
	return (v.AdjustedAnswered == v.AdjustedTotal && v.AdjustedTotal > 0) ||
		(stopped && v.AdjustedAnswered > 0 && !v.HasPostTerminationAnswers)
}

func statusOf(v model.TaskValidation) model.TaskStatus {
	switch {
	case v.Complete:
		return model.StatusComplete
	case v.AdjustedAnswered == 0:
		return model.StatusNotStarted
	default:
		return model.StatusIncomplete
	}
}

// resolveConditionals applies visibleWhen conditions and collapses branch
// forks so that exactly one spec survives per logical identifier. Questions
// whose condition is unmet or unresolved are reported as excluded results.
func resolveConditionals(specs []model.QuestionSpec, rec *model.CanonicalRecord) ([]model.QuestionSpec, []model.QuestionResult) {
	variants := make(map[string][]model.QuestionSpec)
	order := make([]string, 0, len(specs))
	for _, q := range specs {
		if _, seen := variants[q.ID]; !seen {
			order = append(order, q.ID)
		}
		variants[q.ID] = append(variants[q.ID], q)
	}

	var applicable []model.QuestionSpec
	var excluded []model.QuestionResult

	for _, id := range order {
		vs := variants[id]
		chosen, note := chooseVariant(vs, rec)
		if chosen == nil {
			excluded = append(excluded, model.QuestionResult{
				QuestionID: id,
				Position:   -1,
				Excluded:   true,
				Note:       note,
			})
			continue
		}
		applicable = append(applicable, *chosen)
	}
	return applicable, excluded
}

// chooseVariant picks the single spec whose condition holds, or reports why
// none does.
func chooseVariant(vs []model.QuestionSpec, rec *model.CanonicalRecord) (*model.QuestionSpec, string) {
	for i := range vs {
		q := vs[i]
		if q.VisibleWhen == nil {
			return &q, ""
		}
		upstream, _, found := lookup(rec, q.VisibleWhen.QuestionID)
		if !found {
			// Unresolved upstream answer excludes the dependent question.
			continue
		}
		if strings.TrimSpace(upstream) == strings.TrimSpace(q.VisibleWhen.Equals) {
			return &q, ""
		}
	}
	// Distinguish "no branch matched" from "upstream never answered" for the
	// data-quality note.
	for _, q := range vs {
		if q.VisibleWhen != nil {
			if _, _, found := lookup(rec, q.VisibleWhen.QuestionID); !found {
				return nil, "unresolved condition"
			}
		}
	}
	return nil, "condition not met"
}

// stopIndex picks the effective early-stop position when both a termination
// and a timeout were detected.
func stopIndex(term, timeout *int) *int {
	switch {
	case term == nil:
		return timeout
	case timeout == nil:
		return term
	case *timeout < *term:
		return timeout
	default:
		return term
	}
}
