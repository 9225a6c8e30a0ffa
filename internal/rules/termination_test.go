package rules

import (
	"fmt"
	"testing"

	"github.com/tomwchan/fourset/internal/model"
)

// Consecutive-incorrect rule with threshold 10: ten wrong answers in a row
// ending at item 24 of 55 stop the task there, and the 24 answered items
// make it 100% complete.
func TestConsecutiveIncorrectTermination(t *testing.T) {
	sch := seqTask("CRT", 55, model.TerminationRule{Kind: model.RuleConsecutive, Run: 10})

	fields := make(map[string]string)
	for i := 1; i <= 14; i++ {
		fields[fmt.Sprintf("CRT_Q%d", i)] = "A"
	}
	for i := 15; i <= 24; i++ {
		fields[fmt.Sprintf("CRT_Q%d", i)] = "B"
	}

	v := Evaluate("C10233", sch, record(fields))

	if v.TerminatedAt == nil || *v.TerminatedAt != 23 {
		t.Fatalf("expected termination at index 23, got %v", v.TerminatedAt)
	}
	if v.AdjustedTotal != 24 || v.AdjustedAnswered != 24 {
		t.Errorf("expected 24/24, got %d/%d", v.AdjustedAnswered, v.AdjustedTotal)
	}
	if v.CompletionRatio != 1.0 {
		t.Errorf("expected ratio 1.0, got %f", v.CompletionRatio)
	}
	if !v.Complete || v.Status != model.StatusComplete {
		t.Errorf("expected complete, got %q", v.Status)
	}
}

func TestConsecutiveRunBrokenByGapOrCorrect(t *testing.T) {
	sch := seqTask("CRT", 10, model.TerminationRule{Kind: model.RuleConsecutive, Run: 3})

	// Two wrong, a correct, two wrong: no run of three.
	v := Evaluate("C10233", sch, record(map[string]string{
		"CRT_Q1": "B", "CRT_Q2": "B", "CRT_Q3": "A", "CRT_Q4": "B", "CRT_Q5": "B",
	}))
	if v.TerminatedAt != nil {
		t.Errorf("expected no termination, got index %d", *v.TerminatedAt)
	}

	// An unanswered question is not an incorrect answer and breaks the run.
	v = Evaluate("C10233", sch, record(map[string]string{
		"CRT_Q1": "B", "CRT_Q2": "B", "CRT_Q4": "B", "CRT_Q5": "B",
	}))
	if v.TerminatedAt != nil {
		t.Errorf("expected run broken by gap, got index %d", *v.TerminatedAt)
	}

	v = Evaluate("C10233", sch, record(map[string]string{
		"CRT_Q3": "B", "CRT_Q4": "B", "CRT_Q5": "B",
	}))
	if v.TerminatedAt == nil || *v.TerminatedAt != 4 {
		t.Fatalf("expected termination at index 4, got %v", v.TerminatedAt)
	}
}

// Stage-based rule: practice items are excluded before staging, so the
// stage arithmetic and the adjusted counts run over scored items only.
func TestStageTermination(t *testing.T) {
	sch := model.TaskSchema{
		ID:          "ERVT",
		Termination: model.TerminationRule{Kind: model.RuleStage, Stages: 4, MinCorrect: 4},
		Questions: []model.QuestionSpec{
			choice("ERVT_P1", "A"),
			choice("ERVT_P2", "A"),
		},
	}
	for i := 1; i <= 16; i++ {
		sch.Questions = append(sch.Questions, choice(fmt.Sprintf("ERVT_Q%d", i), "A"))
	}

	fields := map[string]string{"ERVT_P1": "A", "ERVT_P2": "A"}
	// Stage 1 (Q1-Q4) all correct; stage 2 (Q5-Q8) has only two correct.
	for i := 1; i <= 4; i++ {
		fields[fmt.Sprintf("ERVT_Q%d", i)] = "A"
	}
	fields["ERVT_Q5"] = "A"
	fields["ERVT_Q6"] = "B"
	fields["ERVT_Q7"] = "A"
	fields["ERVT_Q8"] = "B"

	v := Evaluate("C10233", sch, record(fields))

	if v.TerminatedAt == nil || *v.TerminatedAt != 7 {
		t.Fatalf("expected termination at the end of stage 2 (index 7), got %v", v.TerminatedAt)
	}
	// 8, not 10: the two practice items never enter the count.
	if v.AdjustedTotal != 8 {
		t.Errorf("expected adjusted total 8, got %d", v.AdjustedTotal)
	}
	if v.AdjustedAnswered != 8 {
		t.Errorf("expected adjusted answered 8, got %d", v.AdjustedAnswered)
	}
	if !v.Complete {
		t.Error("expected complete")
	}
}

func TestStagePassesAllStages(t *testing.T) {
	sch := seqTask("ERVT", 8, model.TerminationRule{Kind: model.RuleStage, Stages: 2, MinCorrect: 3})
	fields := make(map[string]string)
	for i := 1; i <= 8; i++ {
		fields[fmt.Sprintf("ERVT_Q%d", i)] = "A"
	}
	v := Evaluate("C10233", sch, record(fields))
	if v.TerminatedAt != nil {
		t.Errorf("expected no termination, got index %d", *v.TerminatedAt)
	}
	if v.AdjustedTotal != 8 || !v.Complete {
		t.Errorf("expected 8 complete, got total %d complete %v", v.AdjustedTotal, v.Complete)
	}
}

// Threshold rule: every item of the designated subset at the failing
// sentinel terminates at the end of the subset.
func TestThresholdTermination(t *testing.T) {
	sch := seqTask("FM", 6, model.TerminationRule{
		Kind:     model.RuleThreshold,
		Subset:   []string{"FM_Q1", "FM_Q2", "FM_Q3"},
		Sentinel: "0",
	})

	v := Evaluate("C10233", sch, record(map[string]string{
		"FM_Q1": "0", "FM_Q2": "0", "FM_Q3": "0",
	}))
	if v.TerminatedAt == nil || *v.TerminatedAt != 2 {
		t.Fatalf("expected termination at index 2, got %v", v.TerminatedAt)
	}
	if v.AdjustedTotal != 3 || v.AdjustedAnswered != 3 {
		t.Errorf("expected 3/3, got %d/%d", v.AdjustedAnswered, v.AdjustedTotal)
	}
	if !v.Complete {
		t.Error("expected complete")
	}

	// One subset member off the sentinel: no termination.
	v = Evaluate("C10233", sch, record(map[string]string{
		"FM_Q1": "0", "FM_Q2": "1", "FM_Q3": "0",
	}))
	if v.TerminatedAt != nil {
		t.Errorf("expected no termination, got index %d", *v.TerminatedAt)
	}
}

// Timeout marker set with the last non-null answer at item 53 of 68:
// the 53 answered items are the whole adjusted range.
func TestTimeoutTermination(t *testing.T) {
	sch := seqTask("WM", 68, model.TerminationRule{})
	sch.TimeoutField = "WM_timeout"

	fields := map[string]string{"WM_timeout": "1"}
	for i := 1; i <= 53; i++ {
		fields[fmt.Sprintf("WM_Q%d", i)] = "A"
	}

	v := Evaluate("C10233", sch, record(fields))

	if v.TimedOutAt == nil || *v.TimedOutAt != 52 {
		t.Fatalf("expected timeout at index 52, got %v", v.TimedOutAt)
	}
	if v.AdjustedTotal != 53 || v.AdjustedAnswered != 53 {
		t.Errorf("expected 53/53, got %d/%d", v.AdjustedAnswered, v.AdjustedTotal)
	}
	if v.CompletionRatio != 1.0 {
		t.Errorf("expected ratio 1.0, got %f", v.CompletionRatio)
	}
	if !v.Complete {
		t.Error("expected complete")
	}
}

func TestTimeoutWithoutAnswersStaysNotStarted(t *testing.T) {
	sch := seqTask("WM", 10, model.TerminationRule{})
	sch.TimeoutField = "WM_timeout"

	v := Evaluate("C10233", sch, record(map[string]string{"WM_timeout": "1"}))
	if v.TimedOutAt != nil {
		t.Errorf("expected no timeout index, got %d", *v.TimedOutAt)
	}
	if v.Status != model.StatusNotStarted {
		t.Errorf("expected not_started, got %q", v.Status)
	}
	if v.Complete {
		t.Error("a stop with zero answers must not be complete")
	}
}

func TestPostTerminationAnswers(t *testing.T) {
	sch := seqTask("CRT", 10, model.TerminationRule{Kind: model.RuleConsecutive, Run: 3})

	fields := map[string]string{
		"CRT_Q1": "B", "CRT_Q2": "B", "CRT_Q3": "B",
		// Answer recorded past the stop point.
		"CRT_Q7": "A",
	}
	v := Evaluate("C10233", sch, record(fields))

	if v.TerminatedAt == nil || *v.TerminatedAt != 2 {
		t.Fatalf("expected termination at index 2, got %v", v.TerminatedAt)
	}
	if !v.HasPostTerminationAnswers {
		t.Error("expected post-termination answer flag")
	}
	// Post-termination items are excluded from both counts.
	if v.AdjustedTotal != 3 || v.AdjustedAnswered != 3 {
		t.Errorf("expected 3/3, got %d/%d", v.AdjustedAnswered, v.AdjustedTotal)
	}
	// The flag is a data-quality signal, independent of completion.
	if !v.Complete {
		t.Error("expected complete: every in-range item is answered")
	}
}

func TestPostTerminationFlagBlocksTerminatedPath(t *testing.T) {
	sch := seqTask("CRT", 10, model.TerminationRule{Kind: model.RuleConsecutive, Run: 3})

	// In-range gap at Q1 plus an answer past the stop point: neither the
	// all-answered clause nor the terminated clause holds.
	fields := map[string]string{
		"CRT_Q2": "B", "CRT_Q3": "B", "CRT_Q4": "B",
		"CRT_Q8": "A",
	}
	v := Evaluate("C10233", sch, record(fields))

	if v.TerminatedAt == nil || *v.TerminatedAt != 3 {
		t.Fatalf("expected termination at index 3, got %v", v.TerminatedAt)
	}
	if !v.HasPostTerminationAnswers {
		t.Fatal("expected post-termination answer flag")
	}
	if v.AdjustedTotal != 4 || v.AdjustedAnswered != 3 {
		t.Fatalf("expected 3/4, got %d/%d", v.AdjustedAnswered, v.AdjustedTotal)
	}
	if v.Complete {
		t.Error("expected incomplete: gap in range and post-termination answers")
	}
	if v.Status != model.StatusIncomplete {
		t.Errorf("expected incomplete, got %q", v.Status)
	}
}

func TestTimeoutMarkerFalseValues(t *testing.T) {
	sch := seqTask("WM", 3, model.TerminationRule{})
	sch.TimeoutField = "WM_timeout"

	for _, marker := range []string{"", "0", "false", "no"} {
		fields := map[string]string{"WM_Q1": "A"}
		if marker != "" {
			fields["WM_timeout"] = marker
		}
		v := Evaluate("C10233", sch, record(fields))
		if v.TimedOutAt != nil {
			t.Errorf("marker %q: expected no timeout", marker)
		}
	}
}
