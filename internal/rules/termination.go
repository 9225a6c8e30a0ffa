package rules

import (
	"strings"

	"github.com/tomwchan/fourset/internal/model"
)

// detectTermination dispatches on the rule family declared for the task.
// The rule kinds form a closed set; an unknown kind never terminates.
func detectTermination(rule model.TerminationRule, answers []resolved, rec *model.CanonicalRecord) *int {
	switch rule.Kind {
	case model.RuleStage:
		return stageTermination(rule, answers)
	case model.RuleConsecutive:
		return consecutiveTermination(rule, answers)
	case model.RuleThreshold:
		return thresholdTermination(rule, answers, rec)
	default:
		return nil
	}
}

// stageTermination partitions the applicable list into equal-size stages and
// terminates at the last index of the first stage whose correct count falls
// below the per-task threshold. Later stages are not evaluated. When the
// list does not divide evenly the final stage absorbs the remainder.
func stageTermination(rule model.TerminationRule, answers []resolved) *int {
	n := rule.Stages
	if n <= 0 || len(answers) == 0 {
		return nil
	}
	size := len(answers) / n
	if size == 0 {
		return nil
	}
	for s := 0; s < n; s++ {
		lo := s * size
		hi := lo + size
		if s == n-1 {
			hi = len(answers)
		}
		correct := 0
		for i := lo; i < hi; i++ {
			if answers[i].correct != nil && *answers[i].correct {
				correct++
			}
		}
		if correct < rule.MinCorrect {
			last := hi - 1
			return &last
		}
	}
	return nil
}

// consecutiveTermination scans sequentially and terminates where the run of
// incorrect answers reaches the configured length. Only answered questions
// extend the run; an unanswered question breaks it.
func consecutiveTermination(rule model.TerminationRule, answers []resolved) *int {
	if rule.Run <= 0 {
		return nil
	}
	run := 0
	for i, a := range answers {
		if a.correct != nil && !*a.correct {
			run++
			if run >= rule.Run {
				idx := i
				return &idx
			}
			continue
		}
		run = 0
	}
	return nil
}

// thresholdTermination terminates at the end of the designated subset when
// every member equals the failing sentinel value.
func thresholdTermination(rule model.TerminationRule, answers []resolved, rec *model.CanonicalRecord) *int {
	if len(rule.Subset) == 0 {
		return nil
	}
	last := -1
	for _, id := range rule.Subset {
		value, _, found := lookup(rec, id)
		if !found || strings.TrimSpace(value) != strings.TrimSpace(rule.Sentinel) {
			return nil
		}
		for i, a := range answers {
			if a.spec.ID == id && i > last {
				last = i
			}
		}
	}
	if last < 0 {
		return nil
	}
	return &last
}

// detectTimeout marks a timeout at the last answered index when the task's
// timeout marker is set in the canonical record. With nothing answered there
// is no meaningful stop position and the task stays not-started.
func detectTimeout(sch model.TaskSchema, answers []resolved, rec *model.CanonicalRecord) *int {
	if sch.TimeoutField == "" || rec == nil {
		return nil
	}
	marker := strings.ToLower(rec.Value(sch.TimeoutField))
	switch marker {
	case "", "0", "false", "no":
		return nil
	}
	last := -1
	for i, a := range answers {
		if a.answered {
			last = i
		}
	}
	if last < 0 {
		return nil
	}
	return &last
}
