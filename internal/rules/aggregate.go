package rules

import (
	"sync"

	"github.com/tomwchan/fourset/internal/model"
)

// Aggregator rolls per-student validations into per-set counts. It drives
// the exact same Evaluate path as the single-student detail view, so the
// two can never disagree on completion.
type Aggregator struct {
	engine  *Engine
	sets    []model.TaskSet
	workers int
}

// NewAggregator creates an Aggregator. workers bounds the roster fan-out;
// values below 1 evaluate students sequentially.
func NewAggregator(engine *Engine, sets []model.TaskSet, workers int) *Aggregator {
	if workers < 1 {
		workers = 1
	}
	return &Aggregator{engine: engine, sets: sets, workers: workers}
}

// applicable resolves gender-restricted task applicability once per
// (student, task), before any question-level evaluation.
func (a *Aggregator) applicable(taskID string, st model.Student) bool {
	sch, ok := a.engine.schemas.Task(taskID)
	if !ok {
		// Missing schemas surface as explicit error markers downstream.
		return true
	}
	if sch.Gender == model.GenderUnknown {
		return true
	}
	return sch.Gender == model.NormalizeGender(st.Gender)
}

// ApplicableTasks returns the task ids the student would be evaluated on,
// in set order.
func (a *Aggregator) ApplicableTasks(st model.Student) []string {
	var out []string
	for _, set := range a.sets {
		for _, taskID := range set.TaskIDs {
			if a.applicable(taskID, st) {
				out = append(out, taskID)
			}
		}
	}
	return out
}

// ValidateTask runs the engine for a single task.
func (a *Aggregator) ValidateTask(st model.Student, taskID string, rec *model.CanonicalRecord) model.TaskValidation {
	return a.engine.Validate(st.ID, taskID, rec)
}

// EvaluateStudent runs the engine for every applicable task across all sets.
func (a *Aggregator) EvaluateStudent(st model.Student, rec *model.CanonicalRecord) []model.TaskValidation {
	var out []model.TaskValidation
	for _, taskID := range a.ApplicableTasks(st) {
		out = append(out, a.engine.Validate(st.ID, taskID, rec))
	}
	return out
}

// RollupStudent sums one student's validations into per-set counts.
// Errored tasks are reported on the validations, not in the counts.
func (a *Aggregator) RollupStudent(st model.Student, rec *model.CanonicalRecord) []model.SetRollup {
	rollups := make([]model.SetRollup, 0, len(a.sets))
	for _, set := range a.sets {
		r := model.SetRollup{StudentID: st.ID, SetID: set.ID}
		for _, taskID := range set.TaskIDs {
			if !a.applicable(taskID, st) {
				continue
			}
			switch a.engine.Validate(st.ID, taskID, rec).Status {
			case model.StatusComplete:
				r.Complete++
			case model.StatusIncomplete:
				r.Incomplete++
			case model.StatusNotStarted:
				r.NotStarted++
			}
		}
		rollups = append(rollups, r)
	}
	return rollups
}

// StudentResult bundles one student's evaluation output.
type StudentResult struct {
	Student     model.Student          `json:"student"`
	Validations []model.TaskValidation `json:"validations"`
	Rollups     []model.SetRollup      `json:"rollups"`
}

// RollupRoster evaluates every student. Students are independent, so the
// fan-out needs no coordination beyond collecting results; output order
// matches the roster order regardless of scheduling.
func (a *Aggregator) RollupRoster(students []model.Student, records map[string]*model.CanonicalRecord) []StudentResult {
	results := make([]StudentResult, len(students))

	var wg sync.WaitGroup
	sem := make(chan struct{}, a.workers)
	for i, st := range students {
		wg.Add(1)
		go func(i int, st model.Student) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			rec := records[st.ID]
			results[i] = StudentResult{
				Student:     st,
				Validations: a.EvaluateStudent(st, rec),
				Rollups:     a.RollupStudent(st, rec),
			}
		}(i, st)
	}
	wg.Wait()

	return results
}
