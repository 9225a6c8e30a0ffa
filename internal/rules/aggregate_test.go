package rules

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/tomwchan/fourset/internal/model"
)

func testCatalog() (schemaMap, []model.TaskSet) {
	schemas := schemaMap{
		"ERVT":       seqTask("ERVT", 4, model.TerminationRule{}),
		"CRT":        seqTask("CRT", 6, model.TerminationRule{Kind: model.RuleConsecutive, Run: 2}),
		"TEC_Male":   seqTask("TEC_Male", 3, model.TerminationRule{}),
		"TEC_Female": seqTask("TEC_Female", 3, model.TerminationRule{}),
	}
	m := schemas["TEC_Male"]
	m.Gender = model.GenderMale
	schemas["TEC_Male"] = m
	f := schemas["TEC_Female"]
	f.Gender = model.GenderFemale
	schemas["TEC_Female"] = f

	sets := []model.TaskSet{
		{ID: "set1", Name: "Set 1", TaskIDs: []string{"ERVT", "CRT"}},
		{ID: "set2", Name: "Set 2", TaskIDs: []string{"TEC_Male", "TEC_Female"}},
	}
	return schemas, sets
}

func TestGenderRestrictedApplicability(t *testing.T) {
	schemas, sets := testCatalog()
	agg := NewAggregator(NewEngine(schemas), sets, 1)

	boy := model.Student{ID: "C1", Gender: "M"}
	girl := model.Student{ID: "C2", Gender: "女"}

	taskIDs := func(vs []model.TaskValidation) []string {
		var ids []string
		for _, v := range vs {
			ids = append(ids, v.TaskID)
		}
		return ids
	}

	boyTasks := taskIDs(agg.EvaluateStudent(boy, nil))
	for _, id := range boyTasks {
		if id == "TEC_Female" {
			t.Error("female-only task evaluated for a male student")
		}
	}
	if len(boyTasks) != 3 {
		t.Errorf("expected 3 applicable tasks, got %v", boyTasks)
	}

	girlTasks := taskIDs(agg.EvaluateStudent(girl, nil))
	for _, id := range girlTasks {
		if id == "TEC_Male" {
			t.Error("male-only task evaluated for a female student")
		}
	}

	// Unknown gender: neither restricted variant applies.
	unknownTasks := taskIDs(agg.EvaluateStudent(model.Student{ID: "C3"}, nil))
	if len(unknownTasks) != 2 {
		t.Errorf("expected only unrestricted tasks, got %v", unknownTasks)
	}
}

func TestRollupCounts(t *testing.T) {
	schemas, sets := testCatalog()
	agg := NewAggregator(NewEngine(schemas), sets, 1)

	st := model.Student{ID: "C1", Gender: "male"}
	rec := record(map[string]string{
		// ERVT complete.
		"ERVT_Q1": "A", "ERVT_Q2": "A", "ERVT_Q3": "A", "ERVT_Q4": "A",
		// CRT incomplete: a gap in range, no termination.
		"CRT_Q1": "A", "CRT_Q3": "A", "CRT_Q6": "A",
		// TEC_Male untouched: not started.
	})

	rollups := agg.RollupStudent(st, rec)
	if len(rollups) != 2 {
		t.Fatalf("expected 2 rollups, got %d", len(rollups))
	}

	set1 := rollups[0]
	if set1.Complete != 1 || set1.Incomplete != 1 || set1.NotStarted != 0 {
		t.Errorf("set1: expected 1/1/0, got %d/%d/%d", set1.Complete, set1.Incomplete, set1.NotStarted)
	}
	set2 := rollups[1]
	if set2.Complete != 0 || set2.Incomplete != 0 || set2.NotStarted != 1 {
		t.Errorf("set2: expected 0/0/1, got %d/%d/%d", set2.Complete, set2.Incomplete, set2.NotStarted)
	}
}

// Cross-path equivalence: the aggregator must produce the exact per-task
// results the direct engine call produces.
func TestCrossPathEquivalence(t *testing.T) {
	schemas, sets := testCatalog()
	engine := NewEngine(schemas)
	agg := NewAggregator(engine, sets, 4)

	st := model.Student{ID: "C1", Gender: "M"}
	rec := record(map[string]string{
		"ERVT_Q1": "A", "ERVT_Q2": "B",
		"CRT_Q1": "B", "CRT_Q2": "B", "CRT_Q5": "A",
		"TEC_Male_Q1": "A",
	})

	for _, v := range agg.EvaluateStudent(st, rec) {
		direct := engine.Validate(st.ID, v.TaskID, rec)
		if v.Complete != direct.Complete ||
			v.AdjustedTotal != direct.AdjustedTotal ||
			v.AdjustedAnswered != direct.AdjustedAnswered {
			t.Errorf("task %s: aggregate (%v %d/%d) != direct (%v %d/%d)",
				v.TaskID,
				v.Complete, v.AdjustedAnswered, v.AdjustedTotal,
				direct.Complete, direct.AdjustedAnswered, direct.AdjustedTotal)
		}
	}
}

func TestMissingSchemaMarkedNotOmitted(t *testing.T) {
	schemas, _ := testCatalog()
	sets := []model.TaskSet{{ID: "set1", TaskIDs: []string{"ERVT", "GHOST"}}}
	agg := NewAggregator(NewEngine(schemas), sets, 1)

	vs := agg.EvaluateStudent(model.Student{ID: "C1"}, nil)
	if len(vs) != 2 {
		t.Fatalf("expected a result for every requested task, got %d", len(vs))
	}
	var ghost *model.TaskValidation
	for i := range vs {
		if vs[i].TaskID == "GHOST" {
			ghost = &vs[i]
		}
	}
	if ghost == nil {
		t.Fatal("missing-schema task omitted from results")
	}
	if ghost.Err != SchemaNotFound || ghost.Status != model.StatusError {
		t.Errorf("expected explicit error marker, got %+v", ghost)
	}

	// The errored task lands in no rollup bucket.
	r := agg.RollupStudent(model.Student{ID: "C1"}, nil)[0]
	if r.Complete+r.Incomplete+r.NotStarted != 1 {
		t.Errorf("expected only ERVT counted, got %+v", r)
	}
}

// Re-running the full roster on unchanged inputs yields byte-identical
// output, regardless of worker scheduling.
func TestRosterIdempotence(t *testing.T) {
	schemas, sets := testCatalog()
	agg := NewAggregator(NewEngine(schemas), sets, 8)

	var students []model.Student
	records := make(map[string]*model.CanonicalRecord)
	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("C%03d", i)
		gender := "M"
		if i%2 == 0 {
			gender = "F"
		}
		students = append(students, model.Student{ID: id, Gender: gender})
		fields := map[string]string{"ERVT_Q1": "A"}
		if i%3 == 0 {
			fields["CRT_Q1"] = "B"
			fields["CRT_Q2"] = "B"
		}
		records[id] = record(fields)
	}

	first, err := json.Marshal(agg.RollupRoster(students, records))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := json.Marshal(agg.RollupRoster(students, records))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(first) != string(again) {
			t.Fatal("roster output varies across identical runs")
		}
	}
}
