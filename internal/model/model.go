package model

import (
	"strings"
	"time"
)

// SourceTag identifies the survey platform a submission was collected on.
type SourceTag string

const (
	// SourceJotform is the primary collection platform.
	SourceJotform SourceTag = "jotform"
	// SourceQualtrics is the secondary collection platform.
	SourceQualtrics SourceTag = "qualtrics"
)

// Grade is the academic-year cohort a record belongs to.
type Grade string

const (
	GradeK1 Grade = "K1"
	GradeK2 Grade = "K2"
	GradeK3 Grade = "K3"
)

// Gender is a normalized student gender used for task applicability.
type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderUnknown Gender = ""
)

// NormalizeGender maps the many recorded spellings to a canonical value.
func NormalizeGender(raw string) Gender {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "m", "male", "boy", "男", "男仔", "男孩":
		return GenderMale
	case "f", "female", "girl", "女", "女仔", "女孩":
		return GenderFemale
	default:
		return GenderUnknown
	}
}

// Answer is one recorded field value on a raw submission.
type Answer struct {
	Value string `json:"value"`
	Text  string `json:"text,omitempty"`
}

// Empty reports whether the answer carries no usable value.
func (a Answer) Empty() bool {
	return strings.TrimSpace(a.Value) == "" && strings.TrimSpace(a.Text) == ""
}

// RawSubmission is one ingested record for one student at one point in time.
// Immutable once ingested.
type RawSubmission struct {
	StudentID   string            `json:"student_id"`
	Source      SourceTag         `json:"source"`
	SessionKey  string            `json:"session_key"`
	SubmittedAt time.Time         `json:"submitted_at"`
	Fields      map[string]Answer `json:"fields"`
}

// FieldEntry is the winning value for one question after merging.
type FieldEntry struct {
	Value       string    `json:"value"`
	Text        string    `json:"text,omitempty"`
	Source      SourceTag `json:"source"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// CanonicalRecord is the single reconciled answer set for one student
// within one grade. Downstream stages treat it as read-only.
type CanonicalRecord struct {
	StudentID  string                `json:"student_id"`
	Grade      Grade                 `json:"grade"`
	SessionKey string                `json:"session_key"`
	Fields     map[string]FieldEntry `json:"fields"`
}

// Value returns the trimmed canonical value for a question id,
// or "" when the field is absent.
func (r *CanonicalRecord) Value(id string) string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.Fields[id].Value)
}

// Text returns the trimmed free-text companion value for a question id.
func (r *CanonicalRecord) Text(id string) string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.Fields[id].Text)
}

// Has reports whether the record carries a field for a question id.
func (r *CanonicalRecord) Has(id string) bool {
	if r == nil {
		return false
	}
	_, ok := r.Fields[id]
	return ok
}

// Conflict records a field where the two sources disagree after merge.
// It is a data-quality observation, never an error.
type Conflict struct {
	StudentID      string `json:"student_id"`
	Grade          Grade  `json:"grade"`
	Field          string `json:"field"`
	PrimaryValue   string `json:"primary_value"`
	SecondaryValue string `json:"secondary_value"`
}

// SkippedRecord describes a submission excluded from merging.
type SkippedRecord struct {
	StudentID  string    `json:"student_id"`
	Source     SourceTag `json:"source"`
	SessionKey string    `json:"session_key"`
	Reason     string    `json:"reason"`
}

// QuestionKind classifies a question spec.
type QuestionKind string

const (
	// KindChoice is a plain single-choice question.
	KindChoice QuestionKind = "choice"
	// KindChoiceText is a choice question with a paired free-text field.
	KindChoiceText QuestionKind = "choice_text"
	// KindGroup is a composite group of child questions.
	KindGroup QuestionKind = "group"
	// KindInstruction is instructional-only and never scored.
	KindInstruction QuestionKind = "instruction"
	// KindTerminal marks a termination checkpoint and is never scored.
	KindTerminal QuestionKind = "terminal"
)

// Condition gates a question's visibility on a prior answer.
type Condition struct {
	QuestionID string `json:"question_id"`
	Equals     string `json:"equals"`
}

// QuestionSpec is the static definition of one question within a task.
type QuestionSpec struct {
	ID            string         `json:"id"`
	Kind          QuestionKind   `json:"kind"`
	CorrectAnswer string         `json:"correct_answer,omitempty"`
	Options       []string       `json:"options,omitempty"`
	VisibleWhen   *Condition     `json:"visible_when,omitempty"`
	Unscored      bool           `json:"unscored,omitempty"`
	Children      []QuestionSpec `json:"children,omitempty"`
}

// RuleKind enumerates the closed set of termination rule families.
type RuleKind string

const (
	RuleNone        RuleKind = ""
	RuleStage       RuleKind = "stage"
	RuleConsecutive RuleKind = "consecutive"
	RuleThreshold   RuleKind = "threshold"
)

// TerminationRule describes one rule family and its parameters.
// Only the fields relevant to Kind are set.
type TerminationRule struct {
	Kind RuleKind `json:"kind"`
	// Stage: number of equal partitions and correct answers required per stage.
	Stages     int `json:"stages,omitempty"`
	MinCorrect int `json:"min_correct,omitempty"`
	// Consecutive: incorrect answers in a row that trigger termination.
	Run int `json:"run,omitempty"`
	// Threshold: designated question ids and the failing sentinel value.
	Subset   []string `json:"subset,omitempty"`
	Sentinel string   `json:"sentinel,omitempty"`
}

// TaskSchema is the static definition of one assessment task.
type TaskSchema struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Gender Gender `json:"gender,omitempty"`
	// Authority is the platform whose data owns this task's fields during
	// cross-source merging. Empty means the primary platform.
	Authority SourceTag `json:"authority,omitempty"`
	// TimeoutField names the canonical field that marks a timeout, if any.
	TimeoutField string          `json:"timeout_field,omitempty"`
	Questions    []QuestionSpec  `json:"questions"`
	Termination  TerminationRule `json:"termination"`
}

// TaskStatus is the per-task completion bucket shown on the dashboard.
type TaskStatus string

const (
	StatusComplete   TaskStatus = "complete"
	StatusIncomplete TaskStatus = "incomplete"
	StatusNotStarted TaskStatus = "not_started"
	StatusError      TaskStatus = "error"
)

// QuestionResult is the validation outcome for a single question.
type QuestionResult struct {
	QuestionID  string `json:"question_id"`
	Position    int    `json:"position"`
	Answer      string `json:"answer,omitempty"`
	DisplayText string `json:"display_text,omitempty"`
	// Correct is nil for questions that carry no correct answer.
	Correct  *bool  `json:"correct,omitempty"`
	Excluded bool   `json:"excluded,omitempty"`
	Note     string `json:"note,omitempty"`
}

// TaskValidation is the validation outcome for one (student, task) pair.
type TaskValidation struct {
	StudentID string `json:"student_id"`
	TaskID    string `json:"task_id"`
	// Err carries a task-level error marker such as "schema-not-found".
	Err                       string           `json:"error,omitempty"`
	Questions                 []QuestionResult `json:"questions,omitempty"`
	TerminatedAt              *int             `json:"terminated_at,omitempty"`
	TimedOutAt                *int             `json:"timed_out_at,omitempty"`
	HasPostTerminationAnswers bool             `json:"has_post_termination_answers,omitempty"`
	AdjustedTotal             int              `json:"adjusted_total"`
	AdjustedAnswered          int              `json:"adjusted_answered"`
	CompletionRatio           float64          `json:"completion_ratio"`
	Complete                  bool             `json:"complete"`
	Status                    TaskStatus       `json:"status"`
}

// Student is one roster entry.
type Student struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Class  string `json:"class"`
	Gender string `json:"gender"`
	Group  string `json:"group"`
}

// TaskSet groups related tasks for rollup counting.
type TaskSet struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	TaskIDs []string `json:"task_ids"`
}

// SetRollup is the per-(student, set) completion count.
type SetRollup struct {
	StudentID  string `json:"student_id"`
	SetID      string `json:"set_id"`
	Complete   int    `json:"complete"`
	Incomplete int    `json:"incomplete"`
	NotStarted int    `json:"not_started"`
}

// RunInfo summarizes the latest ingest run.
type RunInfo struct {
	RunID       string    `json:"run_id"`
	IngestedAt  time.Time `json:"ingested_at"`
	Submissions int       `json:"submissions"`
	Conflicts   int       `json:"conflicts"`
	Skipped     int       `json:"skipped"`
}
