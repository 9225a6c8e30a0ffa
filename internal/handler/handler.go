// Package handler serves the dashboard JSON API.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomwchan/fourset/internal/i18n"
	"github.com/tomwchan/fourset/internal/model"
	"github.com/tomwchan/fourset/internal/rules"
	"github.com/tomwchan/fourset/internal/store"
)

// RecordSource resolves the reconciled answer set for a student, nil when
// the student has no usable submissions, and exposes the submissions the
// merge had to skip.
type RecordSource interface {
	Record(studentID string) *model.CanonicalRecord
	Skipped() []model.SkippedRecord
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store      *store.Store
	agg        *rules.Aggregator
	records    RecordSource
	cacheToken string
}

// New creates a new Handler. The cache token scopes sqlite cache entries to
// the current ingest run.
func New(s *store.Store, agg *rules.Aggregator, records RecordSource, cacheToken string) *Handler {
	return &Handler{store: s, agg: agg, records: records, cacheToken: cacheToken}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/students", h.handleListStudents)
		r.Get("/students/{studentID}", h.handleStudent)
		r.Get("/students/{studentID}/rollup", h.handleStudentRollup)
		r.Get("/rollup", h.handleRosterRollup)
		r.Get("/quality", h.handleQuality)
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := h.store.ListStudents()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if students == nil {
		students = []model.Student{}
	}
	respondJSON(w, http.StatusOK, students)
}

// taskView decorates a validation with its localized status label.
type taskView struct {
	model.TaskValidation
	StatusLabel string `json:"status_label"`
}

type studentView struct {
	Student   model.Student         `json:"student"`
	Tasks     []taskView            `json:"tasks"`
	Conflicts []model.Conflict      `json:"conflicts,omitempty"`
	Skipped   []model.SkippedRecord `json:"skipped,omitempty"`
}

func (h *Handler) handleStudent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "studentID")
	st, err := h.store.GetStudent(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if st == nil {
		respondError(w, http.StatusNotFound, i18n.T(r.Context(), "StudentNotFound"))
		return
	}

	// Per-task validations are cached under the current ingest token;
	// entries from other tokens are misses and get recomputed.
	taskIDs := h.agg.ApplicableTasks(*st)
	tasks := make([]taskView, 0, len(taskIDs))
	for _, taskID := range taskIDs {
		v, err := h.store.GetValidation(id, taskID, h.cacheToken)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if v == nil {
			computed := h.agg.ValidateTask(*st, taskID, h.records.Record(id))
			if _, err := h.store.PutValidation(h.cacheToken, computed); err != nil {
				slog.Warn("validation cache write failed", "student", id, "task", taskID, "error", err)
			}
			v = &computed
		}
		tasks = append(tasks, taskView{
			TaskValidation: *v,
			StatusLabel:    i18n.StatusLabel(r.Context(), v.Status),
		})
	}

	conflicts, err := h.store.ListConflicts(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, studentView{
		Student:   *st,
		Tasks:     tasks,
		Conflicts: conflicts,
		Skipped:   skippedFor(h.records.Skipped(), id),
	})
}

// skippedFor filters merge skips down to one student.
func skippedFor(all []model.SkippedRecord, studentID string) []model.SkippedRecord {
	var out []model.SkippedRecord
	for _, sk := range all {
		if sk.StudentID == studentID {
			out = append(out, sk)
		}
	}
	return out
}

func (h *Handler) handleStudentRollup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "studentID")
	st, err := h.store.GetStudent(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if st == nil {
		respondError(w, http.StatusNotFound, i18n.T(r.Context(), "StudentNotFound"))
		return
	}

	rollups, err := h.store.GetRollups(h.cacheToken, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rollups == nil {
		rollups = h.agg.RollupStudent(*st, h.records.Record(id))
		if _, err := h.store.PutRollups(h.cacheToken, id, rollups); err != nil {
			slog.Warn("rollup cache write failed", "student", id, "error", err)
		}
	}
	respondJSON(w, http.StatusOK, rollups)
}

type rosterRollupView struct {
	Student model.Student     `json:"student"`
	Rollups []model.SetRollup `json:"rollups"`
}

func (h *Handler) handleRosterRollup(w http.ResponseWriter, r *http.Request) {
	students, err := h.store.ListStudents()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	records := make(map[string]*model.CanonicalRecord, len(students))
	for _, st := range students {
		records[st.ID] = h.records.Record(st.ID)
	}

	results := h.agg.RollupRoster(students, records)
	views := make([]rosterRollupView, 0, len(results))
	for _, res := range results {
		views = append(views, rosterRollupView{Student: res.Student, Rollups: res.Rollups})
	}
	respondJSON(w, http.StatusOK, views)
}

type qualityView struct {
	Run       model.RunInfo         `json:"run"`
	Summary   string                `json:"summary"`
	Conflicts []model.Conflict      `json:"conflicts"`
	Skipped   []model.SkippedRecord `json:"skipped"`
}

func (h *Handler) handleQuality(w http.ResponseWriter, r *http.Request) {
	studentID := r.URL.Query().Get("student")
	conflicts, err := h.store.ListConflicts(studentID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	run, err := h.store.GetRunInfo()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if conflicts == nil {
		conflicts = []model.Conflict{}
	}
	skipped := h.records.Skipped()
	if studentID != "" {
		skipped = skippedFor(skipped, studentID)
	}
	if skipped == nil {
		skipped = []model.SkippedRecord{}
	}
	respondJSON(w, http.StatusOK, qualityView{
		Run:       run,
		Summary:   i18n.Tp(r.Context(), "ConflictCount", len(conflicts)),
		Conflicts: conflicts,
		Skipped:   skipped,
	})
}
