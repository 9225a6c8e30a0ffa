// Package store persists the roster and caches validation output in sqlite.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomwchan/fourset/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		class TEXT NOT NULL DEFAULT '',
		gender TEXT NOT NULL DEFAULT '',
		grp TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS validation_cache (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		cache_token TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE (student_id, task_id, cache_token)
	);

	CREATE TABLE IF NOT EXISTS rollup_cache (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		cache_token TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE (student_id, cache_token)
	);

	CREATE TABLE IF NOT EXISTS conflicts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id TEXT NOT NULL,
		grade TEXT NOT NULL,
		field TEXT NOT NULL,
		primary_value TEXT NOT NULL DEFAULT '',
		secondary_value TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// UpsertStudent inserts or updates a roster entry.
func (s *Store) UpsertStudent(st model.Student) error {
	_, err := s.db.Exec(
		`INSERT INTO students (id, name, class, gender, grp) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = ?, class = ?, gender = ?, grp = ?`,
		st.ID, st.Name, st.Class, st.Gender, st.Group,
		st.Name, st.Class, st.Gender, st.Group,
	)
	return err
}

// GetStudent returns a roster entry by id.
func (s *Store) GetStudent(id string) (*model.Student, error) {
	var st model.Student
	err := s.db.QueryRow(
		`SELECT id, name, class, gender, grp FROM students WHERE id = ?`, id,
	).Scan(&st.ID, &st.Name, &st.Class, &st.Gender, &st.Group)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// ListStudents returns the roster ordered by id.
func (s *Store) ListStudents() ([]model.Student, error) {
	rows, err := s.db.Query(`SELECT id, name, class, gender, grp FROM students ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var students []model.Student
	for rows.Next() {
		var st model.Student
		if err := rows.Scan(&st.ID, &st.Name, &st.Class, &st.Gender, &st.Group); err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

// PutValidation caches one task validation under a cache token. A fresh run
// id is minted per write so stale reads are distinguishable in logs.
func (s *Store) PutValidation(token string, v model.TaskValidation) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode validation: %w", err)
	}
	runID := uuid.NewString()
	_, err = s.db.Exec(
		`INSERT INTO validation_cache (run_id, student_id, task_id, cache_token, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(student_id, task_id, cache_token) DO UPDATE SET run_id = ?, payload = ?, created_at = ?`,
		runID, v.StudentID, v.TaskID, token, string(payload), time.Now(),
		runID, string(payload), time.Now(),
	)
	return runID, err
}

// GetValidation returns the cached validation for a student, task, and
// cache token, or nil on a miss.
func (s *Store) GetValidation(studentID, taskID, token string) (*model.TaskValidation, error) {
	var payload string
	err := s.db.QueryRow(
		`SELECT payload FROM validation_cache
		 WHERE student_id = ? AND task_id = ? AND cache_token = ?`,
		studentID, taskID, token,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var v model.TaskValidation
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return nil, fmt.Errorf("decode validation: %w", err)
	}
	return &v, nil
}

// PutRollups caches a student's per-set rollups under a cache token.
func (s *Store) PutRollups(token, studentID string, rollups []model.SetRollup) (string, error) {
	payload, err := json.Marshal(rollups)
	if err != nil {
		return "", fmt.Errorf("encode rollups: %w", err)
	}
	runID := uuid.NewString()
	_, err = s.db.Exec(
		`INSERT INTO rollup_cache (run_id, student_id, cache_token, payload, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(student_id, cache_token) DO UPDATE SET run_id = ?, payload = ?, created_at = ?`,
		runID, studentID, token, string(payload), time.Now(),
		runID, string(payload), time.Now(),
	)
	return runID, err
}

// GetRollups returns the cached rollups for a student and cache token, or
// nil on a miss.
func (s *Store) GetRollups(token, studentID string) ([]model.SetRollup, error) {
	var payload string
	err := s.db.QueryRow(
		`SELECT payload FROM rollup_cache WHERE student_id = ? AND cache_token = ?`,
		studentID, token,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rollups []model.SetRollup
	if err := json.Unmarshal([]byte(payload), &rollups); err != nil {
		return nil, fmt.Errorf("decode rollups: %w", err)
	}
	return rollups, nil
}

// PurgeStale removes cache rows written under other cache tokens.
func (s *Store) PurgeStale(token string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM validation_cache WHERE cache_token != ?`, token); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM rollup_cache WHERE cache_token != ?`, token); err != nil {
		return err
	}
	return tx.Commit()
}
