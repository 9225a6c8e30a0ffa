package store

import (
	"database/sql"
	"strconv"
	"time"

	"github.com/tomwchan/fourset/internal/model"
)

// AddConflicts appends cross-source conflicts to the quality log.
func (s *Store) AddConflicts(conflicts []model.Conflict) error {
	if len(conflicts) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, c := range conflicts {
		_, err := tx.Exec(
			`INSERT INTO conflicts (student_id, grade, field, primary_value, secondary_value, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			c.StudentID, c.Grade, c.Field, c.PrimaryValue, c.SecondaryValue, time.Now(),
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListConflicts returns logged conflicts, all of them when studentID is empty.
func (s *Store) ListConflicts(studentID string) ([]model.Conflict, error) {
	query := `SELECT student_id, grade, field, primary_value, secondary_value FROM conflicts`
	var args []any
	if studentID != "" {
		query += ` WHERE student_id = ?`
		args = append(args, studentID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var conflicts []model.Conflict
	for rows.Next() {
		var c model.Conflict
		if err := rows.Scan(&c.StudentID, &c.Grade, &c.Field, &c.PrimaryValue, &c.SecondaryValue); err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

// ClearConflicts empties the quality log before a fresh ingest run.
func (s *Store) ClearConflicts() error {
	_, err := s.db.Exec(`DELETE FROM conflicts`)
	return err
}

// SetMetadata upserts a key-value pair in the run_metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO run_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM run_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetRunInfo stores the summary of the latest ingest run as metadata rows.
func (s *Store) SetRunInfo(info model.RunInfo) error {
	pairs := []struct{ k, v string }{
		{"run_id", info.RunID},
		{"ingested_at", info.IngestedAt.Format(time.RFC3339)},
		{"submissions", strconv.Itoa(info.Submissions)},
		{"conflicts", strconv.Itoa(info.Conflicts)},
		{"skipped", strconv.Itoa(info.Skipped)},
	}
	for _, p := range pairs {
		if err := s.SetMetadata(p.k, p.v); err != nil {
			return err
		}
	}
	return nil
}

// GetRunInfo reads the latest ingest run summary from metadata.
func (s *Store) GetRunInfo() (model.RunInfo, error) {
	var info model.RunInfo
	var err error

	if info.RunID, err = s.GetMetadata("run_id"); err != nil {
		return info, err
	}
	ts, err := s.GetMetadata("ingested_at")
	if err != nil {
		return info, err
	}
	if ts != "" {
		if info.IngestedAt, err = time.Parse(time.RFC3339, ts); err != nil {
			return info, err
		}
	}
	for _, f := range []struct {
		key string
		dst *int
	}{
		{"submissions", &info.Submissions},
		{"conflicts", &info.Conflicts},
		{"skipped", &info.Skipped},
	} {
		v, err := s.GetMetadata(f.key)
		if err != nil {
			return info, err
		}
		if v != "" {
			if *f.dst, err = strconv.Atoi(v); err != nil {
				return info, err
			}
		}
	}
	return info, nil
}
