// Package grade derives the academic-year cohort a submission belongs to.
package grade

import (
	"errors"
	"regexp"
	"time"

	"github.com/tomwchan/fourset/internal/model"
)

// ErrInvalidDateInput is returned when neither a timestamp nor a parseable
// date token is available. Callers must treat the record as unknown grade
// and exclude it from grade-scoped merging rather than guessing.
var ErrInvalidDateInput = errors.New("grade: invalid date input")

// The academic year turns over on August 1; dates before the cutoff belong
// to the previous cohort year.
const (
	cutoffMonth = time.August
	cutoffDay   = 1
)

// dateToken matches the embedded YYYYMMDD token in a session key,
// e.g. "C10233-20240917-0930".
var dateToken = regexp.MustCompile(`(20\d{6})`)

// Detector maps submission dates onto the three-year study cohorts.
// The academic year starting in August of BaseYear is K1.
type Detector struct {
	BaseYear int
}

// NewDetector returns a detector anchored at the given base year.
func NewDetector(baseYear int) Detector {
	return Detector{BaseYear: baseYear}
}

// Determine resolves the grade for a submission, preferring the direct
// timestamp and falling back to the session key's embedded date token.
func (d Detector) Determine(submittedAt time.Time, sessionKey string) (model.Grade, error) {
	if !submittedAt.IsZero() {
		return d.FromTime(submittedAt)
	}
	return d.FromSessionKey(sessionKey)
}

// FromTime resolves the grade for a direct timestamp.
func (d Detector) FromTime(t time.Time) (model.Grade, error) {
	if t.IsZero() {
		return "", ErrInvalidDateInput
	}
	start := t.Year()
	if t.Month() < cutoffMonth || (t.Month() == cutoffMonth && t.Day() < cutoffDay) {
		start--
	}
	switch start - d.BaseYear {
	case 0:
		return model.GradeK1, nil
	case 1:
		return model.GradeK2, nil
	case 2:
		return model.GradeK3, nil
	}
	return "", ErrInvalidDateInput
}

// FromSessionKey resolves the grade from the YYYYMMDD token embedded in a
// session key.
func (d Detector) FromSessionKey(key string) (model.Grade, error) {
	m := dateToken.FindString(key)
	if m == "" {
		return "", ErrInvalidDateInput
	}
	t, err := time.Parse("20060102", m)
	if err != nil {
		return "", ErrInvalidDateInput
	}
	return d.FromTime(t)
}
