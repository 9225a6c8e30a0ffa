// Package ingest turns survey-platform export payloads into raw submissions.
package ingest

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/tomwchan/fourset/internal/model"
)

// sessionKeyField is the shared session identifier both platforms record.
const sessionKeyField = "sessionkey"

// jotformTimeLayout is the created_at format of JotForm exports.
const jotformTimeLayout = "2006-01-02 15:04:05"

// qualtricsMeta lists response metadata keys that are not answer fields.
var qualtricsMeta = map[string]bool{
	"startDate": true, "endDate": true, "recordedDate": true,
	"status": true, "progress": true, "finished": true,
	"duration": true, "ipAddress": true, "locationLatitude": true,
	"locationLongitude": true, "distributionChannel": true,
	"userLanguage": true, "responseId": true,
}

// ParseJotform extracts submissions from a JotForm submissions payload
// (`content[].answers.*`). Malformed entries are skipped with a warning.
func ParseJotform(data []byte) ([]model.RawSubmission, error) {
	doc := gjson.ParseBytes(data)
	content := doc.Get("content")
	if !content.IsArray() {
		return nil, fmt.Errorf("jotform payload: missing content array")
	}

	var subs []model.RawSubmission
	content.ForEach(func(_, item gjson.Result) bool {
		sub := model.RawSubmission{
			Source: model.SourceJotform,
			Fields: make(map[string]model.Answer),
		}

		if ts, err := time.Parse(jotformTimeLayout, item.Get("created_at").String()); err == nil {
			sub.SubmittedAt = ts.UTC()
		}

		item.Get("answers").ForEach(func(_, ans gjson.Result) bool {
			name := strings.TrimSpace(ans.Get("name").String())
			if name == "" {
				return true
			}
			value := ans.Get("answer").String()
			switch strings.ToLower(name) {
			case sessionKeyField:
				sub.SessionKey = strings.TrimSpace(value)
			case "student_id", "child_id":
				sub.StudentID = strings.TrimSpace(value)
			default:
				sub.Fields[name] = model.Answer{Value: value}
			}
			return true
		})

		if sub.StudentID == "" {
			sub.StudentID = studentFromSessionKey(sub.SessionKey)
		}
		if sub.StudentID == "" {
			slog.Warn("jotform submission without student identity, skipping",
				"submission_id", item.Get("id").String())
			return true
		}
		subs = append(subs, sub)
		return true
	})
	return subs, nil
}

// ParseQualtrics extracts submissions from a Qualtrics JSON export
// (`responses[].values`).
func ParseQualtrics(data []byte) ([]model.RawSubmission, error) {
	doc := gjson.ParseBytes(data)
	responses := doc.Get("responses")
	if !responses.IsArray() {
		return nil, fmt.Errorf("qualtrics payload: missing responses array")
	}

	var subs []model.RawSubmission
	responses.ForEach(func(_, item gjson.Result) bool {
		sub := model.RawSubmission{
			Source: model.SourceQualtrics,
			Fields: make(map[string]model.Answer),
		}

		values := item.Get("values")
		for _, key := range []string{"recordedDate", "endDate"} {
			if ts, err := time.Parse(time.RFC3339, values.Get(key).String()); err == nil {
				sub.SubmittedAt = ts.UTC()
				break
			}
		}

		values.ForEach(func(key, val gjson.Result) bool {
			name := key.String()
			if qualtricsMeta[name] {
				return true
			}
			switch strings.ToLower(name) {
			case sessionKeyField:
				sub.SessionKey = strings.TrimSpace(val.String())
			case "student_id", "child_id":
				sub.StudentID = strings.TrimSpace(val.String())
			default:
				sub.Fields[name] = model.Answer{Value: val.String()}
			}
			return true
		})

		if sub.StudentID == "" {
			sub.StudentID = studentFromSessionKey(sub.SessionKey)
		}
		if sub.StudentID == "" {
			slog.Warn("qualtrics response without student identity, skipping",
				"response_id", item.Get("responseId").String())
			return true
		}
		subs = append(subs, sub)
		return true
	})
	return subs, nil
}

// studentFromSessionKey derives the student id from the session key, which
// the collection forms compose as "<student>-<YYYYMMDD>[-...]".
func studentFromSessionKey(key string) string {
	if i := strings.Index(key, "-"); i > 0 {
		return key[:i]
	}
	return ""
}

// Parse detects the platform from the payload shape.
func Parse(data []byte) ([]model.RawSubmission, error) {
	doc := gjson.ParseBytes(data)
	switch {
	case doc.Get("content").Exists():
		return ParseJotform(data)
	case doc.Get("responses").Exists():
		return ParseQualtrics(data)
	default:
		return nil, fmt.Errorf("unrecognized export payload")
	}
}

// LoadDir parses every JSON export file in a directory. A file that fails
// to parse is logged and skipped; ingestion of the rest continues.
func LoadDir(dir string) ([]model.RawSubmission, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read submissions dir: %w", err)
	}

	var subs []model.RawSubmission
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("unreadable export file, skipping", "path", path, "error", err)
			continue
		}
		parsed, err := Parse(data)
		if err != nil {
			slog.Warn("unparseable export file, skipping", "path", path, "error", err)
			continue
		}
		slog.Info("ingested export file", "path", path, "submissions", len(parsed))
		subs = append(subs, parsed...)
	}
	return subs, nil
}
