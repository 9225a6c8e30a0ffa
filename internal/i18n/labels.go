package i18n

import (
	"context"

	"github.com/tomwchan/fourset/internal/model"
)

// StatusLabel translates a task status for display.
func StatusLabel(ctx context.Context, status model.TaskStatus) string {
	switch status {
	case model.StatusComplete:
		return T(ctx, "StatusComplete")
	case model.StatusIncomplete:
		return T(ctx, "StatusIncomplete")
	case model.StatusNotStarted:
		return T(ctx, "StatusNotStarted")
	default:
		return T(ctx, "StatusError")
	}
}

// GradeLabel translates a grade cohort for display.
func GradeLabel(ctx context.Context, g model.Grade) string {
	switch g {
	case model.GradeK1:
		return T(ctx, "GradeK1")
	case model.GradeK2:
		return T(ctx, "GradeK2")
	case model.GradeK3:
		return T(ctx, "GradeK3")
	default:
		return string(g)
	}
}
