package app

import (
	"context"
	"log/slog"
	"unicode/utf8"

	"minijira/api/internal/store"
)

// recordActivity appends one audit entry after a mutation is durably applied.
// Insert failure is logged and swallowed: audit durability must never roll
// back the mutation it describes.
func (s *Service) recordActivity(ctx context.Context, activity store.Activity) {
	if err := s.store.InsertActivity(ctx, activity); err != nil {
		slog.Error("record activity failed",
			"type", activity.Type,
			"project_id", activity.ProjectID,
			"actor_id", activity.ActorID,
			"error", err,
		)
	}
}

// commentPreview truncates a comment body for the activity meta snapshot.
// Cuts on a rune boundary so multi-byte text stays valid.
func commentPreview(body string) string {
	const max = 80
	if utf8.RuneCountInString(body) <= max {
		return body
	}
	return string([]rune(body)[:max])
}
