package app

import (
	"net/http"

	"minijira/api/internal/store"
)

// allowedTransitions is the forward-only sprint lifecycle. CLOSED is terminal;
// same-state and backward requests are rejected.
var allowedTransitions = map[store.SprintStatus]store.SprintStatus{
	store.SprintPlanned: store.SprintActive,
	store.SprintActive:  store.SprintClosed,
}

func validSprintStatus(status store.SprintStatus) bool {
	switch status {
	case store.SprintPlanned, store.SprintActive, store.SprintClosed:
		return true
	}
	return false
}

// checkTransition validates a requested sprint status change against the
// lifecycle table.
func checkTransition(from, to store.SprintStatus) error {
	if !validSprintStatus(to) {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Unknown sprint status", nil)
	}
	if allowedTransitions[from] != to {
		return domainError(http.StatusBadRequest, "INVALID_TRANSITION",
			"Sprint status can only move PLANNED to ACTIVE to CLOSED", map[string]any{
				"from":      from,
				"requested": to,
			})
	}
	return nil
}

func validIssueStatus(status store.IssueStatus) bool {
	switch status {
	case store.StatusTodo, store.StatusInProgress, store.StatusInReview, store.StatusDone:
		return true
	}
	return false
}
