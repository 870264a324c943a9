package domain

import "testing"

func TestProjectStatus_Transitions(t *testing.T) {
	allowed := []struct{ from, to ProjectStatus }{
		{ProjectPending, ProjectInProgress},
		{ProjectPending, ProjectCancelled},
		{ProjectInProgress, ProjectReview},
		{ProjectReview, ProjectInProgress},
		{ProjectReview, ProjectDelivered},
		{ProjectDelivered, ProjectCompleted},
	}
	for _, tr := range allowed {
		if !tr.from.CanTransitionTo(tr.to) {
			t.Errorf("expected %s -> %s to be allowed", tr.from, tr.to)
		}
	}

	rejected := []struct{ from, to ProjectStatus }{
		{ProjectPending, ProjectDelivered},
		{ProjectCompleted, ProjectPending},
		{ProjectCancelled, ProjectInProgress},
		{ProjectDelivered, ProjectCancelled},
	}
	for _, tr := range rejected {
		if tr.from.CanTransitionTo(tr.to) {
			t.Errorf("expected %s -> %s to be rejected", tr.from, tr.to)
		}
	}
}

func TestProjectStatus_Valid(t *testing.T) {
	if !ProjectReview.Valid() {
		t.Error("review must be valid")
	}
	if ProjectStatus("shipped").Valid() {
		t.Error("unknown status must be invalid")
	}
}
