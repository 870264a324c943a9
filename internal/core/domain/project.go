package domain

import "time"

// ProjectStatus represents the lifecycle state of an order.
type ProjectStatus string

const (
	ProjectPending    ProjectStatus = "pending"
	ProjectInProgress ProjectStatus = "in_progress"
	ProjectReview     ProjectStatus = "review"
	ProjectDelivered  ProjectStatus = "delivered"
	ProjectCompleted  ProjectStatus = "completed"
	ProjectCancelled  ProjectStatus = "cancelled"
)

// validTransitions defines the allowed state machine transitions.
var validTransitions = map[ProjectStatus][]ProjectStatus{
	ProjectPending:    {ProjectInProgress, ProjectCancelled},
	ProjectInProgress: {ProjectReview, ProjectCancelled},
	ProjectReview:     {ProjectInProgress, ProjectDelivered},
	ProjectDelivered:  {ProjectCompleted},
}

// CanTransitionTo reports whether a transition from s to next is valid.
func (s ProjectStatus) CanTransitionTo(next ProjectStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectPending, ProjectInProgress, ProjectReview, ProjectDelivered, ProjectCompleted, ProjectCancelled:
		return true
	}
	return false
}

// ProjectSource records which writer created a project.
type ProjectSource string

const (
	SourceWebhook  ProjectSource = "webhook"
	SourceFallback ProjectSource = "fallback"
)

// Project is the order produced by a completed checkout.
type Project struct {
	ID                string        `json:"id" bson:"_id"`
	ClientID          string        `json:"client_id" bson:"client_id"`
	ServiceID         string        `json:"service_id" bson:"service_id"`
	Title             string        `json:"title" bson:"title"`
	Price             int64         `json:"price" bson:"price"`
	Status            ProjectStatus `json:"status" bson:"status"`
	CheckoutSessionID string        `json:"checkout_session_id" bson:"checkout_session_id"`
	Source            ProjectSource `json:"source" bson:"source"`
	CreatedAt         time.Time     `json:"created_at" bson:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at" bson:"updated_at"`
}
