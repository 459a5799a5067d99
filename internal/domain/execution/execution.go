// Package execution defines the lifecycle of a submitted unit of long-running work.
package execution

import "time"

// Status represents the lifecycle state of an execution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Terminal reports whether the producer has finished.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// allowed lists the legal lifecycle transitions.
var allowed = map[Status][]Status{
	StatusPending:   {StatusRunning, StatusCancelled},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted: {StatusExpired},
	StatusFailed:    {StatusExpired},
	StatusCancelled: {StatusExpired},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Type identifies which producer drives an execution.
type Type string

const (
	TypeConversation Type = "conversation"
	TypeSpec         Type = "spec"
	TypeDeploy       Type = "deploy"
)

// Info is a point-in-time snapshot of an execution handle.
type Info struct {
	ID             string     `json:"execution_id"`
	Type           Type       `json:"type"`
	Status         Status     `json:"status"`
	LastSequence   int64      `json:"last_sequence"`
	Subscribers    int        `json:"subscribers"`
	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	// FinalStatus is the terminal status an expired execution ended with.
	FinalStatus Status `json:"final_status,omitempty"`
}

// SubmitResponse is returned when a producer has been started.
type SubmitResponse struct {
	ExecutionID string `json:"execution_id"`
	Status      Status `json:"status"`
	StreamURL   string `json:"stream_url"`
}
