package execution

import (
	"fmt"
	"regexp"

	"github.com/Strob0t/StreamForge/internal/domain"
)

var graphIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// ValidateGraphID rejects ids that could escape the graph work directory.
func ValidateGraphID(id string) error {
	if !graphIDPattern.MatchString(id) {
		return fmt.Errorf("%w: graph_id %q must match %s", domain.ErrValidation, id, graphIDPattern)
	}
	return nil
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Validate checks role and content.
func (m Message) Validate() error {
	switch m.Role {
	case "user", "assistant", "system":
	default:
		return fmt.Errorf("%w: unsupported message role %q", domain.ErrValidation, m.Role)
	}
	if m.Content == "" {
		return fmt.Errorf("%w: message content is required", domain.ErrValidation)
	}
	return nil
}

// ConversationRequest starts a conversational agent run against a graph.
type ConversationRequest struct {
	GraphID  string    `json:"graph_id"`
	Messages []Message `json:"messages"`
}

// Validate checks the request.
func (r ConversationRequest) Validate() error {
	if err := ValidateGraphID(r.GraphID); err != nil {
		return err
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("%w: messages must not be empty", domain.ErrValidation)
	}
	for _, m := range r.Messages {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SpecRequest asks the spec generator for a graph specification.
type SpecRequest struct {
	Description string    `json:"description"`
	History     []Message `json:"history,omitempty"`
}

// Validate checks the request.
func (r SpecRequest) Validate() error {
	if r.Description == "" {
		return fmt.Errorf("%w: description is required", domain.ErrValidation)
	}
	for _, m := range r.History {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// DeployRequest builds and mounts the frontend of a graph.
type DeployRequest struct {
	GraphID  string `json:"graph_id"`
	Redeploy bool   `json:"redeploy"`
}

// Validate checks the request.
func (r DeployRequest) Validate() error {
	return ValidateGraphID(r.GraphID)
}
