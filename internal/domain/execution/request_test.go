package execution

import (
	"errors"
	"testing"

	"github.com/Strob0t/StreamForge/internal/domain"
)

func TestRequestValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     interface{ Validate() error }
		wantErr bool
	}{
		{"deploy ok", DeployRequest{GraphID: "graph_1"}, false},
		{"deploy traversal", DeployRequest{GraphID: "../etc"}, true},
		{"deploy empty", DeployRequest{}, true},
		{"conversation ok", ConversationRequest{GraphID: "g", Messages: []Message{{Role: "user", Content: "hi"}}}, false},
		{"conversation no messages", ConversationRequest{GraphID: "g"}, true},
		{"conversation bad role", ConversationRequest{GraphID: "g", Messages: []Message{{Role: "tool", Content: "x"}}}, true},
		{"spec ok", SpecRequest{Description: "a todo app"}, false},
		{"spec empty", SpecRequest{}, true},
		{"spec bad history", SpecRequest{Description: "x", History: []Message{{Role: "user"}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrValidation) {
				t.Errorf("error %v does not wrap ErrValidation", err)
			}
		})
	}
}
