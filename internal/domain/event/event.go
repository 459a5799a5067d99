// Package event defines the ordered, typed events produced by an execution.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Strob0t/StreamForge/internal/domain"
)

// Kind identifies the payload shape of an event.
type Kind string

const (
	KindStart        Kind = "start"
	KindPing         Kind = "ping"
	KindDelta        Kind = "delta"
	KindProgress     Kind = "progress"
	KindLog          Kind = "log"
	KindToolCall     Kind = "tool_call"
	KindToolOutput   Kind = "tool_output"
	KindResult       Kind = "result"
	KindDeployResult Kind = "deploy_result"
	KindError        Kind = "error"
	KindCancel       Kind = "cancel"
	KindDone         Kind = "done"
)

// validKinds enumerates the closed set of event kinds.
var validKinds = map[Kind]bool{
	KindStart:        true,
	KindPing:         true,
	KindDelta:        true,
	KindProgress:     true,
	KindLog:          true,
	KindToolCall:     true,
	KindToolOutput:   true,
	KindResult:       true,
	KindDeployResult: true,
	KindError:        true,
	KindCancel:       true,
	KindDone:         true,
}

// Valid reports whether k belongs to the closed kind set.
func (k Kind) Valid() bool { return validKinds[k] }

// Payload is the body of an event. Every kind has exactly one payload type.
type Payload interface {
	Kind() Kind
}

// Event is a single immutable occurrence within one execution.
// Sequence is assigned by the buffer at append time and starts at 1.
type Event struct {
	Sequence  int64
	Payload   Payload
	CreatedAt time.Time
}

// Kind returns the kind of the event's payload.
func (e Event) Kind() Kind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

// Data returns the JSON encoding of the payload.
func (e Event) Data() ([]byte, error) {
	if e.Payload == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Kind(), err)
	}
	return data, nil
}

// IsTerminal reports whether the event closes the stream.
func (e Event) IsTerminal() bool { return e.Kind() == KindDone }

type wireEvent struct {
	Sequence  int64           `json:"sequence"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// MarshalJSON encodes the event with its kind tag alongside the payload.
func (e Event) MarshalJSON() ([]byte, error) {
	data, err := e.Data()
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEvent{
		Sequence:  e.Sequence,
		Kind:      e.Kind(),
		Payload:   data,
		CreatedAt: e.CreatedAt,
	})
}

// UnmarshalJSON decodes an event produced by MarshalJSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p, err := Decode(w.Kind, w.Payload)
	if err != nil {
		return err
	}
	*e = Event{Sequence: w.Sequence, Payload: p, CreatedAt: w.CreatedAt}
	return nil
}

// Decode reconstructs a typed payload from its kind and JSON body.
func Decode(kind Kind, data []byte) (Payload, error) {
	var p Payload
	switch kind {
	case KindStart:
		p = &Start{}
	case KindPing:
		p = &Ping{}
	case KindDelta:
		p = &Delta{}
	case KindProgress:
		p = &Progress{}
	case KindLog:
		p = &Log{}
	case KindToolCall:
		p = &ToolCall{}
	case KindToolOutput:
		p = &ToolOutput{}
	case KindResult:
		p = &Result{}
	case KindDeployResult:
		p = &DeployResult{}
	case KindError:
		p = &Error{}
	case KindCancel:
		p = &Cancel{}
	case KindDone:
		p = &Done{}
	default:
		return nil, fmt.Errorf("%w: unknown event kind %q", domain.ErrValidation, kind)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
	}
	return deref(p), nil
}

// deref turns the pointer used for decoding back into the value type
// producers construct, so decoded and produced payloads compare equal.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *Start:
		return *v
	case *Ping:
		return *v
	case *Delta:
		return *v
	case *Progress:
		return *v
	case *Log:
		return *v
	case *ToolCall:
		return *v
	case *ToolOutput:
		return *v
	case *Result:
		return *v
	case *DeployResult:
		return *v
	case *Error:
		return *v
	case *Cancel:
		return *v
	case *Done:
		return *v
	}
	return p
}
