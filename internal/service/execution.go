package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Strob0t/StreamForge/internal/domain"
	"github.com/Strob0t/StreamForge/internal/domain/event"
	"github.com/Strob0t/StreamForge/internal/domain/execution"
	"github.com/Strob0t/StreamForge/internal/port/eventstore"
)

// StreamPathPrefix is the route under which executions are streamed.
const StreamPathPrefix = "/stream/"

// DeployPipeline builds deploy producers.
type DeployPipeline interface {
	Pipeline(req execution.DeployRequest) Producer
}

// ConversationAgent builds conversational agent producers.
type ConversationAgent interface {
	Converse(req execution.ConversationRequest) Producer
}

// SpecGenerator builds graph-spec generation producers.
type SpecGenerator interface {
	Generate(req execution.SpecRequest) Producer
}

// ExecutionService is the entry point for submitting and inspecting executions.
type ExecutionService struct {
	streams    *StreamManager
	tombstones *TombstoneStore
	archive    eventstore.Store

	deploy       DeployPipeline
	conversation ConversationAgent
	specs        SpecGenerator
}

// NewExecutionService creates an ExecutionService over streams.
func NewExecutionService(streams *StreamManager) *ExecutionService {
	return &ExecutionService{streams: streams}
}

// SetTombstones enables expired-execution lookups.
func (s *ExecutionService) SetTombstones(t *TombstoneStore) { s.tombstones = t }

// SetArchive enables history reads from the durable event store.
func (s *ExecutionService) SetArchive(store eventstore.Store) { s.archive = store }

// SetProducers wires the producer factories.
func (s *ExecutionService) SetProducers(deploy DeployPipeline, conversation ConversationAgent, specs SpecGenerator) {
	s.deploy = deploy
	s.conversation = conversation
	s.specs = specs
}

// Streams returns the underlying registry.
func (s *ExecutionService) Streams() *StreamManager { return s.streams }

// SubmitDeploy starts a deploy pipeline execution.
func (s *ExecutionService) SubmitDeploy(req execution.DeployRequest) (*execution.SubmitResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if s.deploy == nil {
		return nil, errors.New("deploy pipeline not configured")
	}
	return s.submit(execution.TypeDeploy, s.deploy.Pipeline(req))
}

// SubmitConversation starts a conversational agent execution.
func (s *ExecutionService) SubmitConversation(req execution.ConversationRequest) (*execution.SubmitResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if s.conversation == nil {
		return nil, errors.New("conversation agent not configured")
	}
	return s.submit(execution.TypeConversation, s.conversation.Converse(req))
}

// SubmitSpec starts a graph-spec generation execution.
func (s *ExecutionService) SubmitSpec(req execution.SpecRequest) (*execution.SubmitResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if s.specs == nil {
		return nil, errors.New("spec generator not configured")
	}
	return s.submit(execution.TypeSpec, s.specs.Generate(req))
}

func (s *ExecutionService) submit(typ execution.Type, p Producer) (*execution.SubmitResponse, error) {
	h, err := s.streams.Submit(typ, p)
	if err != nil {
		return nil, fmt.Errorf("submit %s: %w", typ, err)
	}
	return &execution.SubmitResponse{
		ExecutionID: h.ID(),
		Status:      execution.StatusRunning,
		StreamURL:   StreamPathPrefix + h.ID(),
	}, nil
}

// Get returns the live snapshot, or the tombstone of an evicted execution,
// or the archived record.
func (s *ExecutionService) Get(ctx context.Context, id string) (*execution.Info, error) {
	if h, err := s.streams.Get(id); err == nil {
		info := h.Snapshot()
		return &info, nil
	}
	if info, ok := s.streams.Expired(id); ok {
		return &info, nil
	}

	if s.tombstones != nil {
		info, ok, err := s.tombstones.Lookup(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			return info, nil
		}
	}

	if s.archive != nil {
		info, err := s.archive.GetExecution(ctx, id)
		if err != nil {
			return nil, err
		}
		return asExpired(info), nil
	}
	return nil, fmt.Errorf("execution %s: %w", id, domain.ErrNotFound)
}

// asExpired marks an archived record that is no longer live.
func asExpired(info *execution.Info) *execution.Info {
	if info.Status != execution.StatusExpired {
		info.FinalStatus = info.Status
		info.Status = execution.StatusExpired
	}
	info.Subscribers = 0
	return info
}

// List returns snapshots of all live executions, newest first.
func (s *ExecutionService) List() []execution.Info { return s.streams.List() }

// Cancel requests cancellation of a live execution.
func (s *ExecutionService) Cancel(id string) error { return s.streams.Cancel(id) }

// Events returns buffered history after the given sequence. Live executions
// are served from memory; evicted ones from the archive when configured.
func (s *ExecutionService) Events(ctx context.Context, id string, after int64, limit int) (*eventstore.Page, error) {
	if after < 0 {
		return nil, fmt.Errorf("%w: after must be >= 0", domain.ErrValidation)
	}
	limit = eventstore.ClampLimit(limit)

	if h, err := s.streams.Get(id); err == nil {
		evs := h.Buffer().ReadFrom(after)
		page := &eventstore.Page{ExecutionID: id, Events: []event.Event{}, NextAfter: after}
		if len(evs) > limit {
			evs = evs[:limit]
			page.HasMore = true
		}
		page.Events = append(page.Events, evs...)
		if n := len(evs); n > 0 {
			page.NextAfter = evs[n-1].Sequence
		}
		return page, nil
	}

	if s.archive == nil {
		return nil, fmt.Errorf("execution %s: %w", id, domain.ErrNotFound)
	}
	if _, err := s.archive.GetExecution(ctx, id); err != nil {
		return nil, err
	}
	return s.archive.LoadAfter(ctx, id, after, limit)
}
