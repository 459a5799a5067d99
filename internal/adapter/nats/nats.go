// Package nats relays execution events and status transitions to NATS JetStream.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/StreamForge/internal/config"
	"github.com/Strob0t/StreamForge/internal/domain/event"
	"github.com/Strob0t/StreamForge/internal/domain/execution"
)

// Handler processes one relayed message.
type Handler func(ctx context.Context, subject string, data []byte) error

// Relay publishes execution traffic on a JetStream stream.
type Relay struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream string
	prefix string
}

// Connect establishes a connection to NATS and ensures the JetStream stream exists.
func Connect(ctx context.Context, cfg config.NATS) (*Relay, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("streamforge"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	// One stream captures both event and status subjects under the prefix.
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.StreamName,
		Subjects: []string{cfg.SubjectPrefix + ".>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", cfg.URL, "stream", cfg.StreamName, "prefix", cfg.SubjectPrefix)
	return &Relay{nc: nc, js: js, stream: cfg.StreamName, prefix: cfg.SubjectPrefix}, nil
}

// JetStream exposes the JetStream context for KV buckets.
func (r *Relay) JetStream() jetstream.JetStream { return r.js }

// EventSubject returns the subject carrying events of one execution.
func (r *Relay) EventSubject(executionID string) string {
	return r.prefix + "." + executionID + ".events"
}

// StatusSubject returns the subject carrying status transitions.
func (r *Relay) StatusSubject() string { return r.prefix + ".status" }

// Name implements the execution sink.
func (r *Relay) Name() string { return "nats" }

// Consume publishes ev to the execution's event subject. The message id makes
// re-publishing the same sequence a no-op within the stream's dedupe window.
func (r *Relay) Consume(ctx context.Context, executionID string, ev event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msgID := executionID + "-" + strconv.FormatInt(ev.Sequence, 10)
	return r.publish(ctx, r.EventSubject(executionID), data, jetstream.WithMsgID(msgID))
}

// ExecutionStatusChanged publishes the snapshot to the status subject.
func (r *Relay) ExecutionStatusChanged(ctx context.Context, info execution.Info) {
	data, err := json.Marshal(info)
	if err != nil {
		slog.Error("marshal execution status", "execution_id", info.ID, "error", err)
		return
	}
	if err := r.publish(ctx, r.StatusSubject(), data); err != nil {
		slog.Warn("relay execution status", "execution_id", info.ID, "status", info.Status, "error", err)
	}
}

func (r *Relay) publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) error {
	if _, err := r.js.Publish(ctx, subject, data, opts...); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// SubscribeStatus delivers status transitions published by every instance
// sharing the stream, starting with those published after the call.
func (r *Relay) SubscribeStatus(ctx context.Context, fn func(context.Context, execution.Info)) (func(), error) {
	return r.subscribe(ctx, r.StatusSubject(), jetstream.DeliverNewPolicy, func(ctx context.Context, _ string, data []byte) error {
		var info execution.Info
		if err := json.Unmarshal(data, &info); err != nil {
			return fmt.Errorf("decode execution status: %w", err)
		}
		fn(ctx, info)
		return nil
	})
}

func (r *Relay) subscribe(ctx context.Context, subject string, deliver jetstream.DeliverPolicy, handler Handler) (func(), error) {
	consumer, err := r.js.OrderedConsumer(ctx, r.stream, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  deliver,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := handler(ctx, msg.Subject(), msg.Data()); err != nil {
			slog.Error("message handler failed", "subject", msg.Subject(), "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

// Ping reports an error unless the connection is established.
func (r *Relay) Ping(context.Context) error {
	if st := r.nc.Status(); st != nats.CONNECTED {
		return fmt.Errorf("nats connection %s", st)
	}
	return nil
}

// Close drains pending publishes and shuts down the NATS connection.
func (r *Relay) Close() error {
	if err := r.nc.Drain(); err != nil {
		r.nc.Close()
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}
