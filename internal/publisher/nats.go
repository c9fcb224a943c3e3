package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
)

// jetStream is the part of nats.JetStreamContext the sink needs.
type jetStream interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

// NATSSink publishes envelopes to JetStream, subject = topic.
type NATSSink struct {
	nc      *nats.Conn
	js      jetStream
	service string
}

// NewNATS creates a JetStream-backed sink on an open connection.
func NewNATS(nc *nats.Conn, service string) (*NATSSink, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return &NATSSink{nc: nc, js: js, service: service}, nil
}

func (s *NATSSink) Name() string { return "nats" }

// EnsureStream creates stream over subjects unless it already exists.
func (s *NATSSink) EnsureStream(name string, subjects ...string) error {
	_, err := s.js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", name, err)
	}
	if _, err := s.js.AddStream(&nats.StreamConfig{Name: name, Subjects: subjects}); err != nil {
		return fmt.Errorf("add stream %s: %w", name, err)
	}
	return nil
}

// Send publishes one envelope and waits for the JetStream ack.
func (s *NATSSink) Send(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	msg := &nats.Msg{
		Subject: env.Topic,
		Data:    data,
		Header: nats.Header{
			"event_type":   []string{env.EventType},
			"event_id":     []string{env.ID.String()},
			"service":      []string{s.service},
			"content_type": []string{"application/json"},
		},
	}
	if _, err := s.js.PublishMsg(msg, nats.Context(ctx), nats.MsgId(env.ID.String())); err != nil {
		return fmt.Errorf("nats publish %s: %w", env.Topic, err)
	}
	return nil
}

func (s *NATSSink) Close() error {
	if s.nc != nil && !s.nc.IsClosed() {
		return s.nc.Drain()
	}
	return nil
}
