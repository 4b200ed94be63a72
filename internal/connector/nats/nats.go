// Package nats implements the "nats" connector kind: consumption of a NATS
// JetStream subject, adapted from the teacher's
// internal/impl/nats/input_jetstream.go into the Connector capability model.
//
// First-run position (spec §9 open question 2): absent a durable consumer,
// a fresh subscription defaults to delivering all retained messages
// ("deliver: all"), matching the teacher field's default.
package nats

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/warpstreamlabs/cdcengine/internal/connector"
	"github.com/warpstreamlabs/cdcengine/internal/errs"
	"github.com/warpstreamlabs/cdcengine/internal/event"
	"github.com/warpstreamlabs/cdcengine/internal/registry"
)

const Kind = "nats"

// Register adds the nats connector kind to r. Called explicitly from
// cmd/cdcengine's plugin-registration step rather than from init(), so a
// duplicate-kind conflict surfaces as a real error instead of a panic.
func Register(r *registry.Registry) error {
	return r.RegisterConnector(&Factory{})
}

// Factory constructs NATS JetStream connectors.
type Factory struct{}

func (Factory) Kind() string { return Kind }

func (Factory) Validate(cfg event.RawConfig) error {
	var errsList []string
	if _, err := stringSlice(cfg, "urls"); err != nil || len(mustStrings(cfg, "urls")) == 0 {
		errsList = append(errsList, "urls must be a non-empty list of NATS server URLs")
	}
	if s, _ := cfg["subject"].(string); s == "" {
		errsList = append(errsList, "subject must be set")
	}
	if deliver, ok := cfg["deliver"]; ok {
		d, _ := deliver.(string)
		if d != "all" && d != "last" {
			errsList = append(errsList, "deliver must be 'all' or 'last'")
		}
	}
	if len(errsList) > 0 {
		return &connector.ValidationError{Errors: errsList}
	}
	return nil
}

func (f Factory) Create(cfg event.RawConfig, log zerolog.Logger) (connector.Connector, error) {
	if err := f.Validate(cfg); err != nil {
		return nil, errs.Wrap(errs.CodeValidation, err, "invalid nats connector config")
	}

	urls := strings.Join(mustStrings(cfg, "urls"), ",")
	subject, _ := cfg["subject"].(string)
	queue, _ := cfg["queue"].(string)
	durable, _ := cfg["durable"].(string)

	deliver := "all"
	if d, ok := cfg["deliver"].(string); ok && d != "" {
		deliver = d
	}
	var deliverOpt nats.SubOpt
	switch deliver {
	case "all":
		deliverOpt = nats.DeliverAll()
	case "last":
		deliverOpt = nats.DeliverLast()
	}

	maxAckPending := 1024
	if v, ok := cfg["max_ack_pending"].(int); ok && v > 0 {
		maxAckPending = v
	}

	return &natsConnector{
		urls:          urls,
		subject:       subject,
		queue:         queue,
		durable:       durable,
		deliverOpt:    deliverOpt,
		maxAckPending: maxAckPending,
		log:           log,
	}, nil
}

type natsConnector struct {
	urls          string
	subject       string
	queue         string
	durable       string
	deliverOpt    nats.SubOpt
	maxAckPending int

	log zerolog.Logger

	mu   sync.Mutex
	conn *nats.Conn
	sub  *nats.Subscription
}

func (c *natsConnector) Kind() string { return Kind }

func (c *natsConnector) Test(ctx context.Context) error {
	conn, err := nats.Connect(c.urls, nats.Timeout(10*time.Second))
	if err != nil {
		return errs.Wrap(errs.CodeConnect, err, "nats: connect probe failed")
	}
	defer conn.Close()
	if !conn.IsConnected() {
		return errs.Connect("nats: probe connected but reports not connected")
	}
	return nil
}

func (c *natsConnector) Start(ctx context.Context) (connector.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := nats.Connect(c.urls)
	if err != nil {
		return nil, errs.Wrap(errs.CodeConnect, err, "nats: failed to connect")
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, errs.Wrap(errs.CodeConnect, err, "nats: jetstream context unavailable")
	}

	opts := []nats.SubOpt{c.deliverOpt}
	if c.durable != "" {
		opts = append(opts, nats.Durable(c.durable))
	}
	opts = append(opts, nats.MaxAckPending(c.maxAckPending), nats.ManualAck())

	msgCh := make(chan *nats.Msg, c.maxAckPending)
	var sub *nats.Subscription
	handler := func(m *nats.Msg) { msgCh <- m }
	if c.queue != "" {
		sub, err = js.QueueSubscribe(c.subject, c.queue, handler, opts...)
	} else {
		sub, err = js.Subscribe(c.subject, handler, opts...)
	}
	if err != nil {
		conn.Close()
		return nil, errs.Wrap(errs.CodeConnect, err, "nats: subscribe failed")
	}

	c.conn = conn
	c.sub = sub

	return &natsStream{
		source: c.subject,
		msgCh:  msgCh,
		conn:   conn,
	}, nil
}

func (c *natsConnector) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil {
		_ = c.sub.Unsubscribe()
		c.sub = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return nil
}

// Ack implements connector.Acker: JetStream acks fire per-event on success
// only (spec §9), never on give-up.
func (c *natsConnector) Ack(ctx context.Context, eventID string) error {
	return nil
}

type natsStream struct {
	source string
	msgCh  chan *nats.Msg
	conn   *nats.Conn
}

func (s *natsStream) Next(ctx context.Context) (event.ChangeEvent, error) {
	select {
	case m, ok := <-s.msgCh:
		if !ok {
			return event.ChangeEvent{}, errs.Internal("nats: stream closed")
		}
		_ = m.Ack()
		ev := event.NewChangeEvent(s.source, s.source, event.OpInsert, map[string]any{"payload": string(m.Data)}, map[string]string{"nats_subject": m.Subject})
		return ev, nil
	case <-ctx.Done():
		return event.ChangeEvent{}, ctx.Err()
	}
}

func mustStrings(cfg event.RawConfig, key string) []string {
	v, _ := cfg[key].([]string)
	if v != nil {
		return v
	}
	if raw, ok := cfg[key].([]any); ok {
		out := make([]string, 0, len(raw))
		for _, r := range raw {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func stringSlice(cfg event.RawConfig, key string) ([]string, error) {
	if _, ok := cfg[key]; !ok {
		return nil, fmt.Errorf("missing field %q", key)
	}
	return mustStrings(cfg, key), nil
}
