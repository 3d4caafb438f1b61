// Package session keeps the subscriptions of one bridge connection and the
// delivery handles streaming them.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	set "github.com/duke-git/lancet/v2/datastructure/set"
	"github.com/kychandar/robobridge/common"
	"github.com/kychandar/robobridge/ds"
	"github.com/kychandar/robobridge/services"
	"github.com/kychandar/robobridge/services/scheduler"
	"github.com/kychandar/robobridge/services/topics"
	slogctx "github.com/veqryn/slog-context"
)

var ErrSessionClosed = errors.New("session closed")

type Options struct {
	ID        common.ConnID
	Robot     common.RobotID
	Registry  *topics.Registry
	Scheduler *scheduler.Scheduler
	Sender    services.FrameSender
	// Metrics is optional.
	Metrics services.MetricsRegistry
}

type session struct {
	id        common.ConnID
	robot     common.RobotID
	registry  *topics.Registry
	scheduler *scheduler.Scheduler
	sender    services.FrameSender
	metrics   services.MetricsRegistry

	mu         sync.Mutex
	closed     bool
	subscribed set.Set[common.TopicName]
	handles    map[common.TopicName]*scheduler.Handle
}

func New(opts Options) services.Session {
	return &session{
		id:         opts.ID,
		robot:      opts.Robot,
		registry:   opts.Registry,
		scheduler:  opts.Scheduler,
		sender:     opts.Sender,
		metrics:    opts.Metrics,
		subscribed: set.New[common.TopicName](),
		handles:    make(map[common.TopicName]*scheduler.Handle),
	}
}

func (s *session) ID() common.ConnID {
	return s.id
}

func (s *session) logger(ctx context.Context) *slog.Logger {
	return slogctx.FromCtx(ctx).With("component", "session", "robot", s.robot, "conn-id", s.id)
}

// Subscribe records the subscription and, for streamed topics, starts its
// delivery handle. Subscribing twice to the same topic is a no-op.
func (s *session) Subscribe(ctx context.Context, topic common.TopicName, requestedType string) error {
	cfg, err := s.registry.Lookup(topic)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.subscribed.Contain(topic) {
		return nil
	}

	if cfg.Streamed() {
		h, err := s.scheduler.Every(scheduler.IntervalForRate(cfg.Hz), s.deliver(ctx, cfg))
		if err != nil {
			return fmt.Errorf("schedule %s: %w", topic, err)
		}
		s.handles[topic] = h
	}
	s.subscribed.Add(topic)
	s.logger(ctx).DebugContext(ctx, "subscribed", "topic", topic, "type", requestedType, "hz", cfg.Hz)
	return nil
}

// deliver builds the function one handle runs on every tick.
func (s *session) deliver(ctx context.Context, cfg topics.TopicConfig) func() {
	clock := s.scheduler.Clock()
	return func() {
		generatedAt := clock.Now()
		frame, err := ds.NewMessage(cfg.Name, cfg.Generate())
		if err != nil {
			s.logger(ctx).ErrorContext(ctx, "failed to encode message", "topic", cfg.Name, "error", err)
			return
		}
		frame.Type = cfg.Type
		if err := s.sender.SendFrame(ctx, frame); err != nil {
			s.logger(ctx).DebugContext(ctx, "message not delivered", "topic", cfg.Name, "error", err)
			return
		}
		if s.metrics != nil {
			s.metrics.IncMessagesDelivered(s.robot, cfg.Name)
			s.metrics.ObserveDeliveryLatency(s.robot, cfg.Name, generatedAt)
		}
	}
}

// Unsubscribe stops delivery for topic. When it returns, no further message
// for topic is sent by this session.
func (s *session) Unsubscribe(ctx context.Context, topic common.TopicName) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	// delivery functions never take s.mu, so cancelling under it is safe
	if h, ok := s.handles[topic]; ok {
		h.Cancel()
		delete(s.handles, topic)
	}
	s.subscribed.Delete(topic)
	s.logger(ctx).DebugContext(ctx, "unsubscribed", "topic", topic)
	return nil
}

// Publish applies a command to the topic's target. Publishes to topics
// without a command target are accepted and ignored.
func (s *session) Publish(ctx context.Context, topic common.TopicName, msg json.RawMessage) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	cfg, err := s.registry.Lookup(topic)
	if err != nil || !cfg.IsCommand() {
		s.logger(ctx).DebugContext(ctx, "ignoring publish", "topic", topic)
		return nil
	}
	if err := cfg.Apply(msg); err != nil {
		return fmt.Errorf("apply %s: %w", topic, err)
	}
	return nil
}

func (s *session) Advertise(ctx context.Context, topic common.TopicName, msgType string) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	s.logger(ctx).DebugContext(ctx, "advertised", "topic", topic, "type", msgType)
	return nil
}

// HandleFrame dispatches one validated client frame. A subscribe to an
// unknown topic is answered with an error frame.
func (s *session) HandleFrame(ctx context.Context, frame *ds.Frame) error {
	switch frame.Op {
	case ds.OpSubscribe:
		err := s.Subscribe(ctx, frame.Topic, frame.Type)
		if errors.Is(err, topics.ErrTopicNotFound) {
			if s.metrics != nil {
				s.metrics.IncSubscribeRejected(s.robot)
			}
			reject := ds.NewError(frame.Topic, ds.ErrCodeUnknownTopic, err.Error())
			if sendErr := s.sender.SendFrame(ctx, reject); sendErr != nil {
				s.logger(ctx).WarnContext(ctx, "failed to send rejection", "topic", frame.Topic, "error", sendErr)
			}
		}
		return err
	case ds.OpUnsubscribe:
		return s.Unsubscribe(ctx, frame.Topic)
	case ds.OpAdvertise:
		return s.Advertise(ctx, frame.Topic, frame.Type)
	case ds.OpPublish:
		return s.Publish(ctx, frame.Topic, frame.Msg)
	default:
		return fmt.Errorf("%w: %q from client", ds.ErrUnknownOp, frame.Op)
	}
}

// Close cancels every delivery handle and waits for them. It is idempotent.
func (s *session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for topic, h := range s.handles {
		h.Cancel()
		delete(s.handles, topic)
	}
	s.subscribed = set.New[common.TopicName]()
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
