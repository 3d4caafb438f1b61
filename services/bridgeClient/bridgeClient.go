// Package bridgeclient is the visualization side of the bridge: it keeps a
// desired subscription set alive across reconnects and records the latest
// value per topic.
package bridgeclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/kychandar/robobridge/common"
	"github.com/kychandar/robobridge/ds"
	"github.com/kychandar/robobridge/services"
	lateststore "github.com/kychandar/robobridge/services/latestStore"
	wswritechannelmanager "github.com/kychandar/robobridge/services/wsWriteChanManager"
	slogctx "github.com/veqryn/slog-context"
)

const (
	DefaultBackoff   = 3000 * time.Millisecond
	DefaultQueueSize = 64
	// drainWait bounds how long Disconnect waits for queued frames.
	drainWait = time.Second

	// upstreamID keys the client's single connection in its writer manager.
	upstreamID common.ConnID = "upstream"
)

var (
	ErrNotConnected   = errors.New("bridge client is not connected")
	ErrAlreadyStarted = errors.New("bridge client already started")
	// ErrQueueFull is returned when the connection's outbound queue is full.
	ErrQueueFull = wswritechannelmanager.ErrQueueFull
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Dialer opens the bridge connection. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

type Options struct {
	URL     string
	Dialer  Dialer
	Clock   clockwork.Clock
	Backoff time.Duration
	// Store defaults to an in-memory store.
	Store services.LatestValueStore
	// QueueSize bounds the frames waiting to be written. 0 selects
	// DefaultQueueSize.
	QueueSize int
	// OnStateChange, if set, is called with every transition while the
	// client's lock is held. It must not call back into the client.
	OnStateChange func(State)
}

type Client struct {
	url           string
	dialer        Dialer
	clock         clockwork.Clock
	backoff       time.Duration
	store         services.LatestValueStore
	writers       services.WsWriteChanManager
	onStateChange func(State)

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	desired  map[common.TopicName]string
	rejected map[common.TopicName]string
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

func New(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Store == nil {
		opts.Store = lateststore.New()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	return &Client{
		url:           opts.URL,
		dialer:        opts.Dialer,
		clock:         opts.Clock,
		backoff:       opts.Backoff,
		store:         opts.Store,
		writers:       wswritechannelmanager.NewClientWriterManager(opts.QueueSize),
		onStateChange: opts.OnStateChange,
		desired:       make(map[common.TopicName]string),
		rejected:      make(map[common.TopicName]string),
		logger:        slog.Default(),
	}
}

// Connect starts the connection loop. The loop runs until Disconnect is
// called or ctx is cancelled, reconnecting after every failure.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		return ErrAlreadyStarted
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	c.logger = slogctx.FromCtx(ctx).With("component", "bridge-client", "url", c.url)
	go c.run(ctx, c.done)
	return nil
}

// Disconnect gives queued frames a short while to go out, then stops the
// loop, closes the connection and waits for the loop to exit. The desired
// subscription set is kept, so a later Connect restores it.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	if !c.writers.Drain(upstreamID, drainWait) {
		c.logger.Warn("closing with unsent frames")
	}

	c.mu.Lock()
	cancel()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()
	<-done

	c.mu.Lock()
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		c.setState(Connecting)
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			c.logger.WarnContext(ctx, "dial failed", "error", err)
		} else if c.established(ctx, conn) {
			c.readLoop(ctx, conn)
			c.dropConn(conn)
		}
		c.setState(Disconnected)

		if ctx.Err() != nil {
			return
		}
		timer := c.clock.NewTimer(c.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}
	}
}

// established switches to Connected and queues the replay of the desired
// set under the lock, so no Subscribe call interleaves with the replay.
func (c *Client) established(ctx context.Context, conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		conn.Close()
		return false
	}
	c.conn = conn
	c.writers.SetConnectionForClientID(upstreamID, conn)
	c.transitionLocked(Connected)

	topics := make([]common.TopicName, 0, len(c.desired))
	for topic := range c.desired {
		topics = append(topics, topic)
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })
	for _, topic := range topics {
		if err := c.writeLocked(ds.NewSubscribe(topic, c.desired[topic])); err != nil {
			c.logger.WarnContext(ctx, "subscription replay failed", "topic", topic, "error", err)
			c.detachLocked()
			conn.Close()
			return false
		}
	}
	c.logger.InfoContext(ctx, "connected", "replayed", len(topics))
	return true
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.WarnContext(ctx, "connection lost", "error", err)
			}
			return
		}
		var frame ds.Frame
		if err := frame.DeserializeFrom(data); err != nil {
			c.logger.WarnContext(ctx, "dropping undecodable frame", "error", err)
			continue
		}
		switch frame.Op {
		case ds.OpMessage:
			value := ds.LatestValue{Payload: frame.Msg, ReceivedAt: c.clock.Now()}
			if err := c.store.Put(ctx, frame.Topic, value); err != nil {
				c.logger.WarnContext(ctx, "failed to store latest value", "topic", frame.Topic, "error", err)
			}
		case ds.OpError:
			payload, err := frame.ErrorPayload()
			msg := payload.Message
			if err != nil {
				msg = string(frame.Msg)
			}
			c.mu.Lock()
			c.rejected[frame.Topic] = msg
			c.mu.Unlock()
			c.logger.WarnContext(ctx, "server rejected request", "topic", frame.Topic, "code", payload.Code, "message", msg)
		default:
			c.logger.DebugContext(ctx, "ignoring frame", "op", frame.Op, "topic", frame.Topic)
		}
	}
}

func (c *Client) dropConn(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.detachLocked()
	}
	c.mu.Unlock()
	conn.Close()
}

// detachLocked forgets the current connection. Connected never outlives it.
func (c *Client) detachLocked() {
	c.conn = nil
	c.writers.DeleteClientID(upstreamID)
	c.transitionLocked(Disconnected)
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.transitionLocked(s)
	c.mu.Unlock()
}

func (c *Client) transitionLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.onStateChange != nil {
		c.onStateChange(s)
	}
}

// writeLocked queues frame on the connection's writer without blocking.
func (c *Client) writeLocked(frame *ds.Frame) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	data, err := frame.Serialize()
	if err != nil {
		return err
	}
	err = c.writers.WriteMessage(upstreamID, websocket.TextMessage, data)
	if errors.Is(err, wswritechannelmanager.ErrUnknownClient) {
		// the writer stopped on a write error; the read loop reconnects
		return ErrNotConnected
	}
	return err
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe adds topic to the desired set and, when connected, queues the
// subscribe frame. The subscription survives reconnects. It never waits on
// the network; a full queue returns ErrQueueFull and the topic stays desired,
// so calling Subscribe again resends it.
func (c *Client) Subscribe(topic common.TopicName, msgType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.desired[topic] = msgType
	delete(c.rejected, topic)
	if c.state != Connected {
		return nil
	}
	return c.sendControlLocked(ds.NewSubscribe(topic, msgType))
}

// Unsubscribe removes topic from the desired set and, when connected, queues
// the unsubscribe frame.
func (c *Client) Unsubscribe(topic common.TopicName) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.desired, topic)
	if c.state != Connected {
		return nil
	}
	return c.sendControlLocked(ds.NewUnsubscribe(topic))
}

// sendControlLocked queues a subscription frame. Only a full queue is the
// caller's problem; a lost connection is repaired by the next replay.
func (c *Client) sendControlLocked(frame *ds.Frame) error {
	err := c.writeLocked(frame)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrQueueFull):
		return fmt.Errorf("%s %s: %w", frame.Op, frame.Topic, err)
	default:
		c.logger.Warn("subscription frame not sent", "op", frame.Op, "topic", frame.Topic, "error", err)
		return nil
	}
}

// Publish advertises topic and queues payload on it. It fails with
// ErrNotConnected without touching the network when not connected, and with
// ErrQueueFull when the outbound queue cannot take both frames.
func (c *Client) Publish(ctx context.Context, topic common.TopicName, msgType string, payload any) error {
	frame, err := ds.NewPublish(topic, payload)
	if err != nil {
		return err
	}
	frame.Type = msgType

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Connected {
		return ErrNotConnected
	}
	if err := c.writeLocked(ds.NewAdvertise(topic, msgType)); err != nil {
		return fmt.Errorf("advertise %s: %w", topic, err)
	}
	if err := c.writeLocked(frame); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	c.logger.DebugContext(ctx, "published", "topic", topic)
	return nil
}

// Latest returns the last value received on topic.
func (c *Client) Latest(ctx context.Context, topic common.TopicName) (ds.LatestValue, bool, error) {
	return c.store.Get(ctx, topic)
}

// Rejected returns the server's last error message for topic.
func (c *Client) Rejected(topic common.TopicName) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg, ok := c.rejected[topic]
	return msg, ok
}

// DesiredTopics lists the desired subscriptions in sorted order.
func (c *Client) DesiredTopics() []common.TopicName {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]common.TopicName, 0, len(c.desired))
	for topic := range c.desired {
		out = append(out, topic)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
