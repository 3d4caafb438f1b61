package websocketbridge

import (
	"context"
	"errors"

	"github.com/gorilla/websocket"
	"github.com/kychandar/robobridge/common"
	"github.com/kychandar/robobridge/services"
	"github.com/kychandar/robobridge/services/pool"
	"github.com/kychandar/robobridge/services/session"
	"github.com/kychandar/robobridge/services/topics"
	slogctx "github.com/veqryn/slog-context"
	"golang.org/x/time/rate"
)

// Reasons a client frame is dropped.
const (
	DropDecode  = "decode"
	DropInvalid = "invalid"
	DropBinary  = "binary"
	DropCommand = "command"
	DropLimited = "rate_limited"
)

type Factory func(wsConnID common.ConnID, conn services.WsConn, sess services.Session) services.WebSocketBridge

type factoryOptions struct {
	frameRate  rate.Limit
	frameBurst int
}

type Option func(*factoryOptions)

// WithFrameLimit caps the frames each connection may send per second.
// Frames beyond the limit are dropped. perSecond <= 0 means no limit.
func WithFrameLimit(perSecond float64, burst int) Option {
	return func(o *factoryOptions) {
		if perSecond <= 0 {
			o.frameRate = rate.Inf
			return
		}
		o.frameRate = rate.Limit(perSecond)
		o.frameBurst = max(burst, 1)
	}
}

// NewWsBridgeFactory returns a constructor for the read side of connections
// to robot. metrics may be nil.
func NewWsBridgeFactory(robot common.RobotID, metrics services.MetricsRegistry, opts ...Option) Factory {
	fo := factoryOptions{frameRate: rate.Inf}
	for _, opt := range opts {
		opt(&fo)
	}
	return func(wsConnID common.ConnID, conn services.WsConn, sess services.Session) services.WebSocketBridge {
		return &websocketBridge{
			robot:    robot,
			wsConnID: wsConnID,
			conn:     conn,
			session:  sess,
			metrics:  metrics,
			limiter:  rate.NewLimiter(fo.frameRate, fo.frameBurst),
		}
	}
}

type websocketBridge struct {
	robot    common.RobotID
	wsConnID common.ConnID
	conn     services.WsConn
	session  services.Session
	metrics  services.MetricsRegistry
	limiter  *rate.Limiter
}

// ProcessMessagesFromClient reads frames until the connection fails. Bad
// frames are dropped; they never end the connection.
func (w *websocketBridge) ProcessMessagesFromClient(ctx context.Context) {
	logger := slogctx.FromCtx(ctx).With("component", "ws-bridge", "robot", w.robot, "conn-id", w.wsConnID)
	objPool := pool.GetGlobalPool()

	for {
		msgType, message, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WarnContext(ctx, "unexpected close", "error", err)
			} else {
				logger.DebugContext(ctx, "read loop ended", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			w.drop(DropBinary)
			logger.WarnContext(ctx, "dropping non-text frame", "type", msgType)
			continue
		}
		if !w.limiter.Allow() {
			w.drop(DropLimited)
			logger.WarnContext(ctx, "dropping frame over rate limit")
			continue
		}

		frame := objPool.Frame.Get()
		if err := frame.DeserializeFrom(message); err != nil {
			objPool.ReleaseFrame(frame)
			w.drop(DropDecode)
			logger.WarnContext(ctx, "dropping undecodable frame", "error", err)
			continue
		}
		if err := frame.Validate(); err != nil {
			objPool.ReleaseFrame(frame)
			w.drop(DropInvalid)
			logger.WarnContext(ctx, "dropping invalid frame", "error", err)
			continue
		}

		err = w.session.HandleFrame(ctx, frame)
		op, topic := frame.Op, frame.Topic
		objPool.ReleaseFrame(frame)

		switch {
		case err == nil:
		case errors.Is(err, session.ErrSessionClosed):
			return
		case errors.Is(err, topics.ErrTopicNotFound):
			logger.InfoContext(ctx, "rejected subscribe", "topic", topic)
		default:
			w.drop(DropCommand)
			logger.WarnContext(ctx, "protocol error", "op", op, "topic", topic, "error", err)
		}
	}
}

func (w *websocketBridge) drop(reason string) {
	if w.metrics != nil {
		w.metrics.IncFramesDropped(w.robot, reason)
	}
}
