package services

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/kychandar/robobridge/common"
	"github.com/kychandar/robobridge/ds"
)

type PubSubProvider interface {
	Publish(ctx context.Context, subjectName string, data []byte) error
	Subscribe(ctx context.Context, subjectName string, callBack func(msg []byte)) error
	UnSubscribe(subjectName string) error
	Close() error
}

// LatestValueStore keeps the most recent payload delivered per topic.
type LatestValueStore interface {
	Put(ctx context.Context, topic common.TopicName, value ds.LatestValue) error
	Get(ctx context.Context, topic common.TopicName) (ds.LatestValue, bool, error)
	Topics(ctx context.Context) ([]common.TopicName, error)
	Close()
}

type SerializableMessage interface {
	Serialize() ([]byte, error)
	DeserializeFrom([]byte) error
	GetTopic() common.TopicName
}

// Session is the server-side state of one connection's subscriptions.
type Session interface {
	ID() common.ConnID
	Subscribe(ctx context.Context, topic common.TopicName, requestedType string) error
	Unsubscribe(ctx context.Context, topic common.TopicName) error
	Publish(ctx context.Context, topic common.TopicName, msg json.RawMessage) error
	Advertise(ctx context.Context, topic common.TopicName, msgType string) error
	HandleFrame(ctx context.Context, frame *ds.Frame) error
	Close()
}

// FrameSender hands a frame to a connection's writer. Implementations must
// not block on the network.
type FrameSender interface {
	SendFrame(ctx context.Context, frame *ds.Frame) error
}

type WebSocketBridge interface {
	ProcessMessagesFromClient(ctx context.Context)
}

type WsWriteChanManager interface {
	SetConnectionForClientID(clientID common.ConnID, conn WsConn)
	DeleteClientID(clientID common.ConnID)
	WriteMessage(clientID common.ConnID, messageType int, data []byte) error
	Drain(clientID common.ConnID, timeout time.Duration) bool
	Len() int
}

// WsConn is the subset of *websocket.Conn the bridge uses.
type WsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type MetricsRegistry interface {
	GetHandler() http.Handler
	IncWsConnectionCount(robot common.RobotID)
	DecWsConnectionCount(robot common.RobotID)
	IncMessagesDelivered(robot common.RobotID, topic common.TopicName)
	IncFramesDropped(robot common.RobotID, reason string)
	IncSubscribeRejected(robot common.RobotID)
	ObserveDeliveryLatency(robot common.RobotID, topic common.TopicName, generatedAt time.Time)
	RegisterLiveHandles(robot common.RobotID, live func() float64)
}
