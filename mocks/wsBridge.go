package mocks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kychandar/robobridge/common"
	"github.com/kychandar/robobridge/ds"
	"github.com/stretchr/testify/mock"
)

type MockWebSocketBridge struct {
	mock.Mock
}

func (m *MockWebSocketBridge) ProcessMessagesFromClient(ctx context.Context) {
	m.Called(ctx)
}

type MockSession struct {
	mock.Mock
}

func (m *MockSession) ID() common.ConnID {
	args := m.Called()
	return args.Get(0).(common.ConnID)
}

func (m *MockSession) Subscribe(ctx context.Context, topic common.TopicName, requestedType string) error {
	args := m.Called(ctx, topic, requestedType)
	return args.Error(0)
}

func (m *MockSession) Unsubscribe(ctx context.Context, topic common.TopicName) error {
	args := m.Called(ctx, topic)
	return args.Error(0)
}

func (m *MockSession) Publish(ctx context.Context, topic common.TopicName, msg json.RawMessage) error {
	args := m.Called(ctx, topic, msg)
	return args.Error(0)
}

func (m *MockSession) Advertise(ctx context.Context, topic common.TopicName, msgType string) error {
	args := m.Called(ctx, topic, msgType)
	return args.Error(0)
}

func (m *MockSession) HandleFrame(ctx context.Context, frame *ds.Frame) error {
	args := m.Called(ctx, frame)
	return args.Error(0)
}

func (m *MockSession) Close() {
	m.Called()
}

// MockWsConn returns (messageType, data, err) from ReadMessage expectations.
type MockWsConn struct {
	mock.Mock
}

func (m *MockWsConn) ReadMessage() (int, []byte, error) {
	args := m.Called()
	var data []byte
	if b := args.Get(1); b != nil {
		data = b.([]byte)
	}
	return args.Int(0), data, args.Error(2)
}

func (m *MockWsConn) WriteMessage(messageType int, data []byte) error {
	args := m.Called(messageType, data)
	return args.Error(0)
}

func (m *MockWsConn) SetWriteDeadline(t time.Time) error {
	args := m.Called(t)
	return args.Error(0)
}

func (m *MockWsConn) Close() error {
	args := m.Called()
	return args.Error(0)
}
