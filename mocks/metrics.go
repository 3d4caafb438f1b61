package mocks

import (
	"net/http"
	"time"

	"github.com/kychandar/robobridge/common"
	"github.com/stretchr/testify/mock"
)

type MockMetricsRegistry struct {
	mock.Mock
}

func (m *MockMetricsRegistry) GetHandler() http.Handler {
	args := m.Called()
	return args.Get(0).(http.Handler)
}

func (m *MockMetricsRegistry) IncWsConnectionCount(robot common.RobotID) {
	m.Called(robot)
}

func (m *MockMetricsRegistry) DecWsConnectionCount(robot common.RobotID) {
	m.Called(robot)
}

func (m *MockMetricsRegistry) IncMessagesDelivered(robot common.RobotID, topic common.TopicName) {
	m.Called(robot, topic)
}

func (m *MockMetricsRegistry) IncFramesDropped(robot common.RobotID, reason string) {
	m.Called(robot, reason)
}

func (m *MockMetricsRegistry) IncSubscribeRejected(robot common.RobotID) {
	m.Called(robot)
}

func (m *MockMetricsRegistry) ObserveDeliveryLatency(robot common.RobotID, topic common.TopicName, generatedAt time.Time) {
	m.Called(robot, topic, generatedAt)
}

func (m *MockMetricsRegistry) RegisterLiveHandles(robot common.RobotID, live func() float64) {
	m.Called(robot, live)
}
