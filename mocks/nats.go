package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockPubSubProvider struct {
	mock.Mock
}

func (m *MockPubSubProvider) Publish(ctx context.Context, subjectName string, data []byte) error {
	args := m.Called(ctx, subjectName, data)
	return args.Error(0)
}

func (m *MockPubSubProvider) Subscribe(ctx context.Context, subjectName string, callBack func(msg []byte)) error {
	args := m.Called(ctx, subjectName, callBack)
	return args.Error(0)
}

func (m *MockPubSubProvider) UnSubscribe(subjectName string) error {
	args := m.Called(subjectName)
	return args.Error(0)
}

func (m *MockPubSubProvider) Close() error {
	args := m.Called()
	return args.Error(0)
}
