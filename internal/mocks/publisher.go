package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
)

// BrokerMock stands in for the AMQP publisher behind the event relay and
// the audit trail. Accepted publishes are kept per routing key.
type BrokerMock struct {
	mock.Mock

	mu     sync.Mutex
	routed map[string][]any
}

func (m *BrokerMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	if err := args.Error(0); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.routed == nil {
		m.routed = make(map[string][]any)
	}
	m.routed[routingKey] = append(m.routed[routingKey], event)
	return nil
}

// Routed returns what was accepted under routingKey, oldest first.
func (m *BrokerMock) Routed(routingKey string) []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]any(nil), m.routed[routingKey]...)
}

func (m *BrokerMock) Close() error {
	return m.Called().Error(0)
}
