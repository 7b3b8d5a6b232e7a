package mocks

import (
	"context"

	"github.com/rootCircle/Beaconify/pkg/beacon"
	"github.com/stretchr/testify/mock"
)

// MockRegistrySource is a mock implementation of the beacon.Source interface
type MockRegistrySource struct {
	mock.Mock
}

func (m *MockRegistrySource) Fetch(ctx context.Context) ([]beacon.Entry, error) {
	args := m.Called(ctx)
	entries, _ := args.Get(0).([]beacon.Entry)
	return entries, args.Error(1)
}
