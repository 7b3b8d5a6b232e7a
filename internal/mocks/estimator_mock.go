package mocks

import (
	"context"

	"github.com/rootCircle/Beaconify/pkg/beacon"
	"github.com/rootCircle/Beaconify/pkg/positioning"
	"github.com/stretchr/testify/mock"
)

// MockEstimator is a mock implementation of the positioning.Estimator interface
type MockEstimator struct {
	mock.Mock
}

func (m *MockEstimator) Estimate(ctx context.Context, observations []beacon.Observation) (*positioning.Position, error) {
	args := m.Called(ctx, observations)
	pos, _ := args.Get(0).(*positioning.Position)
	return pos, args.Error(1)
}

func (m *MockEstimator) Strategy() positioning.Strategy {
	args := m.Called()
	return args.Get(0).(positioning.Strategy)
}

func (m *MockEstimator) Stats() positioning.Stats {
	args := m.Called()
	return args.Get(0).(positioning.Stats)
}
