package reaper

import "github.com/stretchr/testify/mock"

type mockProcessRegistry struct{ mock.Mock }

func (m *mockProcessRegistry) CleanupCompleted() int {
	return m.Called().Int(0)
}

type mockPortManager struct{ mock.Mock }

func (m *mockPortManager) CleanupStale() (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}
