package jobqueue

import (
	"github.com/stretchr/testify/mock"

	"github.com/essandess/gojobqueue/adapter"
)

// mockLogger is shared across this package's tests, grounded on the
// teacher's own mockLogger in worker_option_test.go.
type mockLogger struct {
	mock.Mock
}

func (m *mockLogger) Debug(msg string, fields ...adapter.Field) {
	m.Called(msg, fields)
}

func (m *mockLogger) Info(msg string, fields ...adapter.Field) {
	m.Called(msg, fields)
}

func (m *mockLogger) Error(msg string, fields ...adapter.Field) {
	m.Called(msg, fields)
}

func (m *mockLogger) With(fields ...adapter.Field) adapter.Logger {
	args := m.Called(fields)
	return args.Get(0).(adapter.Logger)
}
