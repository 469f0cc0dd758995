// Copyright (c) Microsoft Corporation. All rights reserved.

package testutil

import (
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/mock"
)

// MockLoggerSink is a logr.LogSink that records calls via testify/mock.
type MockLoggerSink struct {
	mock.Mock
}

// NewMockLoggerSink returns a sink that accepts any Init/Enabled/Info/WithName/WithValues call,
// leaving Error() expectations to the test (use ExpectError or set them up directly).
func NewMockLoggerSink() *MockLoggerSink {
	m := &MockLoggerSink{}
	m.On("Init", mock.Anything).Maybe()
	m.On("Enabled", mock.Anything).Return(true).Maybe()
	m.On("Info", mock.Anything, mock.Anything, mock.Anything).Maybe()
	m.On("WithName", mock.Anything).Return(m).Maybe()
	m.On("WithValues", mock.Anything).Return(m).Maybe()
	return m
}

// ExpectError registers an expectation for an Error() call with the given message.
func (m *MockLoggerSink) ExpectError(msg string) *mock.Call {
	return m.On("Error", mock.Anything, msg, mock.Anything)
}

// Logger returns a logr.Logger backed by this sink.
func (m *MockLoggerSink) Logger() logr.Logger {
	return logr.New(m)
}

func (m *MockLoggerSink) Enabled(level int) bool {
	args := m.Called(level)
	return args.Bool(0)
}

func (m *MockLoggerSink) Error(err error, msg string, keysAndValues ...interface{}) {
	m.Called(err, msg, keysAndValues)
}

func (m *MockLoggerSink) Info(level int, msg string, keysAndValues ...interface{}) {
	m.Called(level, msg, keysAndValues)
}

func (m *MockLoggerSink) Init(info logr.RuntimeInfo) {
	m.Called(info)
}

func (m *MockLoggerSink) WithName(name string) logr.LogSink {
	args := m.Called(name)
	return args.Get(0).(logr.LogSink)
}

func (m *MockLoggerSink) WithValues(keysAndValues ...interface{}) logr.LogSink {
	args := m.Called(keysAndValues)
	return args.Get(0).(logr.LogSink)
}

var _ logr.LogSink = (*MockLoggerSink)(nil)
