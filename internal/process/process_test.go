package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInterruptedDefaultsFalse(t *testing.T) {
	ResetInterrupted()
	assert.False(t, Interrupted())
}

func TestLogReturnsNopLoggerWhenUninitialized(t *testing.T) {
	FinishLogging()
	logger := Log()
	assert.NotNil(t, logger)
}

func TestInitAndFinishLoggingRoundTrip(t *testing.T) {
	require := assert.New(t)
	require.NoError(InitLogging(true))
	require.NotNil(Log())
	FinishLogging()
}

func TestInitTraceAndErrorMapAreNoops(t *testing.T) {
	assert.NoError(t, InitTrace())
	assert.NoError(t, InitErrorMap())
	FinishTrace()
	FinishErrorMap()
}
