package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapFormatsComponentMethodAction(t *testing.T) {
	base := New("boom")
	err := Wrap(base, "Registry", "Register", "insert device")

	require.Error(t, err)
	assert.Equal(t, "Registry.Register: insert device failed: boom", err.Error())
	assert.True(t, Is(err, base))
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "m", "a"))
	assert.NoError(t, WrapTransient(nil, "c", "m", "a"))
	assert.NoError(t, WrapInvalid(nil, "c", "m", "a"))
	assert.NoError(t, WrapFatal(nil, "c", "m", "a"))
}

func TestClassification(t *testing.T) {
	transient := WrapTransient(ErrConnectionLost, "Client", "run", "read frame")
	invalid := WrapInvalid(ErrMalformedMessage, "Client", "parse", "decode envelope")
	fatal := WrapFatal(ErrRetriesExhausted, "Client", "run", "reconnect")

	assert.True(t, IsTransient(transient))
	assert.False(t, IsInvalid(transient))

	assert.True(t, IsInvalid(invalid))
	assert.False(t, IsTransient(invalid))

	assert.True(t, IsFatal(fatal))
	assert.False(t, IsInvalid(fatal))
}

func TestClassificationOfBareErrors(t *testing.T) {
	assert.True(t, IsTransient(ErrConnectionTimeout))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(fmt.Errorf("dial tcp: connection refused")))

	assert.True(t, IsInvalid(ErrMalformedMessage))
	assert.True(t, IsFatal(ErrMissingConfig))

	assert.False(t, IsTransient(nil))
	assert.False(t, IsInvalid(nil))
	assert.False(t, IsFatal(nil))
}

func TestNotFoundAndConflictMapping(t *testing.T) {
	notFound := Wrap(ErrDeviceNotFound, "Registry", "Get", "lookup id 42")
	conflict := Wrap(ErrDuplicateEUI, "Registry", "Register", "insert device")

	assert.True(t, IsNotFound(notFound))
	assert.False(t, IsNotFound(conflict))
	assert.True(t, IsConflict(conflict))
	assert.False(t, IsConflict(notFound))
}

func TestClassifiedErrorUnwrap(t *testing.T) {
	err := WrapTransient(ErrNotConnected, "Bridge", "Start", "subscribe")

	var ce *ClassifiedError
	require.True(t, As(err, &ce))
	assert.Equal(t, ErrorTransient, ce.Class)
	assert.Equal(t, "Bridge", ce.Component)
	assert.True(t, Is(ce.Unwrap(), ErrNotConnected))
}

func TestMessage(t *testing.T) {
	classified := WrapInvalid(ErrInvalidData, "DeviceInput", "Validate", "name is required")
	assert.Equal(t, "DeviceInput.Validate: name is required failed: invalid data", Message(classified))

	assert.Equal(t, "boom", Message(New("boom")))
	assert.Equal(t, "", Message(nil))
}

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(99).String())
}
