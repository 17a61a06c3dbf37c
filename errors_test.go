package reactor

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ResultCode
	}{
		{"nil", nil, CodeOK},
		{"done", ErrDone, CodeDone},
		{"timeout", ErrTimeout, CodeTimeout},
		{"return", ErrReturn, CodeReturn},
		{"wrapped return", fmt.Errorf("run: %w", ErrReturn), CodeReturn},
		{"misuse", ErrAlreadyRegistered, CodeMisuse},
		{"wrapped misuse", fmt.Errorf("add: %w", ErrTimerRemoved), CodeMisuse},
		{"backend", &BackendError{Err: io.ErrUnexpectedEOF}, CodeError},
		{"other", io.EOF, CodeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Code(tt.err); got != tt.want {
				t.Errorf("Code() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsBenign(t *testing.T) {
	assert.True(t, IsBenign(ErrDone))
	assert.True(t, IsBenign(ErrTimeout))
	assert.True(t, IsBenign(ErrReturn))
	assert.False(t, IsBenign(nil))
	assert.False(t, IsBenign(ErrLoopRunning))
	assert.False(t, IsBenign(&BackendError{Err: io.EOF}))
}

func TestMisuseErrors(t *testing.T) {
	for _, err := range []error{
		ErrLoopRunning,
		ErrReentrantRun,
		ErrLoopClosed,
		ErrLoopNotEmpty,
		ErrAlreadyRegistered,
		ErrNotRegistered,
		ErrTimerRemoved,
		ErrTriggerRemoved,
		ErrPoolClosed,
	} {
		assert.True(t, IsMisuse(err), err.Error())
		assert.True(t, errors.Is(err, ErrMisuse), err.Error())
		assert.Contains(t, err.Error(), "reactor: misuse: ")
	}
	assert.False(t, IsMisuse(ErrDone))
	assert.False(t, errors.Is(ErrLoopRunning, ErrLoopClosed))
}

func TestBackendError_Unwrap(t *testing.T) {
	err := error(&BackendError{Err: io.ErrUnexpectedEOF})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.ErrorIs(t, err, ErrDone)
	assert.Equal(t, "reactor: backend failure: unexpected EOF", err.Error())

	var be *BackendError
	assert.True(t, errors.As(err, &be))
}

func TestPanicError(t *testing.T) {
	err := PanicError{Value: io.EOF}
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "reactor: callback panicked: EOF", err.Error())
	assert.Nil(t, PanicError{Value: "boom"}.Unwrap())
}

func TestResultCode_String(t *testing.T) {
	assert.Equal(t, "DONE", CodeDone.String())
	assert.Equal(t, "MISUSE", CodeMisuse.String())
	assert.Equal(t, "UNKNOWN", ResultCode(99).String())
}
