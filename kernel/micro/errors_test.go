package micro

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKernelError_MatchesByCode(t *testing.T) {
	err := errTimeout("SemTake", 5)
	assert.True(t, errors.Is(err, ErrTime))
	assert.False(t, errors.Is(err, ErrFail))
	assert.Equal(t, "SemTake", err.Context["operation"])

	wrapped := fmt.Errorf("driver: %w", err)
	assert.True(t, errors.Is(wrapped, ErrTime))
	assert.Equal(t, ErrCodeTime, Code(wrapped))
}

func TestKernelError_Wrap(t *testing.T) {
	cause := errors.New("bus error")
	err := WrapKernelError(ErrCodeFail, "connect", cause)
	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, ErrFail))
	assert.Equal(t, "[RC_FAIL] connect: bus error", err.Error())
}

func TestCode(t *testing.T) {
	assert.Equal(t, "RC_OK", Code(nil))
	assert.Equal(t, ErrCodeFail, Code(errors.New("foreign")))
	assert.Equal(t, ErrCodeAlignment, Code(ErrAlignment))
}

func TestFatalError(t *testing.T) {
	err := &FatalError{Reason: "essential task exited", Task: 3}
	assert.True(t, errors.Is(err, ErrFatal))
	assert.Equal(t, "kernel fatal: essential task exited (task 3)", err.Error())

	cause := errors.New("nil map")
	err = &FatalError{Reason: "essential task faulted", Task: 4, Cause: cause}
	assert.True(t, errors.Is(err, cause))
}
