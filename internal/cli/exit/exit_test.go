package exit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyMapsDeadlineExceededToTimeout(t *testing.T) {
	err := Classify("op failed", context.DeadlineExceeded)
	assert.Equal(t, Timeout, err.Code)
}

func TestClassifyMapsOtherErrorsToGenericFailure(t *testing.T) {
	err := Classify("op failed", errors.New("boom"))
	assert.Equal(t, GenericFailure, err.Code)
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Failure("wrapped", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "root cause")
}

func TestInvalidWorkflowErrorCode(t *testing.T) {
	err := InvalidWorkflowError("bad workflow", errors.New("parse error"))
	assert.Equal(t, InvalidWorkflow, err.Code)
}
