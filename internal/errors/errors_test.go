package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapKeepsCode(t *testing.T) {
	base := NotFound("metric")
	wrapped := Wrap(base, "loading dashboard")

	assert.Equal(t, CodeNotFound, GetCode(wrapped))
	assert.Equal(t, "loading dashboard: metric not found", wrapped.Error())
	assert.True(t, stderrors.Is(wrapped, base))
}

func TestWrapPlainErrorIsInternal(t *testing.T) {
	assert.Nil(t, Wrap(nil, "ignored"))

	err := Wrapf(stderrors.New("boom"), "step %d", 2)
	assert.Equal(t, CodeInternalError, GetCode(err))
	assert.Equal(t, "step 2: boom", err.Error())
}

func TestGetCodeFindsNestedAppError(t *testing.T) {
	err := fmt.Errorf("outer: %w", InvalidInput("offset must be positive"))
	assert.True(t, IsAppError(err))
	assert.Equal(t, CodeInvalidInput, GetCode(err))
	assert.Equal(t, "UNKNOWN", GetCode(stderrors.New("plain")))
}

func TestWithCode(t *testing.T) {
	cause := stderrors.New("no rows")
	err := WithCode(CodeNotFound, cause)
	assert.Equal(t, CodeNotFound, GetCode(err))
	assert.True(t, stderrors.Is(err, cause))

	parse := ParseError("bad timestamp", cause)
	assert.Equal(t, CodeParseError, GetCode(parse))
	assert.Equal(t, CodeExternalService, GetCode(ExternalServiceError("upstream", cause)))
}
