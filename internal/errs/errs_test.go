package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructorsTagCode(t *testing.T) {
	cases := []struct {
		err  *Error
		code Code
	}{
		{Validation("bad %s", "field"), CodeValidation},
		{NotFound("missing %s", "x"), CodeNotFound},
		{Conflict("dup"), CodeConflict},
		{Referential("in use"), CodeReferenced},
		{Connect("dial failed"), CodeConnect},
		{State("wrong state"), CodeState},
		{Internal("oops"), CodeInternal},
	}
	for _, c := range cases {
		assert.Equal(t, c.code, c.err.Code)
		assert.Equal(t, c.code, CodeOf(c.err))
		assert.True(t, Is(c.err, c.code))
	}
}

func TestWrapPreservesCauseAndUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	wrapped := Wrap(CodeConnect, cause, "failed to reach %s", "broker")

	require.Error(t, wrapped)
	assert.ErrorIs(t, wrapped, cause)
	assert.Contains(t, wrapped.Error(), "connection refused")
	assert.Equal(t, CodeConnect, CodeOf(wrapped))
}

func TestCodeOfDefaultsToInternalForPlainErrors(t *testing.T) {
	plain := fmt.Errorf("unstructured failure")
	assert.Equal(t, CodeInternal, CodeOf(plain))
	assert.False(t, Is(plain, CodeValidation))
}

func TestCodeOfFollowsWrappedChain(t *testing.T) {
	inner := NotFound("flow %q not found", "orders")
	outer := fmt.Errorf("resolving connector: %w", inner)
	assert.Equal(t, CodeNotFound, CodeOf(outer))
}
