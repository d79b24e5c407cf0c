package chatmerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	err := New(KindTransient, "model", "rate limited")
	assert.True(t, errors.Is(err, Transient))
	assert.False(t, errors.Is(err, Permanent))
}

func TestWrapUnwrapsCause(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := Wrap(KindTransient, "convstore", "query failed", cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, KindTransient, KindOf(err))
}

func TestKindOfNonChatmErrReturnsUnknown(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(fmt.Errorf("plain error")))
}

func TestErrorMessageIncludesComponentAndKind(t *testing.T) {
	err := New(KindNotFound, "memoryservice", "record missing")
	assert.Contains(t, err.Error(), "memoryservice")
	assert.Contains(t, err.Error(), "not_found")
	assert.Contains(t, err.Error(), "record missing")
}
