package completer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveTimeout(t *testing.T) {
	// Explicit option wins, then the client default, then the package default.
	assert.Equal(t, 5*time.Second, resolveTimeout(5*time.Second, 30*time.Second))
	assert.Equal(t, 30*time.Second, resolveTimeout(0, 30*time.Second))
	assert.Equal(t, defaultTimeout, resolveTimeout(0, 0))
}

func TestWithTimeoutIfMissingAddsDeadline(t *testing.T) {
	ctx, cancel := withTimeoutIfMissing(context.Background(), time.Minute)
	defer cancel()

	_, ok := ctx.Deadline()
	assert.True(t, ok, "completion calls must carry a deadline")
}

func TestWithTimeoutIfMissingKeepsCallerDeadline(t *testing.T) {
	parent, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	ctx, cancel2 := withTimeoutIfMissing(parent, time.Hour)
	defer cancel2()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.LessOrEqual(t, time.Until(deadline), 10*time.Millisecond)
}

func TestClientsCarryConfiguredTimeout(t *testing.T) {
	oc := NewOpenAIClient("key", "", "gpt-4o-mini", 20*time.Second)
	assert.Equal(t, 20*time.Second, resolveTimeout(0, oc.timeout))

	ac := NewAnthropicClient("key", "claude-sonnet-4-5", 0)
	assert.Equal(t, defaultTimeout, resolveTimeout(0, ac.timeout))
}
