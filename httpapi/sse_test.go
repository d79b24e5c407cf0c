package httpapi

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/relaymesh/chatmesh/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEWriterEncodesUserMessageEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, ok := newSSEWriter(rec)
	require.True(t, ok)

	more, err := sw.writeEvent(bus.NewUserMessageEvent("hi", 0, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))
	require.NoError(t, err)
	assert.True(t, more)

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: message\ndata: "))
	assert.True(t, strings.HasSuffix(body, "\n\n"))
	assert.Contains(t, body, `"type":"user"`)
	assert.Contains(t, body, `"content":"hi"`)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}

func TestSSEWriterEncodesDoneEventAndSignalsStop(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, ok := newSSEWriter(rec)
	require.True(t, ok)

	more, err := sw.writeEvent(bus.DoneEvent)
	require.NoError(t, err)
	assert.False(t, more)
	assert.Contains(t, rec.Body.String(), "event: done\ndata: {}\n\n")
}

func TestSSEWriterEncodesThinkingAndStreamEvents(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, ok := newSSEWriter(rec)
	require.True(t, ok)

	_, err := sw.writeEvent(bus.NewAgentInvokedEvent("triage_agent"))
	require.NoError(t, err)
	_, err = sw.writeEvent(bus.NewFunctionStartEvent("search", `{"q":"go"}`))
	require.NoError(t, err)
	_, err = sw.writeEvent(bus.NewStreamEvent("summary_agent", "chunk", 3))
	require.NoError(t, err)

	body := rec.Body.String()
	assert.Contains(t, body, `event: thinking`)
	assert.Contains(t, body, `"type":"agent_invoked"`)
	assert.Contains(t, body, `"type":"function_start"`)
	assert.Contains(t, body, `event: stream`)
	assert.Contains(t, body, `"executor_id":"summary_agent"`)
}
