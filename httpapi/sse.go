package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/relaymesh/chatmesh/bus"
)

// sseWriter serializes bus.Events as two-line SSE records:
// "event: <type>\ndata: <json-record>\n\n", flushing after every record so
// the client sees incremental progress rather than a buffered response.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &sseWriter{w: w, f: f}, true
}

func (s *sseWriter) writeRecord(eventType string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, payload); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// messageRecord is the payload shape for the "message" SSE event.
type messageRecord struct {
	Type    string    `json:"type"`
	Content string    `json:"content"`
	Seq     int       `json:"seq"`
	Time    string    `json:"time"`
	Title   *string   `json:"title,omitempty"`
}

// thinkingRecord is the payload shape for the "thinking" SSE event.
type thinkingRecord struct {
	Type            string      `json:"type"`
	Name            string      `json:"name,omitempty"`
	Model           string      `json:"model,omitempty"`
	Usage           *bus.Usage  `json:"usage,omitempty"`
	ExecutionTimeMs int64       `json:"execution_time_ms,omitempty"`
	Output          interface{} `json:"output,omitempty"`
	Arguments       string      `json:"arguments,omitempty"`
	Result          string      `json:"result,omitempty"`
}

// streamRecord is the payload shape for the "stream" SSE event.
type streamRecord struct {
	Text       string `json:"text"`
	ExecutorID string `json:"executor_id"`
	Seq        int    `json:"seq"`
}

// writeEvent translates one bus.Event into its wire SSE record. It returns
// whether the caller should keep writing (false once "done" was written).
func (s *sseWriter) writeEvent(ev bus.Event) (bool, error) {
	switch ev.Type {
	case bus.EventUserMessage:
		p := ev.UserMessage
		return true, s.writeRecord("message", messageRecord{Type: "user", Content: p.Content, Seq: p.Seq, Time: p.Time.Format(timeLayout)})
	case bus.EventAssistantMessage:
		p := ev.AssistantMessage
		return true, s.writeRecord("message", messageRecord{Type: "assistant", Content: p.Content, Seq: p.Seq, Time: p.Time.Format(timeLayout), Title: p.Title})
	case bus.EventAgentInvoked:
		p := ev.AgentInvoked
		return true, s.writeRecord("thinking", thinkingRecord{Type: "agent_invoked", Name: p.Name})
	case bus.EventAgentFinished:
		p := ev.AgentFinished
		return true, s.writeRecord("thinking", thinkingRecord{Type: "agent_finished", Name: p.Name, Model: p.Model, Usage: p.Usage, ExecutionTimeMs: p.ExecutionTimeMs, Output: p.Output})
	case bus.EventFunctionStart:
		p := ev.FunctionStart
		return true, s.writeRecord("thinking", thinkingRecord{Type: "function_start", Name: p.Name, Arguments: p.Arguments})
	case bus.EventFunctionEnd:
		p := ev.FunctionEnd
		return true, s.writeRecord("thinking", thinkingRecord{Type: "function_end", Name: p.Name, Result: p.Result})
	case bus.EventStream:
		p := ev.Stream
		return true, s.writeRecord("stream", streamRecord{Text: p.Text, ExecutorID: p.ExecutorID, Seq: p.Seq})
	case bus.EventDone:
		return false, s.writeRecord("done", struct{}{})
	default:
		return true, nil
	}
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"
