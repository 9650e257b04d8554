package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LogEmitter writes structured event output to a writer, either as
// human-readable key=value text or as JSON lines, grounded on
// graph/emit/log.go.
type LogEmitter struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter builds a LogEmitter over writer (os.Stdout if nil).
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

func (l *LogEmitter) Emit(event Event) {
	if l.jsonMode {
		l.emitJSON(event)
		return
	}
	l.emitText(event)
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		InstanceID string                 `json:"instance_id"`
		UOWID      string                 `json:"uow_id,omitempty"`
		RoleID     string                 `json:"role_id,omitempty"`
		EventType  string                 `json:"event_type"`
		Payload    map[string]interface{} `json:"payload,omitempty"`
	}{event.InstanceID, event.UOWID, event.RoleID, event.EventType, event.Payload})
	if err != nil {
		_, _ = fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	_, _ = fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	_, _ = fmt.Fprintf(l.writer, "[%s] instance=%s uow=%s role=%s", event.EventType, event.InstanceID, event.UOWID, event.RoleID)
	if len(event.Payload) > 0 {
		if payloadJSON, err := json.Marshal(event.Payload); err == nil {
			_, _ = fmt.Fprintf(l.writer, " payload=%s", payloadJSON)
		}
	}
	_, _ = fmt.Fprint(l.writer, "\n")
}

func (l *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, event := range events {
		l.Emit(event)
	}
	return nil
}

// Flush is a no-op: LogEmitter writes synchronously without buffering.
func (l *LogEmitter) Flush(_ context.Context) error { return nil }
