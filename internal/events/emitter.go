package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/simplui/simplui/internal/metrics"
	"github.com/simplui/simplui/internal/storage/postgres"
)

var buffer = NewRingBuffer(256)

// appender persists events. *postgres.Client is the production implementation.
type appender interface {
	Append(ts time.Time, level, event, msg string, fields map[string]interface{}, sessionID string) error
}

var (
	pgSink        appender
	pgMu          sync.RWMutex
	pgErrorLogged bool
)

// SetPostgresClient sets the Postgres client for event persistence. A nil
// client disables persistence.
func SetPostgresClient(client *postgres.Client) {
	if client == nil {
		setSink(nil)
		return
	}
	setSink(client)
}

func setSink(a appender) {
	pgMu.Lock()
	pgSink = a
	pgErrorLogged = false
	pgMu.Unlock()
}

type Event struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Name      string                 `json:"event"`
	Message   string                 `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// SessionID returns the "session_id" field, if any.
func (e Event) SessionID() string {
	s, _ := e.Fields["session_id"].(string)
	return s
}

// Emit records a domain event: it is buffered for /events, pushed to live
// subscribers and appended to Postgres when configured. Unknown names are
// rejected.
func Emit(level, name, msg string, fields map[string]interface{}) ([]byte, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	e := Event{
		Timestamp: ts.Format(time.RFC3339Nano),
		Level:     level,
		Name:      name,
		Message:   msg,
		Fields:    fields,
	}

	buffer.Add(e)
	broadcast(e)
	metrics.DomainEvents.WithLabelValues(name).Inc()

	pgMu.RLock()
	sink := pgSink
	errorLogged := pgErrorLogged
	pgMu.RUnlock()

	if sink != nil {
		if err := sink.Append(ts, level, name, msg, fields, e.SessionID()); err != nil && !errorLogged {
			// Reported once, straight into the buffer: going through Emit
			// would append to the failing sink again.
			pgMu.Lock()
			first := !pgErrorLogged
			pgErrorLogged = true
			pgMu.Unlock()
			if first {
				errEvent := Event{
					Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
					Level:     "error",
					Name:      "system.error",
					Message:   "postgres append failed",
					Fields: map[string]interface{}{
						"error": err.Error(),
					},
				}
				buffer.Add(errEvent)
				broadcast(errEvent)
			}
		}
	}

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return b, nil
}

func Snapshot() []Event {
	return buffer.Snapshot()
}

// TotalCount returns the number of events emitted since start.
func TotalCount() uint64 {
	return buffer.Total()
}

// Clear resets the event buffer. Used for testing.
func Clear() {
	buffer.Clear()
}
