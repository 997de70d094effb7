package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// batch
	"batch.started":   {},
	"batch.completed": {},
	"batch.stopped":   {},
	"batch.failed":    {},

	// iteration
	"iteration.started":   {},
	"iteration.completed": {},
	"iteration.skipped":   {},

	// job
	"job.submitted":   {},
	"job.output":      {},
	"job.interrupted": {},

	// engine
	"engine.error":    {},
	"schema.degraded": {},

	// session
	"session.created": {},
	"session.closed":  {},

	// system
	"system.startup":  {},
	"system.shutdown": {},
	"system.error":    {},
}

func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
