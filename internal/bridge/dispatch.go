package bridge

import (
	"encoding/json"
	"sync"
)

// EventHandler receives one pushed event. Handlers run synchronously on the
// receive loop and in registration order; long work must be handed off so
// the loop is not starved.
type EventHandler func(eventType string, payload json.RawMessage)

type dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
}

func newDispatcher() *dispatcher {
	return &dispatcher{handlers: make(map[string][]EventHandler)}
}

func (d *dispatcher) on(eventType string, h EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], h)
}

// dispatch invokes the handlers registered for the type. Unknown types are
// ignored, not errors.
func (d *dispatcher) dispatch(eventType string, payload json.RawMessage) {
	d.mu.RLock()
	hs := d.handlers[eventType]
	d.mu.RUnlock()
	for _, h := range hs {
		h(eventType, payload)
	}
}
