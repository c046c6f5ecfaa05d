package events

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Handler receives dispatched events. A returned error is logged and does
// not stop delivery to other handlers.
type Handler func(Event) error

// HandlerToken identifies a registration for RemoveHandler.
type HandlerToken string

type handlerKey struct {
	controllerID string
	eventType    string
}

type handlerEntry struct {
	token HandlerToken
	fn    Handler
}

// HandlerRegistry maps (controller, event type) to an ordered handler list.
//
// Writers replace the per-key slice instead of mutating it, so Dispatch
// works on a snapshot and registration during dispatch is safe. Handlers
// added mid-dispatch do not see events already in flight.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[handlerKey][]handlerEntry
	tokens   map[HandlerToken]handlerKey
	logger   Logger
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[handlerKey][]handlerEntry),
		tokens:   make(map[HandlerToken]handlerKey),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for handler failures.
func (r *HandlerRegistry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// RegisterHandler adds fn for events of eventType (or AllEvents) from a
// controller. Handlers for one key run in registration order.
func (r *HandlerRegistry) RegisterHandler(controllerID, eventType string, fn Handler) (HandlerToken, error) {
	if fn == nil {
		return "", ErrNilHandler
	}
	if eventType == "" {
		eventType = AllEvents
	}
	key := handlerKey{controllerID: controllerID, eventType: eventType}
	token := HandlerToken(uuid.NewString())

	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.handlers[key]
	next := make([]handlerEntry, len(old), len(old)+1)
	copy(next, old)
	r.handlers[key] = append(next, handlerEntry{token: token, fn: fn})
	r.tokens[token] = key
	return token, nil
}

// RemoveHandler removes a registration. It reports whether the token was known.
func (r *HandlerRegistry) RemoveHandler(token HandlerToken) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.tokens[token]
	if !ok {
		return false
	}
	delete(r.tokens, token)

	old := r.handlers[key]
	next := make([]handlerEntry, 0, len(old))
	for _, e := range old {
		if e.token != token {
			next = append(next, e)
		}
	}
	if len(next) == 0 {
		delete(r.handlers, key)
	} else {
		r.handlers[key] = next
	}
	return true
}

// Count returns the number of handlers registered for a controller.
func (r *HandlerRegistry) Count(controllerID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for key, list := range r.handlers {
		if key.controllerID == controllerID {
			n += len(list)
		}
	}
	return n
}

// Dispatch delivers ev to the exact-type handlers, then the AllEvents
// handlers, for its controller. It returns how many handlers failed.
func (r *HandlerRegistry) Dispatch(ev Event) int {
	r.mu.RLock()
	exact := r.handlers[handlerKey{controllerID: ev.ControllerID, eventType: ev.Type}]
	var all []handlerEntry
	if ev.Type != AllEvents {
		all = r.handlers[handlerKey{controllerID: ev.ControllerID, eventType: AllEvents}]
	}
	r.mu.RUnlock()

	failed := 0
	for _, list := range [][]handlerEntry{exact, all} {
		for _, e := range list {
			if err := r.invoke(e, ev); err != nil {
				failed++
				r.logger.Error("event handler failed",
					"controller_id", ev.ControllerID,
					"event_type", ev.Type,
					"handler", string(e.token),
					"error", err)
			}
		}
	}
	return failed
}

// invoke runs one handler, turning a panic into an error.
func (r *HandlerRegistry) invoke(e handlerEntry, ev Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return e.fn(ev)
}
