package common

import (
	"sync"

	"github.com/mailru/easyjson"

	"github.com/mimicbrowser/mimic/log"
)

// Event is one unsolicited protocol notification: a method name and
// its raw params payload.
type Event struct {
	Name   string
	Params easyjson.RawMessage
}

// HandlerFunc is invoked for every dispatched event it is subscribed
// to. Handlers run on their own goroutines and may issue commands
// through the session without deadlocking the reader.
type HandlerFunc func(ev Event)

type registration struct {
	id      uint64
	event   string
	handler HandlerFunc
	once    bool
}

// Dispatcher routes events to subscribed handlers. Registrations per
// event name keep their subscription order; dispatch schedules every
// handler as an independent goroutine so a slow or panicking handler
// can never stall the session reader or its peers.
type Dispatcher struct {
	logger *log.Logger

	mu       sync.Mutex
	nextID   uint64
	handlers map[string][]*registration
	byID     map[uint64]*registration
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher(logger *log.Logger) *Dispatcher {
	return &Dispatcher{
		logger:   logger,
		handlers: make(map[string][]*registration),
		byID:     make(map[uint64]*registration),
	}
}

// On subscribes handler to event and returns its registration id.
func (d *Dispatcher) On(event string, handler HandlerFunc) uint64 {
	return d.subscribe(event, handler, false)
}

// Once subscribes handler to event for a single delivery. The
// registration is removed before the handler is invoked, so a second
// copy of the event arriving while the first is still being handled
// cannot fire it again.
func (d *Dispatcher) Once(event string, handler HandlerFunc) uint64 {
	return d.subscribe(event, handler, true)
}

func (d *Dispatcher) subscribe(event string, handler HandlerFunc, once bool) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	r := &registration{
		id:      d.nextID,
		event:   event,
		handler: handler,
		once:    once,
	}
	d.handlers[event] = append(d.handlers[event], r)
	d.byID[r.id] = r

	d.logger.Debugf("Dispatcher:subscribe", "event:%q id:%d once:%t", event, r.id, once)

	return r.id
}

// Off removes the registration with the given id. Unknown or already
// removed ids are a no-op: teardown paths may unsubscribe more than
// once.
func (d *Dispatcher) Off(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.byID[id]
	if !ok {
		return
	}
	delete(d.byID, id)
	d.remove(r)

	d.logger.Debugf("Dispatcher:Off", "event:%q id:%d", r.event, id)
}

// remove must be called with d.mu held.
func (d *Dispatcher) remove(r *registration) {
	regs := d.handlers[r.event]
	for i, cur := range regs {
		if cur.id == r.id {
			regs = append(regs[:i], regs[i+1:]...)
			break
		}
	}
	if len(regs) == 0 {
		delete(d.handlers, r.event)
	} else {
		d.handlers[r.event] = regs
	}
}

// Emit delivers ev to every handler currently subscribed to its name,
// scheduling them in registration order. One-shot registrations are
// removed from the table before their handler starts.
func (d *Dispatcher) Emit(ev Event) {
	d.mu.Lock()
	regs := d.handlers[ev.Name]
	if len(regs) == 0 {
		d.mu.Unlock()
		return
	}
	run := make([]*registration, len(regs))
	copy(run, regs)
	for _, r := range run {
		if r.once {
			delete(d.byID, r.id)
			d.remove(r)
		}
	}
	d.mu.Unlock()

	for _, r := range run {
		r := r
		go func() {
			defer func() {
				if p := recover(); p != nil {
					d.logger.Errorf("Dispatcher:Emit",
						"handler %d for %q panicked: %v", r.id, ev.Name, p)
				}
			}()
			r.handler(ev)
		}()
	}
}

// Clear drops every registration. Used by the session close barrier
// so no handler fires after teardown.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers = make(map[string][]*registration)
	d.byID = make(map[uint64]*registration)
}
