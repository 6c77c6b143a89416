/************************************************************************************
 *
 * perch, a minimal Go client for the Discord gateway
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 ************************************************************************************/

package perch

import (
	"runtime/debug"
	"sync"
)

// EventDispatcher holds the registered handlers for every event name and
// invokes them in registration order. It has no opinion on concurrency: a
// Connection calls Dispatch from inside its own per-shard DispatchExecutor,
// which is what gives callers the per-shard ordering guarantee (spec.md
// §5, §8) — EventDispatcher itself just needs to be safe for concurrent
// registration from many shards sharing one Client.
//
// Grounded in goda's dispatcher.go handlersManagers registry, collapsed
// from one eventhandlersManager type per Discord entity (the per-entity
// caching logic in readyHandlers/guildCreateHandlers/etc. is out of scope —
// spec.md §1 Non-goal: entity payload wire formats) into a single
// name-keyed map of generic handlers, since perch's handlers only ever see
// a DispatchedEvent.
type EventDispatcher struct {
	logger Logger

	mu       sync.RWMutex
	handlers map[string][]func(DispatchedEvent)
}

// NewEventDispatcher creates an empty EventDispatcher.
func NewEventDispatcher(logger Logger) *EventDispatcher {
	return &EventDispatcher{
		logger:   logger,
		handlers: make(map[string][]func(DispatchedEvent), 20),
	}
}

// On registers a handler for the given Discord event name (e.g.
// "MESSAGE_CREATE"). Handlers are called in registration order; register
// all handlers during startup, before Client.Start, to avoid racing
// dispatch against registration.
func (d *EventDispatcher) On(eventName string, handler func(DispatchedEvent)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventName] = append(d.handlers[eventName], handler)
}

// OnAny registers a handler invoked for every dispatched event, regardless
// of name — useful for logging or metrics middleware.
func (d *EventDispatcher) OnAny(handler func(DispatchedEvent)) {
	d.On("", handler)
}

// Dispatch invokes every handler registered for evt.Name, then every
// OnAny handler, recovering from and logging any handler panic so a single
// misbehaving handler cannot take down a shard's dispatch executor.
func (d *EventDispatcher) Dispatch(evt DispatchedEvent) {
	d.mu.RLock()
	named := d.handlers[evt.Name]
	any := d.handlers[""]
	d.mu.RUnlock()

	d.invoke(named, evt)
	d.invoke(any, evt)
}

func (d *EventDispatcher) invoke(handlers []func(DispatchedEvent), evt DispatchedEvent) {
	for _, h := range handlers {
		d.callOne(h, evt)
	}
}

func (d *EventDispatcher) callOne(h func(DispatchedEvent), evt DispatchedEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithField("event", evt.Name).
				WithField("shard_id", evt.ShardID).
				WithField("panic", r).
				WithField("stack", string(debug.Stack())).
				Error("recovered from panic while handling event")
		}
	}()
	h(evt)
}
