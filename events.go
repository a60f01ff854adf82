package linkage

import (
	"unsafe"

	"github.com/akmonengine/linkage/actor"
	"github.com/akmonengine/linkage/constraint"
)

const (
	COLLISION_ENTER EventType = iota
	COLLISION_STAY
	COLLISION_EXIT
	ON_SLEEP
	ON_WAKE
	LINK_BROKEN
)

type pairKey struct {
	bodyA *actor.RigidBody
	bodyB *actor.RigidBody
}

// makePairKey creates a normalized pair key with consistent ordering
func makePairKey(bodyA, bodyB *actor.RigidBody) pairKey {
	ptrA := uintptr(unsafe.Pointer(bodyA))
	ptrB := uintptr(unsafe.Pointer(bodyB))

	if ptrB < ptrA {
		bodyA, bodyB = bodyB, bodyA
	}

	return pairKey{bodyA: bodyA, bodyB: bodyB}
}

type EventType uint8

func (t EventType) String() string {
	switch t {
	case COLLISION_ENTER:
		return "collision_enter"
	case COLLISION_STAY:
		return "collision_stay"
	case COLLISION_EXIT:
		return "collision_exit"
	case ON_SLEEP:
		return "sleep"
	case ON_WAKE:
		return "wake"
	case LINK_BROKEN:
		return "link_broken"
	default:
		return "unknown"
	}
}

// Event interface - all events implement this
type Event interface {
	Type() EventType
}

// Collision events
type CollisionEnterEvent struct {
	BodyA *actor.RigidBody
	BodyB *actor.RigidBody
}

func (e CollisionEnterEvent) Type() EventType { return COLLISION_ENTER }

type CollisionStayEvent struct {
	BodyA *actor.RigidBody
	BodyB *actor.RigidBody
}

func (e CollisionStayEvent) Type() EventType { return COLLISION_STAY }

type CollisionExitEvent struct {
	BodyA *actor.RigidBody
	BodyB *actor.RigidBody
}

func (e CollisionExitEvent) Type() EventType { return COLLISION_EXIT }

// Sleep/Wake events. Exactly one of Body and Shaft is set.
type SleepEvent struct {
	Body  *actor.RigidBody
	Shaft *actor.Shaft
}

func (e SleepEvent) Type() EventType { return ON_SLEEP }

type WakeEvent struct {
	Body  *actor.RigidBody
	Shaft *actor.Shaft
}

func (e WakeEvent) Type() EventType { return ON_WAKE }

// LinkBrokenEvent is emitted once, on the step the link breaks.
type LinkBrokenEvent struct {
	Link constraint.Link
}

func (e LinkBrokenEvent) Type() EventType { return LINK_BROKEN }

// EventListener - callback for events
type EventListener func(event Event)

// Events manager
type Events struct {
	// Listeners by event type
	listeners map[EventType][]EventListener

	// Event buffer to send at flush
	buffer []Event

	// Collision tracking for Enter/Stay/Exit detection
	previousActivePairs map[pairKey]bool
	currentActivePairs  map[pairKey]bool

	sleepStates      map[*actor.RigidBody]bool
	shaftSleepStates map[*actor.Shaft]bool
}

func NewEvents() Events {
	return Events{
		listeners:           make(map[EventType][]EventListener),
		buffer:              make([]Event, 0, 256),
		previousActivePairs: make(map[pairKey]bool),
		currentActivePairs:  make(map[pairKey]bool),
		sleepStates:         make(map[*actor.RigidBody]bool),
		shaftSleepStates:    make(map[*actor.Shaft]bool),
	}
}

func (e *Events) init() {
	if e.listeners == nil {
		*e = NewEvents()
	}
}

// Subscribe adds a listener for an event type
func (e *Events) Subscribe(eventType EventType, listener EventListener) {
	e.init()
	e.listeners[eventType] = append(e.listeners[eventType], listener)
}

// recordContacts marks the pairs touching during this step
func (e *Events) recordContacts(contacts []*constraint.ContactConstraint) {
	for _, c := range contacts {
		e.currentActivePairs[makePairKey(c.BodyA, c.BodyB)] = true
	}
}

func (e *Events) emitLinkBroken(link constraint.Link) {
	e.buffer = append(e.buffer, LinkBrokenEvent{Link: link})
}

// processCollisionEvents compares current and previous pairs to detect Enter/Stay/Exit
func (e *Events) processCollisionEvents() {
	for pair := range e.currentActivePairs {
		// Skip if both bodies are sleeping, to avoid spamming events
		if pair.bodyA.IsSleeping() && pair.bodyB.IsSleeping() {
			continue
		}

		if e.previousActivePairs[pair] {
			e.buffer = append(e.buffer, CollisionStayEvent{BodyA: pair.bodyA, BodyB: pair.bodyB})
		} else {
			e.buffer = append(e.buffer, CollisionEnterEvent{BodyA: pair.bodyA, BodyB: pair.bodyB})
		}
	}

	for pair := range e.previousActivePairs {
		if !e.currentActivePairs[pair] {
			e.buffer = append(e.buffer, CollisionExitEvent{BodyA: pair.bodyA, BodyB: pair.bodyB})
		}
	}

	// Swap for next frame and clear current
	e.previousActivePairs, e.currentActivePairs = e.currentActivePairs, e.previousActivePairs
	clear(e.currentActivePairs)
}

func (e *Events) processSleepEvents(bodies []*actor.RigidBody, shafts []*actor.Shaft) {
	for _, body := range bodies {
		sleeping := body.IsSleeping()
		tracked, exists := e.sleepStates[body]
		e.sleepStates[body] = sleeping
		if !exists || tracked == sleeping {
			continue
		}
		if sleeping {
			e.buffer = append(e.buffer, SleepEvent{Body: body})
		} else {
			e.buffer = append(e.buffer, WakeEvent{Body: body})
		}
	}

	for _, shaft := range shafts {
		sleeping := shaft.IsSleeping()
		tracked, exists := e.shaftSleepStates[shaft]
		e.shaftSleepStates[shaft] = sleeping
		if !exists || tracked == sleeping {
			continue
		}
		if sleeping {
			e.buffer = append(e.buffer, SleepEvent{Shaft: shaft})
		} else {
			e.buffer = append(e.buffer, WakeEvent{Shaft: shaft})
		}
	}
}

// forget drops the tracking of a removed body
func (e *Events) forget(body *actor.RigidBody) {
	delete(e.sleepStates, body)
	for pair := range e.previousActivePairs {
		if pair.bodyA == body || pair.bodyB == body {
			delete(e.previousActivePairs, pair)
		}
	}
}

// flush sends all buffered events and clears the buffer
func (e *Events) flush() {
	e.processCollisionEvents()

	for _, event := range e.buffer {
		if listeners, ok := e.listeners[event.Type()]; ok {
			for _, listener := range listeners {
				listener(event)
			}
		}
	}
	e.buffer = e.buffer[:0]
}
