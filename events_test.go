package linkage

import (
	"testing"

	"github.com/akmonengine/linkage/actor"
	"github.com/akmonengine/linkage/constraint"
	"github.com/go-gl/mathgl/mgl64"
)

// createTestBody creates a minimal RigidBody for event testing
func createTestBody(t *testing.T, sleeping bool) *actor.RigidBody {
	t.Helper()
	rb, err := actor.NewRigidBody(actor.NewTransform(), &actor.Sphere{Radius: 1.0}, actor.BodyTypeDynamic, 1.0)
	if err != nil {
		t.Fatalf("NewRigidBody: %v", err)
	}
	rb.SetUseSleeping(true)
	if sleeping {
		rb.Sleep()
	}
	return rb
}

// createTestConstraint creates a ContactConstraint for testing
func createTestConstraint(bodyA, bodyB *actor.RigidBody) *constraint.ContactConstraint {
	return constraint.NewContactConstraint(bodyA, bodyB, mgl64.Vec3{1, 0, 0}, []constraint.ContactPoint{
		{Position: mgl64.Vec3{0, 0, 0}, Penetration: 0.1},
	})
}

type eventCapture struct {
	events []Event
}

func (ec *eventCapture) capture(event Event) {
	ec.events = append(ec.events, event)
}

func (ec *eventCapture) reset() {
	ec.events = ec.events[:0]
}

func (ec *eventCapture) count() int {
	return len(ec.events)
}

func (ec *eventCapture) hasEventType(eventType EventType) bool {
	for _, e := range ec.events {
		if e.Type() == eventType {
			return true
		}
	}
	return false
}

// ===== Subscribe and Listeners Tests =====

func TestEvents_Subscribe(t *testing.T) {
	events := NewEvents()
	capture := &eventCapture{}

	events.Subscribe(COLLISION_ENTER, capture.capture)

	if len(events.listeners[COLLISION_ENTER]) != 1 {
		t.Errorf("Expected 1 listener for COLLISION_ENTER, got %d", len(events.listeners[COLLISION_ENTER]))
	}
}

func TestEvents_SubscribeOnZeroValue(t *testing.T) {
	var events Events
	capture := &eventCapture{}
	events.Subscribe(LINK_BROKEN, capture.capture)

	events.emitLinkBroken(nil)
	events.flush()

	if capture.count() != 1 {
		t.Errorf("Expected 1 event, got %d", capture.count())
	}
}

func TestEvents_MultipleListeners(t *testing.T) {
	events := NewEvents()
	captures := []*eventCapture{{}, {}, {}}
	for _, c := range captures {
		events.Subscribe(COLLISION_ENTER, c.capture)
	}

	bodyA := createTestBody(t, false)
	bodyB := createTestBody(t, false)
	events.recordContacts([]*constraint.ContactConstraint{createTestConstraint(bodyA, bodyB)})
	events.flush()

	for i, c := range captures {
		if c.count() != 1 {
			t.Errorf("Capture%d expected 1 event, got %d", i+1, c.count())
		}
	}
}

func TestEvents_DifferentEventTypes(t *testing.T) {
	events := NewEvents()
	captureCollision := &eventCapture{}
	captureBroken := &eventCapture{}

	events.Subscribe(COLLISION_ENTER, captureCollision.capture)
	events.Subscribe(LINK_BROKEN, captureBroken.capture)

	bodyA := createTestBody(t, false)
	bodyB := createTestBody(t, false)
	events.recordContacts([]*constraint.ContactConstraint{createTestConstraint(bodyA, bodyB)})
	events.flush()

	if captureCollision.count() != 1 {
		t.Errorf("Expected 1 collision event, got %d", captureCollision.count())
	}
	if captureBroken.count() != 0 {
		t.Errorf("Expected no link event, got %d", captureBroken.count())
	}
}

func TestEventType_String(t *testing.T) {
	tests := []struct {
		eventType EventType
		expected  string
	}{
		{COLLISION_ENTER, "collision_enter"},
		{COLLISION_STAY, "collision_stay"},
		{COLLISION_EXIT, "collision_exit"},
		{ON_SLEEP, "sleep"},
		{ON_WAKE, "wake"},
		{LINK_BROKEN, "link_broken"},
		{EventType(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.eventType.String(); got != tt.expected {
				t.Errorf("String() = %q, want %q", got, tt.expected)
			}
		})
	}
}

// ===== Pair Key Tests =====

func TestMakePairKey_Normalization(t *testing.T) {
	bodyA := createTestBody(t, false)
	bodyB := createTestBody(t, false)

	if makePairKey(bodyA, bodyB) != makePairKey(bodyB, bodyA) {
		t.Error("pair key must not depend on the argument order")
	}
}

func TestMakePairKey_DifferentPairs(t *testing.T) {
	bodyA := createTestBody(t, false)
	bodyB := createTestBody(t, false)
	bodyC := createTestBody(t, false)

	if makePairKey(bodyA, bodyB) == makePairKey(bodyA, bodyC) {
		t.Error("distinct pairs must have distinct keys")
	}
}

// ===== Collision Events Tests =====

func TestEvents_CollisionLifecycle(t *testing.T) {
	events := NewEvents()
	capture := &eventCapture{}
	events.Subscribe(COLLISION_ENTER, capture.capture)
	events.Subscribe(COLLISION_STAY, capture.capture)
	events.Subscribe(COLLISION_EXIT, capture.capture)

	bodyA := createTestBody(t, false)
	bodyB := createTestBody(t, false)
	contact := []*constraint.ContactConstraint{createTestConstraint(bodyA, bodyB)}

	frames := []struct {
		name     string
		contacts []*constraint.ContactConstraint
		expected EventType
	}{
		{"enter", contact, COLLISION_ENTER},
		{"stay", contact, COLLISION_STAY},
		{"exit", nil, COLLISION_EXIT},
		{"enter again", contact, COLLISION_ENTER},
	}

	for _, f := range frames {
		capture.reset()
		events.recordContacts(f.contacts)
		events.flush()

		if capture.count() != 1 {
			t.Fatalf("%s: expected 1 event, got %d", f.name, capture.count())
		}
		if !capture.hasEventType(f.expected) {
			t.Errorf("%s: expected %v, got %v", f.name, f.expected, capture.events[0].Type())
		}
	}
}

func TestEvents_CollisionStay_SleepingBodies(t *testing.T) {
	events := NewEvents()
	capture := &eventCapture{}
	events.Subscribe(COLLISION_STAY, capture.capture)

	bodyA := createTestBody(t, false)
	bodyB := createTestBody(t, false)
	contact := []*constraint.ContactConstraint{createTestConstraint(bodyA, bodyB)}

	events.recordContacts(contact)
	events.flush()

	bodyA.Sleep()
	bodyB.Sleep()
	events.recordContacts(contact)
	events.flush()

	if capture.count() != 0 {
		t.Errorf("Expected no stay event between sleeping bodies, got %d", capture.count())
	}
}

func TestEvents_Forget(t *testing.T) {
	events := NewEvents()
	capture := &eventCapture{}
	events.Subscribe(COLLISION_EXIT, capture.capture)

	bodyA := createTestBody(t, false)
	bodyB := createTestBody(t, false)
	events.recordContacts([]*constraint.ContactConstraint{createTestConstraint(bodyA, bodyB)})
	events.flush()

	events.forget(bodyA)
	events.flush()

	if capture.count() != 0 {
		t.Errorf("Expected no exit event for a removed body, got %d", capture.count())
	}
}

// ===== Sleep Events Tests =====

func TestEvents_SleepWake(t *testing.T) {
	events := NewEvents()
	capture := &eventCapture{}
	events.Subscribe(ON_SLEEP, capture.capture)
	events.Subscribe(ON_WAKE, capture.capture)

	body := createTestBody(t, false)
	shaft, err := actor.NewShaft(1)
	if err != nil {
		t.Fatal(err)
	}
	bodies := []*actor.RigidBody{body}
	shafts := []*actor.Shaft{shaft}

	// First observation only records the state.
	events.processSleepEvents(bodies, shafts)
	events.flush()
	if capture.count() != 0 {
		t.Fatalf("Expected no event on first observation, got %d", capture.count())
	}

	body.Sleep()
	shaft.Sleep()
	events.processSleepEvents(bodies, shafts)
	events.flush()
	if capture.count() != 2 || !capture.hasEventType(ON_SLEEP) {
		t.Fatalf("Expected 2 sleep events, got %v", capture.events)
	}
	if e, ok := capture.events[1].(SleepEvent); !ok || e.Shaft != shaft || e.Body != nil {
		t.Errorf("Expected shaft sleep event, got %#v", capture.events[1])
	}

	capture.reset()
	events.processSleepEvents(bodies, shafts)
	events.flush()
	if capture.count() != 0 {
		t.Errorf("Expected no event while asleep, got %d", capture.count())
	}

	body.Awake()
	events.processSleepEvents(bodies, shafts)
	events.flush()
	if capture.count() != 1 || !capture.hasEventType(ON_WAKE) {
		t.Errorf("Expected 1 wake event, got %v", capture.events)
	}
}

// ===== Flush Tests =====

func TestEvents_Flush_ClearsBuffer(t *testing.T) {
	events := NewEvents()
	capture := &eventCapture{}
	events.Subscribe(LINK_BROKEN, capture.capture)

	events.emitLinkBroken(nil)
	events.flush()
	events.flush()

	if capture.count() != 1 {
		t.Errorf("Expected 1 event across two flushes, got %d", capture.count())
	}
	if len(events.buffer) != 0 {
		t.Errorf("Expected empty buffer, got %d", len(events.buffer))
	}
}

func TestEvents_NoListeners(t *testing.T) {
	events := NewEvents()
	bodyA := createTestBody(t, false)
	bodyB := createTestBody(t, false)

	events.recordContacts([]*constraint.ContactConstraint{createTestConstraint(bodyA, bodyB)})
	events.flush()

	if len(events.buffer) != 0 {
		t.Errorf("Expected empty buffer, got %d", len(events.buffer))
	}
}
