package vm

import "sync"

// EventKind identifies a kind of incoming event; its bit position in CE/ER
// matches the wire contract's mask layout (§6), so state_entry is bit 0,
// state_exit is bit 1, and so on in declaration order below.
type EventKind uint32

const (
	EventStateEntry EventKind = iota
	EventStateExit
	EventTouchStart
	EventTouch
	EventTouchEnd
	EventCollisionStart
	EventCollision
	EventCollisionEnd
	EventLandCollisionStart
	EventLandCollision
	EventLandCollisionEnd
	EventTimer
	EventListen
	EventSensor
	EventNoSensor
	EventControl
	EventMoneyGiven
	EventEmailReceived
	EventRez
	EventObjectRez
	EventAtTarget
	EventNotAtTarget
	EventAtRotTarget
	EventNotAtRotTarget
	EventRunTimePermissions
	EventChangedEvent
	EventAttach
	EventDataserver
	EventLinkMessage
	EventMovingStart
	EventMovingEnd
	EventOnRez

	eventKindCount
)

// Bit returns the mask bit this event occupies in CE/ER/IE.
func (k EventKind) Bit() uint64 { return 1 << uint(k) }

// eventSignatures records the real per-event argument shapes from the
// original interpreter's dispatch table, so frame synthesis (§4.5) has
// concrete tuples to push rather than an abstract "typed tuple".
var eventSignatures = map[EventKind][]ValueType{
	EventStateEntry:         nil,
	EventStateExit:          nil,
	EventTouchStart:         {TypeInteger},
	EventTouch:              {TypeInteger},
	EventTouchEnd:           {TypeInteger},
	EventCollisionStart:     {TypeInteger},
	EventCollision:          {TypeInteger},
	EventCollisionEnd:       {TypeInteger},
	EventLandCollisionStart: {TypeVector},
	EventLandCollision:      {TypeVector},
	EventLandCollisionEnd:   {TypeVector},
	EventTimer:              nil,
	EventListen:             {TypeInteger, TypeString, TypeKey, TypeString},
	EventSensor:             {TypeInteger},
	EventNoSensor:           nil,
	EventControl:            {TypeKey, TypeInteger, TypeInteger},
	EventMoneyGiven:         {TypeKey, TypeInteger},
	EventEmailReceived:      {TypeString, TypeString, TypeString, TypeString, TypeInteger},
	EventRez:                {TypeInteger},
	EventObjectRez:          {TypeKey},
	EventAtTarget:           {TypeInteger, TypeVector, TypeVector},
	EventNotAtTarget:        nil,
	EventAtRotTarget:        {TypeInteger, TypeQuaternion, TypeQuaternion},
	EventNotAtRotTarget:     nil,
	EventRunTimePermissions: {TypeInteger},
	EventChangedEvent:       {TypeInteger},
	EventAttach:             {TypeKey},
	EventDataserver:         {TypeKey, TypeString},
	EventLinkMessage:        {TypeInteger, TypeInteger, TypeString, TypeKey},
	EventMovingStart:        nil,
	EventMovingEnd:          nil,
	EventOnRez:              {TypeInteger},
}

// Signature returns the declared argument shape for k.
func (k EventKind) Signature() []ValueType { return eventSignatures[k] }

// Event is a single enqueued occurrence awaiting dispatch.
type Event struct {
	Kind EventKind
	Args []Value
}

// EventQueue is the FIFO of pending events (§3.5, §4.5). It supports both
// ordinary pop-front dequeue and the rez-event priority lookup the
// scheduler needs, guarded by a mutex since the host may enqueue from other
// goroutines (§5) while only the scheduler ever dequeues.
type EventQueue struct {
	mu     sync.Mutex
	events []Event
}

func NewEventQueue() *EventQueue {
	return &EventQueue{}
}

// Enqueue appends an event to the back of the queue.
func (q *EventQueue) Enqueue(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, e)
}

// Len reports the number of pending events.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// PopFront removes and returns the oldest event.
func (q *EventQueue) PopFront() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return Event{}, false
	}
	e := q.events[0]
	q.events = q.events[1:]
	return e, true
}

// RemoveFirstMatching removes and returns the first event whose kind
// equals k, regardless of its queue position, used by the scheduler's
// rez-priority rule (§4.5 step 2).
func (q *EventQueue) RemoveFirstMatching(k EventKind) (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.events {
		if e.Kind == k {
			q.events = append(q.events[:i], q.events[i+1:]...)
			return e, true
		}
	}
	return Event{}, false
}

// Flush discards all pending events; called on a state transition (§4.5).
func (q *EventQueue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = nil
}

// PeekMask returns the OR of every queued event's bit.
func (q *EventQueue) PeekMask() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	var mask uint64
	for _, e := range q.events {
		mask |= e.Kind.Bit()
	}
	return mask
}
