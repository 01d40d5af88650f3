package stream

import (
	"fmt"
	"sync"
)

// State is a subscriber's position in Connecting -> Attached -> Detached.
type State int32

const (
	StateConnecting State = iota
	StateAttached
	StateDetached
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAttached:
		return "attached"
	case StateDetached:
		return "detached"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Detach reasons, also used as metric labels.
const (
	ReasonClosed   = "closed"
	ReasonOverflow = "overflow"
	ReasonShutdown = "shutdown"
)

// DeliveryError records why a subscriber was dropped by the bus. It never
// reaches the writer whose publish triggered it.
type DeliveryError struct {
	SubscriberID string
	Dropped      MessageType
	Buffer       int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("subscriber %s: queue of %d full, dropped %s message", e.SubscriberID, e.Buffer, e.Dropped)
}

// Subscriber is one live consumer. Messages() is closed on detach.
type Subscriber struct {
	id        string
	transport string
	queue     chan Message

	mu     sync.Mutex
	state  State
	reason string
	err    error
}

func newSubscriber(id, transport string, buffer int) *Subscriber {
	return &Subscriber{
		id:        id,
		transport: transport,
		queue:     make(chan Message, buffer),
		state:     StateConnecting,
	}
}

func (s *Subscriber) ID() string        { return s.id }
func (s *Subscriber) Transport() string { return s.transport }

// Messages yields the snapshot, then records and pulses, until detach.
func (s *Subscriber) Messages() <-chan Message {
	return s.queue
}

func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reason returns the detach reason, empty while attached.
func (s *Subscriber) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Err returns the delivery error that detached the subscriber, if any.
func (s *Subscriber) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscriber) attach() {
	s.mu.Lock()
	s.state = StateAttached
	s.mu.Unlock()
}

// detach is called with the bus lock held, so no send races the close.
func (s *Subscriber) detach(reason string, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDetached {
		return false
	}
	s.state = StateDetached
	s.reason = reason
	s.err = err
	close(s.queue)
	return true
}
