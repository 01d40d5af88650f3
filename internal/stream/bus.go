// Package stream fans accepted writes out to live dashboard subscribers.
//
// Each subscriber owns a bounded queue. Publishing never blocks: a
// subscriber whose queue is full is detached instead of slowing the writer
// or the other subscribers. All registry mutation happens under one lock,
// which is also held while the caller's cache update runs, so every
// subscriber sees writes in commit order and a snapshot is never older
// than its attach instant.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/secureflow/backend/internal/logger"
	"github.com/secureflow/backend/internal/models"
	"github.com/secureflow/backend/internal/observability"
)

const (
	DefaultPulseInterval = 15 * time.Second
	DefaultBuffer        = 64
)

// Config tunes the bus.
type Config struct {
	PulseInterval time.Duration
	// Buffer is the per-subscriber queue length.
	Buffer int
}

// Bus is the subscriber registry.
type Bus struct {
	mu      sync.Mutex
	subs    map[string]*Subscriber
	seq     uint64
	closed  bool
	cfg     Config
	metrics *observability.Metrics
	now     func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewBus creates a bus. metrics may be nil.
func NewBus(cfg Config, metrics *observability.Metrics) *Bus {
	if cfg.PulseInterval <= 0 {
		cfg.PulseInterval = DefaultPulseInterval
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	return &Bus{
		subs:     make(map[string]*Subscriber),
		cfg:      cfg,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
		stopChan: make(chan struct{}),
	}
}

// Subscribe attaches a new subscriber and queues its snapshot. snapshot is
// called under the registry lock, so no publish can interleave with it.
func (b *Bus) Subscribe(transport string, snapshot func() []models.LogRecord) *Subscriber {
	s := newSubscriber(uuid.NewString(), transport, b.cfg.Buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		s.detach(ReasonShutdown, nil)
		return s
	}

	var recs []models.LogRecord
	if snapshot != nil {
		recs = snapshot()
	}
	// The queue is empty and has room for at least one message.
	s.queue <- Message{Type: MessageSnapshot, Seq: b.seq, Records: recs, At: b.now()}
	s.attach()
	b.subs[s.id] = s

	b.metrics.SubscriberAttached(transport)
	b.metrics.MessageQueued(string(MessageSnapshot))
	logger.WithSubscriber(s.id, transport).WithField("subscribers", len(b.subs)).Info("Subscriber attached")
	return s
}

// Unsubscribe detaches s after its transport closed. Safe to call twice.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.detach(s, ReasonClosed, nil)
}

// Publish runs apply and then queues rec for every attached subscriber,
// all under the registry lock. apply is where the caller updates the
// working cache; it may be nil.
func (b *Bus) Publish(rec models.LogRecord, apply func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if apply != nil {
		apply()
	}
	b.seq++
	b.broadcast(Message{Type: MessageRecord, Seq: b.seq, Record: &rec, At: b.now()})
}

// Pulse queues a liveness message for every attached subscriber.
func (b *Bus) Pulse() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcast(Message{Type: MessagePulse, Seq: b.seq, At: b.now()})
}

func (b *Bus) broadcast(msg Message) {
	for _, s := range b.subs {
		select {
		case s.queue <- msg:
			b.metrics.MessageQueued(string(msg.Type))
		default:
			b.detach(s, ReasonOverflow, &DeliveryError{SubscriberID: s.id, Dropped: msg.Type, Buffer: b.cfg.Buffer})
		}
	}
}

// detach must be called with b.mu held.
func (b *Bus) detach(s *Subscriber, reason string, err error) {
	if !s.detach(reason, err) {
		return
	}
	delete(b.subs, s.id)
	b.metrics.SubscriberDetached(s.transport, reason)

	entry := logger.WithSubscriber(s.id, s.transport).WithFields(map[string]interface{}{
		"reason":      reason,
		"subscribers": len(b.subs),
	})
	if err != nil {
		entry.WithField("error", err.Error()).Warn("Subscriber detached")
		return
	}
	entry.Info("Subscriber detached")
}

// Len returns the number of attached subscribers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Seq returns the sequence number of the last published record.
func (b *Bus) Seq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Start launches the pulse ticker.
func (b *Bus) Start() {
	b.wg.Add(1)
	go b.pulser()
}

func (b *Bus) pulser() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.PulseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.Pulse()
		case <-b.stopChan:
			return
		}
	}
}

// Stop halts the pulse ticker and detaches every subscriber. Later
// Subscribe calls return an already detached subscriber.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopChan)
		b.wg.Wait()

		b.mu.Lock()
		defer b.mu.Unlock()
		b.closed = true
		for _, s := range b.subs {
			b.detach(s, ReasonShutdown, nil)
		}
		logger.Info("Stream bus stopped", nil)
	})
}

// Run starts the bus and stops it when ctx is done. It fits an errgroup.
func (b *Bus) Run(ctx context.Context) error {
	b.Start()
	<-ctx.Done()
	b.Stop()
	return nil
}
