package events

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"
)

var ErrPublisherClosed = errors.New("publisher closed")

// Broker delivers an encoded event to a channel.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// LogBroker writes events to the process log. Used when no Redis is configured.
type LogBroker struct{}

func (LogBroker) Publish(_ context.Context, channel string, payload []byte) error {
	log.Printf("event channel=%s payload=%s", channel, payload)
	return nil
}

type PublisherConfig struct {
	Exchange string
	Buffer   int
	Timeout  time.Duration
}

// AsyncPublisher queues events and hands them to the broker from a single
// background goroutine. Publish never blocks and never fails the caller.
type AsyncPublisher struct {
	broker   Broker
	journal  Journal
	exchange string
	timeout  time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

// NewAsyncPublisher builds a publisher; journal may be nil.
func NewAsyncPublisher(broker Broker, journal Journal, cfg PublisherConfig) *AsyncPublisher {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "appointment_events"
	}
	return &AsyncPublisher{
		broker:   broker,
		journal:  journal,
		exchange: cfg.Exchange,
		timeout:  cfg.Timeout,
		queue:    make(chan Event, cfg.Buffer),
		done:     make(chan struct{}),
	}
}

func (p *AsyncPublisher) Start() {
	go p.run()
}

// Publish enqueues ev. A full queue drops the event.
func (p *AsyncPublisher) Publish(_ context.Context, ev Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		log.Printf("event dropped type=%s appointment=%s: %v", ev.Type, ev.AppointmentID, ErrPublisherClosed)
		return
	}

	select {
	case p.queue <- ev:
	default:
		log.Printf("event dropped type=%s appointment=%s: queue full (%d)", ev.Type, ev.AppointmentID, cap(p.queue))
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to end.
func (p *AsyncPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *AsyncPublisher) run() {
	defer close(p.done)
	for ev := range p.queue {
		p.deliver(ev)
	}
}

func (p *AsyncPublisher) deliver(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("failed to marshal event %s for appointment %s: %v", ev.Type, ev.AppointmentID, err)
		return
	}

	var journalID int64
	if p.journal != nil {
		journalID, err = p.journal.Record(ctx, ev, payload)
		if err != nil {
			log.Printf("failed to journal event %s for appointment %s: %v", ev.Type, ev.AppointmentID, err)
			journalID = 0
		}
	}

	if err := p.broker.Publish(ctx, Channel(p.exchange, ev.Type), payload); err != nil {
		log.Printf("failed to publish event %s for appointment %s: %v", ev.Type, ev.AppointmentID, err)
		if journalID != 0 {
			if err := p.journal.MarkFailed(ctx, journalID); err != nil {
				log.Printf("failed to record publish failure for event %d: %v", journalID, err)
			}
		}
		return
	}

	if journalID != 0 {
		if err := p.journal.MarkPublished(ctx, journalID, time.Now()); err != nil {
			log.Printf("failed to mark event %d published: %v", journalID, err)
		}
	}
}
