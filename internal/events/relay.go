package events

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Relay re-sends journal entries the publisher never confirmed.
type Relay struct {
	journal  Journal
	broker   Broker
	exchange string
	batch    int
	minAge   time.Duration
	now      func() time.Time
}

func NewRelay(journal Journal, broker Broker, exchange string, batch int, minAge time.Duration) *Relay {
	if batch <= 0 {
		batch = 100
	}
	return &Relay{
		journal:  journal,
		broker:   broker,
		exchange: exchange,
		batch:    batch,
		minAge:   minAge,
		now:      time.Now,
	}
}

// RunOnce republishes one batch and returns how many entries were delivered.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	entries, err := r.journal.Unpublished(ctx, r.now().Add(-r.minAge), r.batch)
	if err != nil {
		return 0, fmt.Errorf("load unpublished events: %w", err)
	}

	sent := 0
	for _, e := range entries {
		if err := r.broker.Publish(ctx, Channel(r.exchange, e.EventType), e.Payload); err != nil {
			log.Printf("relay publish failed event=%d type=%s attempts=%d: %v", e.ID, e.EventType, e.Attempts, err)
			if err := r.journal.MarkFailed(ctx, e.ID); err != nil {
				log.Printf("relay failed to record attempt for event %d: %v", e.ID, err)
			}
			continue
		}
		if err := r.journal.MarkPublished(ctx, e.ID, r.now()); err != nil {
			log.Printf("relay failed to mark event %d published: %v", e.ID, err)
			continue
		}
		sent++
	}

	return sent, nil
}
