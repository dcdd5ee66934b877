package events

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRelayRunOnce(t *testing.T) {
	journal := newFakeJournal()
	journal.pending = []JournalEntry{
		{ID: 7, EventType: TopicCreated, Payload: []byte(`{"eventType":"appointment.created"}`)},
		{ID: 8, EventType: TopicCancelled, Payload: []byte(`{"eventType":"appointment.cancelled"}`)},
		{ID: 9, EventType: TopicMissed, Payload: []byte(`{"eventType":"appointment.missed"}`)},
	}
	broker := &fakeBroker{publishFn: func(channel string, _ []byte) error {
		if strings.HasSuffix(channel, TopicCancelled) {
			return errors.New("broker down")
		}
		return nil
	}}

	now := time.Date(2024, 11, 27, 8, 0, 0, 0, time.UTC)
	relay := NewRelay(journal, broker, "clinic", 10, time.Minute)
	relay.now = func() time.Time { return now }

	n, err := relay.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("sent=%d, want 2", n)
	}

	msgs := broker.messages()
	if len(msgs) != 2 || msgs[0].channel != "clinic.appointment.created" || msgs[1].channel != "clinic.appointment.missed" {
		t.Fatalf("unexpected deliveries %+v", msgs)
	}
	if !journal.published[7].Equal(now) || !journal.published[9].Equal(now) {
		t.Fatalf("unexpected published marks %v", journal.published)
	}
	if journal.failed[8] != 1 {
		t.Fatalf("failed attempt not recorded for entry 8: %v", journal.failed)
	}
}

func TestRelayRespectsBatch(t *testing.T) {
	journal := newFakeJournal()
	for i := int64(1); i <= 5; i++ {
		journal.pending = append(journal.pending, JournalEntry{ID: i, EventType: TopicCreated, Payload: []byte(`{}`)})
	}
	broker := &fakeBroker{}

	n, err := NewRelay(journal, broker, "clinic", 3, 0).RunOnce(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("sent=%d err=%v, want 3", n, err)
	}
}
