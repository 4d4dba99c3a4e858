package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestKafkaPublisherWritesKeyedMessage(t *testing.T) {
	w := &recordingWriter{}
	p := NewKafkaPublisher(w, nil)
	eventID := uuid.New()
	entryID := uuid.New()

	err := p.Publish(context.Background(), Notification{
		Kind: KindEventPosted, TenantID: "tenant-a", EventID: eventID, EventType: "SALE", JournalEntryID: &entryID,
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	require.Equal(t, eventID.String(), string(w.msgs[0].Key))

	var decoded Notification
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	require.Equal(t, KindEventPosted, decoded.Kind)
	require.Equal(t, entryID, *decoded.JournalEntryID)
	require.False(t, decoded.PublishedAt.IsZero())
}

func TestKafkaPublisherOpensBreaker(t *testing.T) {
	w := &recordingWriter{err: errors.New("broker down")}
	p := NewKafkaPublisher(w, nil)
	n := Notification{Kind: KindEventPosted, TenantID: "tenant-a", EventID: uuid.New()}

	for i := 0; i < 5; i++ {
		err := p.Publish(context.Background(), n)
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrUnavailable)
	}
	require.Equal(t, gobreaker.StateOpen, p.State())
	if err := p.Publish(context.Background(), n); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable once open, got %v", err)
	}
}

func TestNopPublisher(t *testing.T) {
	require.NoError(t, NopPublisher{}.Publish(context.Background(), Notification{}))
}
