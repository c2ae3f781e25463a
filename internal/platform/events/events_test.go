package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannel(t *testing.T) {
	id := uuid.MustParse("6f1c2c1e-5a7b-4a55-9b2f-0d6f4c2b9a10")
	assert.Equal(t, "aqms:queue:6f1c2c1e-5a7b-4a55-9b2f-0d6f4c2b9a10", Channel(id))
}

func TestEvent_JSONShape(t *testing.T) {
	entry := uuid.New()
	ev := Event{
		Type:        EntryCalled,
		ClinicID:    uuid.New(),
		ServiceDate: "2026-10-12",
		EntryID:     &entry,
		QueueNumber: 7,
		Status:      "CALLED",
		At:          time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "queue.entry.called", got["type"])
	assert.Equal(t, float64(7), got["queue_number"])
	assert.Equal(t, entry.String(), got["entry_id"])
	assert.Equal(t, "2026-10-12", got["service_date"])
}

func TestEvent_SessionEventOmitsEntry(t *testing.T) {
	data, err := json.Marshal(Event{Type: SessionChanged, Status: "PAUSED"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "entry_id")
	assert.NotContains(t, string(data), "queue_number")
}

func TestRecorder(t *testing.T) {
	var r Recorder
	ctx := context.Background()
	require.NoError(t, r.Publish(ctx, Event{Type: EntryAdmitted}))
	require.NoError(t, r.Publish(ctx, Event{Type: EntryCalled}))

	assert.Equal(t, []string{EntryAdmitted, EntryCalled}, r.Types())
	evs := r.Events()
	evs[0].Type = "mutated"
	assert.Equal(t, EntryAdmitted, r.Events()[0].Type)
}

func TestNewRedisPublisher_BadURL(t *testing.T) {
	_, err := NewRedisPublisher(context.Background(), "not-a-url")
	assert.Error(t, err)
}

func TestRedisPublisher_PublishFailsWhenUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	p := NewRedisPublisherWithClient(client)
	defer p.Close()

	err := p.Publish(context.Background(), Event{Type: EntryAdmitted, ClinicID: uuid.New()})
	assert.Error(t, err)
}
