package queue

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqms/aqms/pkg/apperrors"
)

func entry(n int, status EntryStatus) *Entry {
	return &Entry{ID: uuid.New(), QueueNumber: n, Status: status}
}

func fastTrack(e *Entry, at time.Time) *Entry {
	e.FastTracked = true
	e.FastTrackedAt = &at
	return e
}

func numbers(entries []*Entry) []int {
	out := make([]int, len(entries))
	for i, e := range entries {
		out[i] = e.QueueNumber
	}
	return out
}

func TestWaiting_FastTrackedFirst(t *testing.T) {
	base := time.Date(2030, 1, 7, 9, 0, 0, 0, time.UTC)
	entries := []*Entry{
		entry(1, StatusQueued),
		fastTrack(entry(2, StatusQueued), base.Add(time.Minute)),
		entry(3, StatusCompleted),
		fastTrack(entry(4, StatusQueued), base),
		entry(5, StatusQueued),
		fastTrack(entry(6, StatusQueued), base),
		entry(7, StatusSkipped),
	}
	assert.Equal(t, []int{4, 6, 2, 1, 5}, numbers(waiting(entries)))
}

func TestPickNext(t *testing.T) {
	_, err := pickNext(nil)
	assert.Equal(t, apperrors.QueueEmpty, apperrors.CodeOf(err))

	_, err = pickNext([]*Entry{entry(1, StatusServing), entry(2, StatusQueued)})
	assert.Equal(t, apperrors.AlreadyServing, apperrors.CodeOf(err))

	_, err = pickNext([]*Entry{entry(1, StatusCompleted), entry(2, StatusSkipped)})
	assert.Equal(t, apperrors.QueueEmpty, apperrors.CodeOf(err))

	next, err := pickNext([]*Entry{
		entry(1, StatusNoShow),
		entry(2, StatusQueued),
		fastTrack(entry(3, StatusQueued), time.Now()),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, next.QueueNumber)
}

func TestNowServing_PrefersServing(t *testing.T) {
	assert.Nil(t, nowServing([]*Entry{entry(1, StatusQueued)}))

	called := entry(2, StatusCalled)
	assert.Equal(t, called, nowServing([]*Entry{entry(1, StatusCompleted), called}))

	serving := entry(3, StatusServing)
	assert.Equal(t, serving, nowServing([]*Entry{called, serving}))
}

func TestEntryStatus_Transitions(t *testing.T) {
	assert.True(t, StatusQueued.CanMoveTo(StatusCalled))
	assert.True(t, StatusSkipped.CanMoveTo(StatusQueued))
	assert.False(t, StatusQueued.CanMoveTo(StatusCompleted))
	assert.False(t, StatusCompleted.CanMoveTo(StatusQueued))
	assert.False(t, StatusNoShow.CanMoveTo(StatusQueued))
}
