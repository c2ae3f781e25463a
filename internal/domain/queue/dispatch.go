package queue

import (
	"sort"

	"github.com/aqms/aqms/pkg/apperrors"
)

// active returns the entry currently called or in service, if any.
func active(entries []*Entry) *Entry {
	for _, e := range entries {
		if e.Status.Active() {
			return e
		}
	}
	return nil
}

// waiting returns QUEUED entries in call order: fast-tracked first by
// fast-track time then queue number, then regular by queue number.
func waiting(entries []*Entry) []*Entry {
	var fast, regular []*Entry
	for _, e := range entries {
		if e.Status != StatusQueued {
			continue
		}
		if e.FastTracked {
			fast = append(fast, e)
		} else {
			regular = append(regular, e)
		}
	}
	sort.SliceStable(fast, func(i, j int) bool {
		a, b := fast[i], fast[j]
		if !a.FastTrackedAt.Equal(*b.FastTrackedAt) {
			return a.FastTrackedAt.Before(*b.FastTrackedAt)
		}
		return a.QueueNumber < b.QueueNumber
	})
	sort.SliceStable(regular, func(i, j int) bool {
		return regular[i].QueueNumber < regular[j].QueueNumber
	})
	return append(fast, regular...)
}

// pickNext selects the entry callNext should call.
func pickNext(entries []*Entry) (*Entry, error) {
	if active(entries) != nil {
		return nil, apperrors.NewAlreadyServing()
	}
	w := waiting(entries)
	if len(w) == 0 {
		return nil, apperrors.NewQueueEmpty()
	}
	return w[0], nil
}

// nowServing prefers the serving entry and falls back to the called one.
func nowServing(entries []*Entry) *Entry {
	var called *Entry
	for _, e := range entries {
		switch e.Status {
		case StatusServing:
			return e
		case StatusCalled:
			called = e
		}
	}
	return called
}
