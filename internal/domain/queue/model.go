package queue

import (
	"time"

	"github.com/google/uuid"
)

type EntryStatus string

const (
	StatusQueued    EntryStatus = "QUEUED"
	StatusCalled    EntryStatus = "CALLED"
	StatusServing   EntryStatus = "SERVING"
	StatusCompleted EntryStatus = "COMPLETED"
	StatusSkipped   EntryStatus = "SKIPPED"
	StatusNoShow    EntryStatus = "NO_SHOW"
	StatusCancelled EntryStatus = "CANCELLED"
)

var entryTransitions = map[EntryStatus][]EntryStatus{
	StatusQueued:  {StatusCalled, StatusCancelled},
	StatusCalled:  {StatusServing, StatusSkipped, StatusNoShow, StatusCancelled},
	StatusServing: {StatusCompleted, StatusCancelled},
	StatusSkipped: {StatusQueued},
}

func (s EntryStatus) CanMoveTo(next EntryStatus) bool {
	for _, n := range entryTransitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// Active is true for the called and serving statuses.
func (s EntryStatus) Active() bool {
	return s == StatusCalled || s == StatusServing
}

// Live is true while an entry can still be served.
func (s EntryStatus) Live() bool {
	return s == StatusQueued || s.Active()
}

type Entry struct {
	ID              uuid.UUID   `json:"id"`
	SlotID          uuid.UUID   `json:"slot_id"`
	ClinicID        uuid.UUID   `json:"clinic_id"`
	PatientID       uuid.UUID   `json:"patient_id"`
	ServiceDate     time.Time   `json:"service_date"`
	QueueNumber     int         `json:"queue_number"`
	Status          EntryStatus `json:"status"`
	FastTracked     bool        `json:"fast_tracked"`
	FastTrackedAt   *time.Time  `json:"fast_tracked_at,omitempty"`
	FastTrackReason *string     `json:"fast_track_reason,omitempty"`
	CalledAt        *time.Time  `json:"called_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

type SessionState string

const (
	SessionStopped SessionState = "STOPPED"
	SessionStarted SessionState = "STARTED"
	SessionPaused  SessionState = "PAUSED"
)

var sessionTransitions = map[SessionState]SessionState{
	SessionStopped: SessionStarted,
	SessionStarted: SessionPaused,
	SessionPaused:  SessionStarted,
}

// Session is the clinic-day control record. It also carries the queue
// number counter for the day.
type Session struct {
	ClinicID        uuid.UUID    `json:"clinic_id"`
	ServiceDate     time.Time    `json:"service_date"`
	State           SessionState `json:"state"`
	CurrentEntryID  *uuid.UUID   `json:"current_entry_id,omitempty"`
	LastQueueNumber int          `json:"last_queue_number"`
	StartedAt       *time.Time   `json:"started_at,omitempty"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// NewSession is the implicit state of a clinic-day nobody has touched yet.
func NewSession(clinicID uuid.UUID, date time.Time) *Session {
	return &Session{ClinicID: clinicID, ServiceDate: date, State: SessionStopped}
}

// Admission is a checked-in slot entering the queue.
type Admission struct {
	SlotID      uuid.UUID
	ClinicID    uuid.UUID
	PatientID   uuid.UUID
	ServiceDate time.Time
}

// Snapshot is a consistent read of one clinic-day.
type Snapshot struct {
	ClinicID        uuid.UUID           `json:"clinic_id"`
	ServiceDate     time.Time           `json:"service_date"`
	State           SessionState        `json:"state"`
	NowServing      *Entry              `json:"now_serving,omitempty"`
	Waiting         []*Entry            `json:"waiting"`
	Counts          map[EntryStatus]int `json:"counts"`
	LastQueueNumber int                 `json:"last_queue_number"`
}

// Position is a patient's view of their place in the queue.
type Position struct {
	Entry      *Entry       `json:"entry"`
	Ahead      int          `json:"ahead"`
	NowServing *Entry       `json:"now_serving,omitempty"`
	State      SessionState `json:"state"`
}
