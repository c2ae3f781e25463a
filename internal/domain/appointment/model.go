package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusAvailable Status = "AVAILABLE"
	StatusBooked    Status = "BOOKED"
	StatusCheckedIn Status = "CHECKED_IN"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusNoShow    Status = "NO_SHOW"
)

var transitions = map[Status][]Status{
	StatusAvailable: {StatusBooked},
	StatusBooked:    {StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusCheckedIn: {StatusCompleted, StatusCancelled},
}

func (s Status) CanMoveTo(next Status) bool {
	for _, n := range transitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// Locked statuses carry a live or finished booking and must survive
// regeneration.
func (s Status) Locked() bool {
	return s == StatusBooked || s == StatusCheckedIn || s == StatusCompleted
}

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusBooked, StatusCheckedIn, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// UnlockedStatuses may be deleted by regeneration.
var UnlockedStatuses = []Status{StatusAvailable, StatusCancelled, StatusNoShow}

type Slot struct {
	ID          uuid.UUID  `json:"id"`
	ClinicID    uuid.UUID  `json:"clinic_id"`
	DoctorID    *uuid.UUID `json:"doctor_id,omitempty"`
	SessionKind string     `json:"session_kind"`
	Start       time.Time  `json:"start_time"`
	End         time.Time  `json:"end_time"`
	Status      Status     `json:"status"`
	PatientID   *uuid.UUID `json:"patient_id,omitempty"`
	Treatment   *string    `json:"treatment,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// BelongsTo reports whether the slot is booked by patientID.
func (s *Slot) BelongsTo(patientID string) bool {
	return s.PatientID != nil && s.PatientID.String() == patientID
}

type Action string

const (
	ActionBooked            Action = "BOOKED"
	ActionCancelled         Action = "CANCELLED"
	ActionCheckedIn         Action = "CHECKED_IN"
	ActionNoShow            Action = "NO_SHOW"
	ActionTreatmentRecorded Action = "TREATMENT_RECORDED"
	ActionCompleted         Action = "COMPLETED"
	ActionDoctorAssigned    Action = "DOCTOR_ASSIGNED"
	ActionRescheduled       Action = "RESCHEDULED"
	ActionReopened          Action = "REOPENED"
)

// History is one audited change of a slot.
type History struct {
	ID      uuid.UUID `json:"id"`
	SlotID  uuid.UUID `json:"slot_id"`
	Action  Action    `json:"action"`
	Actor   string    `json:"actor"`
	Details string    `json:"details"`
	At      time.Time `json:"at"`
}

// Filter narrows a slot search. Zero fields match everything.
type Filter struct {
	ClinicID  *uuid.UUID
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	Statuses  []Status
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// Policy holds the configurable booking rules.
type Policy struct {
	// MinAdvance is how long before the start a patient may still cancel or
	// reschedule.
	MinAdvance time.Duration
	// ReopenCancelled inserts an AVAILABLE replica for a cancelled future slot.
	ReopenCancelled bool
}

func DefaultPolicy() Policy {
	return Policy{MinAdvance: 24 * time.Hour, ReopenCancelled: true}
}

type CompleteRequest struct {
	Treatment string `json:"treatment"`
	Force     bool   `json:"force"`
}
