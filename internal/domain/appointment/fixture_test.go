package appointment_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/aqms/aqms/internal/domain/appointment"
	"github.com/aqms/aqms/internal/domain/calendar"
	"github.com/aqms/aqms/internal/domain/queue"
	"github.com/aqms/aqms/internal/platform/auth"
	"github.com/aqms/aqms/internal/platform/memstore"
)

// monday is 2030-01-07, a Monday.
var monday = time.Date(2030, 1, 7, 0, 0, 0, 0, time.UTC)

var staff = auth.Actor{ID: "nurse-1", Roles: []string{auth.RoleStaff}}

type fixture struct {
	now    time.Time
	store  *memstore.Store
	cal    *calendar.Service
	queue  *queue.Service
	svc    *appointment.Service
	gen    *appointment.Generator
	clinic *calendar.Clinic
	doctor *calendar.Doctor
}

// newFixture builds a UTC clinic open Mondays 09:00-17:00 in 30 minute
// slots with one GENERAL doctor. The clock starts at 08:00 on monday.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: monday.Add(8 * time.Hour), store: memstore.New()}
	clock := func() time.Time { return f.now }
	ctx := context.Background()

	f.cal = calendar.NewService(f.store.Clinics(), f.store.Doctors(), f.store).WithClock(clock)
	f.clinic = &calendar.Clinic{
		Name:     "North",
		Timezone: "UTC",
		Template: calendar.Template{time.Monday: {
			{Kind: "GENERAL", Open: "09:00", Close: "17:00", IntervalMin: 30, DurationMin: 30},
		}},
	}
	require.NoError(t, f.cal.CreateClinic(ctx, f.clinic))
	f.doctor = &calendar.Doctor{ClinicID: f.clinic.ID, Name: "Dr. Adams", SessionKinds: []string{"GENERAL"}}
	require.NoError(t, f.cal.CreateDoctor(ctx, f.doctor))

	f.queue = queue.NewService(f.store.Queue(), f.store, f.cal, nil, nil).WithClock(clock)
	f.svc = appointment.NewService(f.store.Slots(), f.store, f.cal, f.queue, nil, appointment.DefaultPolicy()).WithClock(clock)
	f.gen = appointment.NewGenerator(f.store.Slots(), f.store, f.cal, nil)
	return f
}

// generate materializes monday and returns its slots in start order.
func (f *fixture) generate(t *testing.T) []*appointment.Slot {
	t.Helper()
	_, err := f.gen.GenerateRange(context.Background(), f.clinic.ID, monday, monday, appointment.ModeSkip)
	require.NoError(t, err)
	slots, _, err := f.svc.Search(context.Background(), appointment.Filter{ClinicID: &f.clinic.ID})
	require.NoError(t, err)
	return slots
}

func patientActor(id uuid.UUID) auth.Actor {
	return auth.Actor{ID: id.String(), Roles: []string{auth.RolePatient}}
}

// bookAndCheckIn books slot for a new patient and checks them in.
func (f *fixture) bookAndCheckIn(t *testing.T, slot *appointment.Slot) (uuid.UUID, *appointment.CheckInResult) {
	t.Helper()
	ctx := context.Background()
	patient := uuid.New()
	_, err := f.svc.Book(ctx, slot.ID, patient, patientActor(patient))
	require.NoError(t, err)
	res, err := f.svc.CheckIn(ctx, slot.ID, staff)
	require.NoError(t, err)
	return patient, res
}

func actions(t *testing.T, f *fixture, slotID uuid.UUID) []appointment.Action {
	t.Helper()
	hist, err := f.svc.History(context.Background(), slotID)
	require.NoError(t, err)
	out := make([]appointment.Action, len(hist))
	for i, h := range hist {
		out[i] = h.Action
	}
	return out
}

func newPatient() uuid.UUID { return uuid.New() }
