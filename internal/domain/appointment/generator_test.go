package appointment_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqms/aqms/internal/domain/appointment"
	"github.com/aqms/aqms/internal/domain/calendar"
	"github.com/aqms/aqms/pkg/apperrors"
)

func TestGenerate_MondaySlots(t *testing.T) {
	f := newFixture(t)
	report, err := f.gen.GenerateRange(context.Background(), f.clinic.ID, monday, monday.AddDate(0, 0, 1), appointment.ModeSkip)
	require.NoError(t, err)

	require.Len(t, report.Dates, 2)
	assert.Equal(t, appointment.DateGenerated, report.Dates[0].Status)
	assert.Equal(t, 16, report.Dates[0].Generated)
	assert.Equal(t, appointment.DateSkippedClosed, report.Dates[1].Status)
	assert.Equal(t, 16, report.Generated)
	assert.Empty(t, report.UnassignedKinds)

	slots, total, err := f.svc.Search(context.Background(), appointment.Filter{ClinicID: &f.clinic.ID})
	require.NoError(t, err)
	require.Equal(t, 16, total)
	assert.Equal(t, monday.Add(9*time.Hour), slots[0].Start)
	assert.Equal(t, monday.Add(9*time.Hour+30*time.Minute), slots[0].End)
	assert.Equal(t, monday.Add(16*time.Hour+30*time.Minute), slots[15].Start)
	assert.Equal(t, monday.Add(17*time.Hour), slots[15].End)
	for _, s := range slots {
		assert.Equal(t, appointment.StatusAvailable, s.Status)
		require.NotNil(t, s.DoctorID)
		assert.Equal(t, f.doctor.ID, *s.DoctorID)
	}
}

func TestGenerate_SkipModeLeavesExistingDate(t *testing.T) {
	f := newFixture(t)
	f.generate(t)

	report, err := f.gen.GenerateRange(context.Background(), f.clinic.ID, monday, monday, appointment.ModeSkip)
	require.NoError(t, err)
	assert.Equal(t, appointment.DateSkippedExisting, report.Dates[0].Status)
	assert.Zero(t, report.Generated)

	_, total, err := f.svc.Search(context.Background(), appointment.Filter{ClinicID: &f.clinic.ID})
	require.NoError(t, err)
	assert.Equal(t, 16, total)
}

func TestGenerate_ReplaceRegeneratesUnlockedDate(t *testing.T) {
	f := newFixture(t)
	before := f.generate(t)

	report, err := f.gen.GenerateRange(context.Background(), f.clinic.ID, monday, monday, appointment.ModeReplace)
	require.NoError(t, err)
	assert.Equal(t, appointment.DateGenerated, report.Dates[0].Status)
	assert.Equal(t, 16, report.Dates[0].Replaced)

	after, _, err := f.svc.Search(context.Background(), appointment.Filter{ClinicID: &f.clinic.ID})
	require.NoError(t, err)
	require.Len(t, after, 16)
	assert.NotEqual(t, before[0].ID, after[0].ID)
}

func TestGenerate_ReplaceRejectsLockedDate(t *testing.T) {
	f := newFixture(t)
	slots := f.generate(t)
	patient := newPatient()
	_, err := f.svc.Book(context.Background(), slots[3].ID, patient, patientActor(patient))
	require.NoError(t, err)

	report, err := f.gen.GenerateRange(context.Background(), f.clinic.ID, monday, monday, appointment.ModeReplace)
	require.NoError(t, err)
	dr := report.Dates[0]
	assert.Equal(t, appointment.DateRejectedLocked, dr.Status)
	assert.Equal(t, apperrors.SlotsLocked, dr.Code)
	assert.Zero(t, dr.Generated)

	after, _, err := f.svc.Search(context.Background(), appointment.Filter{ClinicID: &f.clinic.ID})
	require.NoError(t, err)
	require.Len(t, after, 16, "a rejected date keeps every slot")
	assert.Equal(t, slots[3].ID, after[3].ID)
}

func TestGenerate_ExceptionDateIsClosed(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.cal.AddException(context.Background(), f.clinic.ID, monday, "staff training"))

	report, err := f.gen.GenerateRange(context.Background(), f.clinic.ID, monday, monday, appointment.ModeReplace)
	require.NoError(t, err)
	assert.Equal(t, appointment.DateSkippedClosed, report.Dates[0].Status)
}

func TestGenerate_RotatesDoctorsPerKind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	second := &calendar.Doctor{ClinicID: f.clinic.ID, Name: "Dr. Baker", SessionKinds: []string{"GENERAL"}}
	require.NoError(t, f.cal.CreateDoctor(ctx, second))

	slots := f.generate(t)
	require.Len(t, slots, 16)
	for i, s := range slots {
		want := f.doctor.ID
		if i%2 == 1 {
			want = second.ID
		}
		require.NotNil(t, s.DoctorID)
		assert.Equal(t, want, *s.DoctorID, "slot %d", i)
	}
}

func TestGenerate_UncoveredKindLeavesSlotsUnassigned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.cal.SaveTemplate(ctx, f.clinic.ID, calendar.Template{time.Monday: {
		{Kind: "GENERAL", Open: "09:00", Close: "10:00", IntervalMin: 30, DurationMin: 30},
		{Kind: "DENTAL", Open: "10:00", Close: "11:00", IntervalMin: 30, DurationMin: 30},
	}})
	require.NoError(t, err)

	slots := f.generate(t)
	require.Len(t, slots, 4)
	assert.NotNil(t, slots[0].DoctorID)
	assert.Nil(t, slots[2].DoctorID)

	patient := newPatient()
	_, err = f.svc.Book(ctx, slots[2].ID, patient, patientActor(patient))
	assert.Equal(t, apperrors.SlotUnavailable, apperrors.CodeOf(err), "a slot without a doctor is not bookable")

	report, err := f.gen.GenerateRange(ctx, f.clinic.ID, monday, monday, appointment.ModeReplace)
	require.NoError(t, err)
	assert.Equal(t, []string{"DENTAL"}, report.UnassignedKinds)
	require.Len(t, report.Dates, 1)
	assert.Equal(t, 2, report.Dates[0].Unassigned)
	assert.Equal(t, 4, report.Dates[0].Generated)
}

func TestGenerate_RejectsBadRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.gen.GenerateRange(ctx, f.clinic.ID, monday, monday, appointment.Mode("MERGE"))
	assert.Equal(t, apperrors.InvalidInput, apperrors.CodeOf(err))
	_, err = f.gen.GenerateRange(ctx, f.clinic.ID, monday, monday.AddDate(0, 0, -1), appointment.ModeSkip)
	assert.Equal(t, apperrors.InvalidInput, apperrors.CodeOf(err))
	_, err = f.gen.GenerateRange(ctx, f.clinic.ID, monday, monday.AddDate(2, 0, 0), appointment.ModeSkip)
	assert.Equal(t, apperrors.InvalidInput, apperrors.CodeOf(err))
}

func TestDeleteSlotsOnDates_KeepsLocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slots := f.generate(t)
	patient := newPatient()
	_, err := f.svc.Book(ctx, slots[0].ID, patient, patientActor(patient))
	require.NoError(t, err)

	report, err := f.gen.DeleteSlotsOnDates(ctx, f.clinic.ID, []time.Time{monday})
	require.NoError(t, err)
	assert.Equal(t, 15, report.Deleted)
	assert.Equal(t, 1, report.KeptLocked)

	dates, err := f.gen.DatesWithSlots(ctx, f.clinic.ID, monday, monday.AddDate(0, 0, 6))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{monday}, dates)
}
