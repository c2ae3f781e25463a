package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/aqms/aqms/internal/domain/appointment"
	"github.com/aqms/aqms/internal/platform/auth"
	"github.com/aqms/aqms/pkg/apperrors"
)

var staff = auth.Actor{ID: "nurse-1", Roles: []string{auth.RoleStaff}}

func patient(id uuid.UUID) auth.Actor {
	return auth.Actor{ID: id.String(), Roles: []string{auth.RolePatient}}
}

func generateMonday(t *testing.T, s *services, clinicID uuid.UUID, mode appointment.Mode) *appointment.GenerateReport {
	t.Helper()
	report, err := s.gen.GenerateRange(context.Background(), clinicID, monday, monday, mode)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return report
}

func mondaySlots(t *testing.T, s *services, clinicID uuid.UUID) []*appointment.Slot {
	t.Helper()
	slots, _, err := s.appts.Search(context.Background(), appointment.Filter{ClinicID: &clinicID, Limit: 100})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	return slots
}

func TestGenerate_MaterializesAndSkipsExisting(t *testing.T) {
	s := newServices(monday.Add(8 * time.Hour))
	clinic, doctor := newClinic(t, s)

	report := generateMonday(t, s, clinic.ID, appointment.ModeSkip)
	if report.Generated != 16 {
		t.Fatalf("expected 16 slots, got %d", report.Generated)
	}
	slots := mondaySlots(t, s, clinic.ID)
	if len(slots) != 16 {
		t.Fatalf("expected 16 stored slots, got %d", len(slots))
	}
	first := slots[0]
	if !first.Start.Equal(monday.Add(9*time.Hour)) || !first.End.Equal(monday.Add(9*time.Hour+30*time.Minute)) {
		t.Errorf("unexpected first window %v-%v", first.Start, first.End)
	}
	if first.DoctorID == nil || *first.DoctorID != doctor.ID {
		t.Errorf("expected doctor %s on first slot", doctor.ID)
	}

	again := generateMonday(t, s, clinic.ID, appointment.ModeSkip)
	if again.Dates[0].Status != appointment.DateSkippedExisting {
		t.Errorf("expected SKIPPED_EXISTING, got %s", again.Dates[0].Status)
	}
}

func TestGenerate_ReplaceRejectedWhenBooked(t *testing.T) {
	s := newServices(monday.Add(-72 * time.Hour))
	clinic, _ := newClinic(t, s)
	generateMonday(t, s, clinic.ID, appointment.ModeSkip)
	slots := mondaySlots(t, s, clinic.ID)

	p := uuid.New()
	if _, err := s.appts.Book(context.Background(), slots[3].ID, p, patient(p)); err != nil {
		t.Fatalf("book: %v", err)
	}

	report := generateMonday(t, s, clinic.ID, appointment.ModeReplace)
	if report.Dates[0].Status != appointment.DateRejectedLocked {
		t.Fatalf("expected REJECTED_LOCKED, got %s", report.Dates[0].Status)
	}
	if got := len(mondaySlots(t, s, clinic.ID)); got != 16 {
		t.Errorf("expected the date to be untouched, got %d slots", got)
	}
}

func TestBook_ConcurrentCallersSingleWinner(t *testing.T) {
	s := newServices(monday.Add(-72 * time.Hour))
	clinic, _ := newClinic(t, s)
	generateMonday(t, s, clinic.ID, appointment.ModeSkip)
	target := mondaySlots(t, s, clinic.ID)[0]

	const callers = 20
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		wins        int
		unavailable int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := uuid.New()
			_, err := s.appts.Book(context.Background(), target.ID, p, patient(p))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case apperrors.Is(err, apperrors.SlotUnavailable):
				unavailable++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || unavailable != callers-1 {
		t.Fatalf("expected 1 winner and %d rejections, got %d and %d", callers-1, wins, unavailable)
	}
	hist, err := s.appts.History(context.Background(), target.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 1 || hist[0].Action != appointment.ActionBooked {
		t.Errorf("expected a single BOOKED history row, got %d", len(hist))
	}
}

func TestCancel_ReopensReplica(t *testing.T) {
	s := newServices(monday.Add(-72 * time.Hour))
	clinic, _ := newClinic(t, s)
	generateMonday(t, s, clinic.ID, appointment.ModeSkip)
	target := mondaySlots(t, s, clinic.ID)[5]

	p := uuid.New()
	ctx := context.Background()
	if _, err := s.appts.Book(ctx, target.ID, p, patient(p)); err != nil {
		t.Fatalf("book: %v", err)
	}
	cancelled, err := s.appts.Cancel(ctx, target.ID, staff)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != appointment.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", cancelled.Status)
	}

	open, _, err := s.appts.Search(ctx, appointment.Filter{
		ClinicID: &clinic.ID,
		Statuses: []appointment.Status{appointment.StatusAvailable},
		From:     &target.Start,
		To:       &target.End,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(open) != 1 || open[0].ID == target.ID {
		t.Fatalf("expected one replica slot at %v, got %d", target.Start, len(open))
	}
}
