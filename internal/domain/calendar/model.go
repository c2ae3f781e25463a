package calendar

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// Session is one open/close window of a working day, cut into slots of
// DurationMin every IntervalMin. Open and Close are clinic-local "HH:MM".
type Session struct {
	Kind        string `json:"kind"`
	Open        string `json:"open"`
	Close       string `json:"close"`
	IntervalMin int    `json:"interval_min"`
	DurationMin int    `json:"duration_min"`
}

// Template is the recurring weekly schedule of a clinic.
type Template map[time.Weekday][]Session

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

// MarshalJSON keys the template by lowercase weekday name.
func (t Template) MarshalJSON() ([]byte, error) {
	out := make(map[string][]Session, len(t))
	for day, sessions := range t {
		out[strings.ToLower(day.String())] = sessions
	}
	return json.Marshal(out)
}

func (t *Template) UnmarshalJSON(data []byte) error {
	var raw map[string][]Session
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	tmpl := make(Template, len(raw))
	for name, sessions := range raw {
		day, ok := weekdayNames[strings.ToLower(name)]
		if !ok {
			return fmt.Errorf("unknown weekday %q", name)
		}
		tmpl[day] = sessions
	}
	*t = tmpl
	return nil
}

// Kinds returns every session kind the template uses.
func (t Template) Kinds() map[string]bool {
	kinds := make(map[string]bool)
	for _, sessions := range t {
		for _, s := range sessions {
			kinds[s.Kind] = true
		}
	}
	return kinds
}

// Exception closes the clinic for one date.
type Exception struct {
	Date   time.Time `json:"date"`
	Reason string    `json:"reason"`
}

type Clinic struct {
	ID         uuid.UUID   `json:"id"`
	Name       string      `json:"name"`
	Timezone   string      `json:"timezone"`
	Template   Template    `json:"template"`
	Exceptions []Exception `json:"exceptions"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Location resolves the clinic timezone.
func (c *Clinic) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("clinic %s timezone: %w", c.ID, err)
	}
	return loc, nil
}

// IsClosedOn reports whether date is an exception date.
func (c *Clinic) IsClosedOn(date time.Time) bool {
	for _, ex := range c.Exceptions {
		if SameDate(ex.Date, date) {
			return true
		}
	}
	return false
}

// SessionsOn returns the sessions worked on date, or nil on a closed date.
func (c *Clinic) SessionsOn(date time.Time) []Session {
	if c.IsClosedOn(date) {
		return nil
	}
	return c.Template[date.Weekday()]
}

func (c *Clinic) IsWorkingDay(date time.Time) bool {
	return len(c.SessionsOn(date)) > 0
}

// Today is the clinic-local calendar date of now.
func (c *Clinic) Today(now time.Time) (time.Time, error) {
	loc, err := c.Location()
	if err != nil {
		return time.Time{}, err
	}
	return DateOf(now, loc), nil
}

type Doctor struct {
	ID           uuid.UUID `json:"id"`
	ClinicID     uuid.UUID `json:"clinic_id"`
	Name         string    `json:"name"`
	Room         string    `json:"room"`
	SessionKinds []string  `json:"session_kinds"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Covers reports whether the doctor works sessions of the given kind.
func (d *Doctor) Covers(kind string) bool {
	for _, k := range d.SessionKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// DateOf returns the calendar date of t in loc, as midnight UTC.
func DateOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SameDate compares the calendar dates of two date values.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}
