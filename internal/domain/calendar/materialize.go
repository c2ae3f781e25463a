package calendar

import (
	"sort"
	"time"

	"github.com/aqms/aqms/pkg/apperrors"
)

const clockLayout = "15:04"

// Window is one materialized slot interval.
type Window struct {
	Kind  string
	Start time.Time
	End   time.Time
}

// Materialize cuts a session on date into windows [t, t+duration) for
// t = open, open+interval, ... while t+duration <= close. Open and close are
// wall-clock times in loc; windows step on elapsed time between them, so a
// DST shift shortens or lengthens the session instead of skewing windows.
// A duration longer than the session yields no windows.
func Materialize(date time.Time, s Session, loc *time.Location) ([]Window, error) {
	opensAt, closesAt, err := s.bounds()
	if err != nil {
		return nil, err
	}
	y, m, d := date.Date()
	open := time.Date(y, m, d, 0, opensAt, 0, 0, loc)
	end := time.Date(y, m, d, 0, closesAt, 0, 0, loc)
	interval := time.Duration(s.IntervalMin) * time.Minute
	duration := time.Duration(s.DurationMin) * time.Minute

	var out []Window
	for start := open; !start.Add(duration).After(end); start = start.Add(interval) {
		out = append(out, Window{Kind: s.Kind, Start: start, End: start.Add(duration)})
	}
	return out, nil
}

// bounds returns open and close as minutes after midnight.
func (s Session) bounds() (int, int, error) {
	opensAt, err := clockMinutes(s.Open)
	if err != nil {
		return 0, 0, apperrors.Newf(apperrors.InvalidWindow, "session %s: bad open time %q", s.Kind, s.Open)
	}
	closesAt, err := clockMinutes(s.Close)
	if err != nil {
		return 0, 0, apperrors.Newf(apperrors.InvalidWindow, "session %s: bad close time %q", s.Kind, s.Close)
	}
	if s.IntervalMin <= 0 || s.DurationMin <= 0 {
		return 0, 0, apperrors.Newf(apperrors.InvalidWindow,
			"session %s: interval and duration must be positive", s.Kind)
	}
	if opensAt >= closesAt {
		return 0, 0, apperrors.Newf(apperrors.InvalidWindow,
			"session %s: opens at %s but closes at %s", s.Kind, s.Open, s.Close)
	}
	return opensAt, closesAt, nil
}

func clockMinutes(hhmm string) (int, error) {
	t, err := time.Parse(clockLayout, hhmm)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// ValidateTemplate checks every session and rejects overlapping sessions on
// the same weekday.
func ValidateTemplate(t Template) error {
	for day, sessions := range t {
		type span struct {
			kind      string
			from, end int
		}
		spans := make([]span, 0, len(sessions))
		for _, s := range sessions {
			if s.Kind == "" {
				return apperrors.Newf(apperrors.InvalidInput, "%s: session kind is required", day)
			}
			from, end, err := s.bounds()
			if err != nil {
				return err
			}
			spans = append(spans, span{s.Kind, from, end})
		}
		sort.Slice(spans, func(i, j int) bool { return spans[i].from < spans[j].from })
		for i := 1; i < len(spans); i++ {
			if spans[i].from < spans[i-1].end {
				return apperrors.Newf(apperrors.InvalidInput, "%s: sessions %s and %s overlap",
					day, spans[i-1].kind, spans[i].kind)
			}
		}
	}
	return nil
}
