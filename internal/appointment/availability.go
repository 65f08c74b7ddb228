package appointment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/panchakarma-booking/internal/directory"
)

const (
	dateLayout = "2006-01-02"
	slotLayout = "15:04"
)

// ParseDate reads a calendar day. Full timestamps are accepted and reduced to
// their day in loc.
func ParseDate(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if d, err := time.ParseInLocation(dateLayout, raw, loc); err == nil {
		return d, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		y, m, d := ts.In(loc).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc), nil
	}
	return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", raw)
}

// DayBounds returns 00:00:00.000 and 23:59:59.999 of day in loc.
func DayBounds(day time.Time, loc *time.Location) (time.Time, time.Time) {
	y, m, d := day.In(loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1).Add(-time.Millisecond)
	return start, end
}

// SlotInstant combines a calendar day and an HH:MM slot in loc.
func SlotInstant(day time.Time, slot string, loc *time.Location) (time.Time, error) {
	t, err := time.Parse(slotLayout, strings.TrimSpace(slot))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid slot %q, want HH:MM", slot)
	}
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, loc), nil
}

// SlotOf formats an instant as the HH:MM slot it occupies in loc.
func SlotOf(at time.Time, loc *time.Location) string {
	return at.In(loc).Format(slotLayout)
}

// Subtract returns the members of all not in occupied, keeping the order of all.
func Subtract(all, occupied []string) []string {
	taken := make(map[string]struct{}, len(occupied))
	for _, s := range occupied {
		taken[s] = struct{}{}
	}
	out := make([]string, 0, len(all))
	for _, s := range all {
		if _, ok := taken[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}

// OccupiedSlots returns the sorted, de-duplicated HH:MM values held by active
// appointments of the practitioner on date.
func (s *Service) OccupiedSlots(ctx context.Context, practitionerID uuid.UUID, date string) ([]string, error) {
	day, err := ParseDate(date, s.loc())
	if err != nil {
		return nil, &ValidationError{Fields: map[string]string{"date": err.Error()}}
	}
	return s.occupiedOn(ctx, practitionerID, day)
}

func (s *Service) occupiedOn(ctx context.Context, practitionerID uuid.UUID, day time.Time) ([]string, error) {
	from, to := DayBounds(day, s.loc())
	times, err := s.repo.ListOccupiedTimes(ctx, practitionerID, from, to)
	if err != nil {
		s.metrics.ObserveAvailability("unavailable")
		return nil, fmt.Errorf("%w: occupied slots: %w", ErrDataUnavailable, err)
	}
	s.metrics.ObserveAvailability("ok")

	seen := make(map[string]struct{}, len(times))
	slots := make([]string, 0, len(times))
	for _, at := range times {
		slot := SlotOf(at, s.loc())
		if _, dup := seen[slot]; dup {
			continue
		}
		seen[slot] = struct{}{}
		slots = append(slots, slot)
	}
	sort.Strings(slots)
	return slots, nil
}

// AvailableSlots is the practitioner's configured slot list minus the occupied set.
func (s *Service) AvailableSlots(ctx context.Context, practitionerID uuid.UUID, date string) (*Availability, error) {
	day, err := ParseDate(date, s.loc())
	if err != nil {
		return nil, &ValidationError{Fields: map[string]string{"date": err.Error()}}
	}

	all, err := s.slotTimes(ctx, practitionerID)
	if err != nil {
		return nil, err
	}

	occupied, err := s.occupiedOn(ctx, practitionerID, day)
	if err != nil {
		return nil, err
	}

	return &Availability{
		PractitionerID: practitionerID,
		Date:           day.Format(dateLayout),
		All:            all,
		Occupied:       occupied,
		Available:      Subtract(all, occupied),
	}, nil
}

func (s *Service) slotTimes(ctx context.Context, practitionerID uuid.UUID) ([]string, error) {
	all, err := s.practitioners.SlotTimes(ctx, practitionerID)
	if err != nil {
		if errors.Is(err, directory.ErrPractitionerNotFound) {
			return nil, &ValidationError{Fields: map[string]string{"practitioner_id": "unknown practitioner"}}
		}
		return nil, fmt.Errorf("%w: slot times: %w", ErrDataUnavailable, err)
	}
	return all, nil
}
