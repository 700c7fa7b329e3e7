package slot

import (
	"fmt"
	"time"
	_ "time/tzdata" // slot zones must resolve the same on every host

	"github.com/google/uuid"
)

type Status string

const (
	StatusAvailable Status = "available"
	StatusBooked    Status = "booked"
	StatusDisabled  Status = "disabled"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// Slot is one bookable unit of a provider's calendar. Date and times are the
// provider's wall clock in Timezone.
type Slot struct {
	ID         uuid.UUID
	ProviderID uuid.UUID
	Date       string // YYYY-MM-DD
	StartTime  string // HH:MM
	EndTime    string // HH:MM
	Timezone   string // IANA name
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// StartsAt resolves the slot start against the slot's own zone and returns the
// instant in UTC.
func (s Slot) StartsAt() (time.Time, error) {
	return s.resolve(s.StartTime)
}

// EndsAt resolves the slot end like StartsAt. An end at or before the start
// rolls over to the next day.
func (s Slot) EndsAt() (time.Time, error) {
	end, err := s.resolve(s.EndTime)
	if err != nil {
		return time.Time{}, err
	}
	start, err := s.StartsAt()
	if err != nil {
		return time.Time{}, err
	}
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}
	return end, nil
}

// Year is the calendar year of the slot's local date.
func (s Slot) Year() (int, error) {
	d, err := time.Parse(dateLayout, s.Date)
	if err != nil {
		return 0, fmt.Errorf("slot %s: bad date %q: %w", s.ID, s.Date, err)
	}
	return d.Year(), nil
}

func (s Slot) resolve(clock string) (time.Time, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("slot %s: unknown timezone %q: %w", s.ID, s.Timezone, err)
	}
	t, err := time.ParseInLocation(dateLayout+" "+timeLayout, s.Date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("slot %s: bad local time %q %q: %w", s.ID, s.Date, clock, err)
	}
	return t.UTC(), nil
}

// Validate checks the fields a new slot must carry.
func (s Slot) Validate() error {
	if s.ProviderID == uuid.Nil {
		return fmt.Errorf("provider id is required")
	}
	if _, err := time.Parse(dateLayout, s.Date); err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD")
	}
	if _, err := time.Parse(timeLayout, s.StartTime); err != nil {
		return fmt.Errorf("start time must be HH:MM")
	}
	if _, err := time.Parse(timeLayout, s.EndTime); err != nil {
		return fmt.Errorf("end time must be HH:MM")
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil || s.Timezone == "" {
		return fmt.Errorf("timezone must be an IANA zone name")
	}
	return nil
}

// Stats counts a provider's slots by status.
type Stats struct {
	ProviderID uuid.UUID
	From       string
	To         string
	Available  int
	Booked     int
	Disabled   int
	Total      int
}

func (st *Stats) add(status Status, n int) {
	switch status {
	case StatusAvailable:
		st.Available += n
	case StatusBooked:
		st.Booked += n
	case StatusDisabled:
		st.Disabled += n
	}
	st.Total += n
}
