// Package calendar reads the user's meetings for the director's check-in
// and meeting-prep jobs.
package calendar

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/zulandar/fda/internal/config"
)

// Attendee is one invitee of an event.
type Attendee struct {
	Name     string
	Email    string
	Response string
}

// Event is a calendar entry. Times are UTC.
type Event struct {
	ID          string
	Title       string
	Start       time.Time
	End         time.Time
	Location    string
	Organizer   string
	Attendees   []Attendee
	BodyPreview string
	IsOnline    bool
	JoinURL     string
}

// Calendar is the calendar collaborator.
type Calendar interface {
	EventsToday(ctx context.Context) ([]Event, error)
	UpcomingEvents(ctx context.Context, within time.Duration) ([]Event, error)
}

// Disabled is a Calendar with no events, used when no tenant is configured.
type Disabled struct{}

func (Disabled) EventsToday(context.Context) ([]Event, error) { return nil, nil }

func (Disabled) UpcomingEvents(context.Context, time.Duration) ([]Event, error) { return nil, nil }

// FromConfig returns a Graph client, or Disabled when no tenant is set.
func FromConfig(cfg config.CalendarConfig) (Calendar, error) {
	if cfg.TenantID == "" {
		return Disabled{}, nil
	}
	secret := os.Getenv(cfg.ClientSecretEnv)
	if secret == "" {
		return nil, fmt.Errorf("calendar: %s is not set", cfg.ClientSecretEnv)
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("calendar: user is required")
	}
	return NewGraph(GraphConfig{
		TenantID:     cfg.TenantID,
		ClientID:     cfg.ClientID,
		ClientSecret: secret,
		User:         cfg.User,
	}), nil
}

// Static is a fixed Calendar for tests and dry runs.
type Static struct {
	Events []Event
	Err    error
	Now    func() time.Time
}

func (s *Static) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Static) EventsToday(context.Context) ([]Event, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	start, end := dayBounds(s.now())
	return s.between(start, end), nil
}

func (s *Static) UpcomingEvents(_ context.Context, within time.Duration) ([]Event, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	now := s.now()
	return s.between(now, now.Add(within)), nil
}

func (s *Static) between(start, end time.Time) []Event {
	var out []Event
	for _, e := range s.Events {
		if !e.Start.Before(start) && e.Start.Before(end) {
			out = append(out, e)
		}
	}
	return out
}

// dayBounds returns local midnight of t's day and the following midnight.
func dayBounds(t time.Time) (time.Time, time.Time) {
	y, m, d := t.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}
