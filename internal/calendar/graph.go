package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/zulandar/fda/internal/fault"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	defaultGraphBaseURL = "https://graph.microsoft.com/v1.0"
	graphScope          = "https://graph.microsoft.com/.default"
	graphTimeLayout     = "2006-01-02T15:04:05.9999999"
	graphSelect         = "id,subject,start,end,location,organizer,attendees,bodyPreview,isOnlineMeeting,onlineMeeting"
)

// GraphConfig configures a Microsoft Graph calendar client using the
// OAuth2 client-credentials flow.
type GraphConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	User         string // mailbox to read, e.g. alice@example.com

	// Overrides for tests.
	BaseURL  string
	TokenURL string
}

// Graph reads a user's calendarView.
type Graph struct {
	client  *http.Client
	baseURL string
	user    string
	now     func() time.Time
}

// NewGraph creates a Graph client. Tokens are fetched and refreshed lazily.
func NewGraph(cfg GraphConfig) *Graph {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = "https://login.microsoftonline.com/" + url.PathEscape(cfg.TenantID) + "/oauth2/v2.0/token"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultGraphBaseURL
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{graphScope},
	}
	client := cc.Client(context.Background())
	client.Timeout = 30 * time.Second
	return &Graph{client: client, baseURL: baseURL, user: cfg.User, now: time.Now}
}

// EventsToday returns events starting between local midnight and the next.
func (g *Graph) EventsToday(ctx context.Context) ([]Event, error) {
	start, end := dayBounds(g.now())
	return g.eventsBetween(ctx, start, end)
}

// UpcomingEvents returns events starting within the next window.
func (g *Graph) UpcomingEvents(ctx context.Context, within time.Duration) ([]Event, error) {
	now := g.now()
	return g.eventsBetween(ctx, now, now.Add(within))
}

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphEmail struct {
	EmailAddress struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	} `json:"emailAddress"`
}

type graphEvent struct {
	ID       string        `json:"id"`
	Subject  string        `json:"subject"`
	Start    graphDateTime `json:"start"`
	End      graphDateTime `json:"end"`
	Location struct {
		DisplayName string `json:"displayName"`
	} `json:"location"`
	Organizer graphEmail `json:"organizer"`
	Attendees []struct {
		graphEmail
		Status struct {
			Response string `json:"response"`
		} `json:"status"`
	} `json:"attendees"`
	BodyPreview     string `json:"bodyPreview"`
	IsOnlineMeeting bool   `json:"isOnlineMeeting"`
	OnlineMeeting   *struct {
		JoinURL string `json:"joinUrl"`
	} `json:"onlineMeeting"`
}

type graphPage struct {
	Value    []graphEvent `json:"value"`
	NextLink string       `json:"@odata.nextLink"`
}

func (g *Graph) eventsBetween(ctx context.Context, start, end time.Time) ([]Event, error) {
	q := url.Values{}
	q.Set("startDateTime", start.UTC().Format(time.RFC3339))
	q.Set("endDateTime", end.UTC().Format(time.RFC3339))
	q.Set("$orderby", "start/dateTime")
	q.Set("$select", graphSelect)
	next := g.baseURL + "/users/" + url.PathEscape(g.user) + "/calendarView?" + q.Encode()

	var events []Event
	for next != "" {
		page, err := g.get(ctx, next)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Value {
			ev, err := convertEvent(raw)
			if err != nil {
				return nil, fmt.Errorf("calendar: event %s: %w", raw.ID, err)
			}
			events = append(events, ev)
		}
		next = page.NextLink
	}
	return events, nil
}

func (g *Graph) get(ctx context.Context, u string) (*graphPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("calendar: create request: %w", err)
	}
	req.Header.Set("Prefer", `outlook.timezone="UTC"`)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar: %w: %v", fault.ErrUpstreamUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("calendar: %w: read response: %v", fault.ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar: %w: status %d: %s", fault.ErrUpstreamUnavailable, resp.StatusCode, string(body))
	}
	var page graphPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("calendar: decode response: %w", err)
	}
	return &page, nil
}

func convertEvent(raw graphEvent) (Event, error) {
	start, err := parseGraphTime(raw.Start)
	if err != nil {
		return Event{}, err
	}
	end, err := parseGraphTime(raw.End)
	if err != nil {
		return Event{}, err
	}
	title := raw.Subject
	if title == "" {
		title = "No Subject"
	}
	ev := Event{
		ID:          raw.ID,
		Title:       title,
		Start:       start,
		End:         end,
		Location:    raw.Location.DisplayName,
		Organizer:   raw.Organizer.EmailAddress.Name,
		BodyPreview: raw.BodyPreview,
		IsOnline:    raw.IsOnlineMeeting,
	}
	if raw.OnlineMeeting != nil {
		ev.JoinURL = raw.OnlineMeeting.JoinURL
	}
	for _, a := range raw.Attendees {
		ev.Attendees = append(ev.Attendees, Attendee{
			Name:     a.EmailAddress.Name,
			Email:    a.EmailAddress.Address,
			Response: a.Status.Response,
		})
	}
	return ev, nil
}

// parseGraphTime parses a Graph dateTimeTimeZone. The Prefer header asks
// for UTC; other zones are resolved through the tz database when known.
func parseGraphTime(dt graphDateTime) (time.Time, error) {
	loc := time.UTC
	if dt.TimeZone != "" && dt.TimeZone != "UTC" {
		if l, err := time.LoadLocation(dt.TimeZone); err == nil {
			loc = l
		}
	}
	t, err := time.ParseInLocation(graphTimeLayout, dt.DateTime, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", dt.DateTime, err)
	}
	return t.UTC(), nil
}
