package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/i474232898/weather-assistant/internal/common"
)

// ErrNotConfigured is returned by every operation when no calendar
// credentials were provisioned.
var ErrNotConfigured = errors.New("calendar not configured")

const (
	DefaultDaysAhead  = 7
	DefaultMaxResults = 10
	MaxDaysAhead      = 365
	MaxResults        = 250

	primaryCalendar     = "primary"
	reminderDuration    = 15 * time.Minute
	reminderLeadMinutes = 60
)

// Event is a calendar entry as returned to API and agent callers.
type Event struct {
	ID          string `json:"id"`
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	Start       string `json:"start"`
	End         string `json:"end"`
	AllDay      bool   `json:"all_day"`
	Status      string `json:"status,omitempty"`
	HTMLLink    string `json:"html_link,omitempty"`
}

// Client wraps the Google Calendar API for the user's primary calendar.
// The zero value is an unconfigured client.
type Client struct {
	events *gcal.EventsService
	now    func() time.Time
}

// Disabled returns a client whose operations fail with ErrNotConfigured.
func Disabled() *Client {
	return &Client{now: time.Now}
}

// New builds a client from an OAuth client-secrets file and a stored token.
// Both paths empty yields a disabled client.
func New(ctx context.Context, credentialsFile, tokenFile string) (*Client, error) {
	if credentialsFile == "" && tokenFile == "" {
		return Disabled(), nil
	}
	if credentialsFile == "" || tokenFile == "" {
		return nil, fmt.Errorf("calendar needs both a credentials file and a token file")
	}

	secret, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read calendar credentials: %w", err)
	}
	conf, err := google.ConfigFromJSON(secret, gcal.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("parse calendar credentials: %w", err)
	}
	tok, err := readToken(tokenFile)
	if err != nil {
		return nil, err
	}

	svc, err := gcal.NewService(ctx, option.WithTokenSource(conf.TokenSource(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return NewWithService(svc), nil
}

// NewWithService wraps an already constructed calendar service.
func NewWithService(svc *gcal.Service) *Client {
	return &Client{events: svc.Events, now: time.Now}
}

// Configured reports whether the client can reach a calendar.
func (c *Client) Configured() bool {
	return c != nil && c.events != nil
}

// UpcomingEvents lists single events starting between now and daysAhead days
// from now, ordered by start time.
func (c *Client) UpcomingEvents(ctx context.Context, daysAhead, maxResults int) ([]Event, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if daysAhead == 0 {
		daysAhead = DefaultDaysAhead
	}
	if maxResults == 0 {
		maxResults = DefaultMaxResults
	}
	if daysAhead < 1 || daysAhead > MaxDaysAhead {
		return nil, fmt.Errorf("%w: days_ahead must be between 1 and %d", common.ErrInvalidQuery, MaxDaysAhead)
	}
	if maxResults < 1 || maxResults > MaxResults {
		return nil, fmt.Errorf("%w: max_results must be between 1 and %d", common.ErrInvalidQuery, MaxResults)
	}

	start := c.now().UTC()
	end := start.AddDate(0, 0, daysAhead)

	list, err := c.events.List(primaryCalendar).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		MaxResults(int64(maxResults)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("%w: list calendar events: %v", common.ErrUpstreamUnavailable, err)
	}

	events := make([]Event, 0, len(list.Items))
	for _, item := range list.Items {
		events = append(events, fromAPI(item))
	}
	return events, nil
}

// CreateReminder adds a short weather reminder event at eventTime with a popup
// an hour before.
func (c *Client) CreateReminder(ctx context.Context, title string, eventTime time.Time, weatherNote string) (Event, error) {
	if !c.Configured() {
		return Event{}, ErrNotConfigured
	}
	if strings.TrimSpace(title) == "" {
		return Event{}, fmt.Errorf("%w: reminder title is required", common.ErrInvalidQuery)
	}
	if eventTime.IsZero() {
		return Event{}, fmt.Errorf("%w: reminder time is required", common.ErrInvalidQuery)
	}

	start := eventTime.UTC()
	body := &gcal.Event{
		Summary:     "Weather Reminder: " + title,
		Description: "Weather Advisory: " + weatherNote,
		Start:       &gcal.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: "UTC"},
		End:         &gcal.EventDateTime{DateTime: start.Add(reminderDuration).Format(time.RFC3339), TimeZone: "UTC"},
		Reminders: &gcal.EventReminders{
			UseDefault:      false,
			Overrides:       []*gcal.EventReminder{{Method: "popup", Minutes: reminderLeadMinutes}},
			ForceSendFields: []string{"UseDefault"},
		},
	}

	created, err := c.events.Insert(primaryCalendar, body).Context(ctx).Do()
	if err != nil {
		return Event{}, fmt.Errorf("%w: create calendar event: %v", common.ErrUpstreamUnavailable, err)
	}
	ev := fromAPI(created)
	ev.Status = "created"
	return ev, nil
}

func fromAPI(item *gcal.Event) Event {
	ev := Event{
		ID:          item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Location:    item.Location,
		Status:      item.Status,
		HTMLLink:    item.HtmlLink,
	}
	if ev.Summary == "" {
		ev.Summary = "Untitled Event"
	}
	if item.Start != nil {
		ev.Start = common.FirstNonEmpty(item.Start.DateTime, item.Start.Date)
		ev.AllDay = item.Start.DateTime == "" && item.Start.Date != ""
	}
	if item.End != nil {
		ev.End = common.FirstNonEmpty(item.End.DateTime, item.End.Date)
	}
	return ev
}

// storedToken accepts both the oauth2.Token layout and the layout written by
// Google's Python quickstart ("token" instead of "access_token").
type storedToken struct {
	AccessToken  string    `json:"access_token"`
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry"`
}

func readToken(path string) (*oauth2.Token, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calendar token: %w", err)
	}
	var st storedToken
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("parse calendar token: %w", err)
	}
	tok := &oauth2.Token{
		AccessToken:  common.FirstNonEmpty(st.AccessToken, st.Token),
		RefreshToken: st.RefreshToken,
		TokenType:    st.TokenType,
		Expiry:       st.Expiry,
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("calendar token %s holds neither an access nor a refresh token", path)
	}
	return tok, nil
}
