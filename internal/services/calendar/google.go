// Package calendar mirrors exact-time tasks to Google Calendar and reads upcoming events back.
package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const (
	// DefaultCalendarID selects the user's primary calendar
	DefaultCalendarID = "primary"
	// EventDuration is the length of events created for exact-time tasks
	EventDuration = 30 * time.Minute
	// Scope grants event read/write access
	Scope = gcal.CalendarEventsScope

	maxListResults = 50
)

// ErrNotConfigured is returned by the disabled client
var ErrNotConfigured = errors.New("calendar not configured")

// Event is an upcoming calendar entry
type Event struct {
	ID      string
	Summary string
	Start   time.Time
	// AllDay events carry a date with no clock time; Start is midnight in the calendar location
	AllDay bool
}

// Client is the calendar collaborator
type Client interface {
	CreateEvent(ctx context.Context, summary string, at time.Time) (string, error)
	ListUpcoming(ctx context.Context, from, to time.Time) ([]Event, error)
}

type settings struct {
	logger     *zap.Logger
	clientOpts []option.ClientOption
}

// Option configures a GoogleCalendar
type Option func(*settings)

// WithEndpoint points the client at another API root
func WithEndpoint(endpoint string) Option {
	return func(s *settings) {
		s.clientOpts = append(s.clientOpts, option.WithEndpoint(strings.TrimRight(endpoint, "/")+"/"))
	}
}

// WithHTTPClient uses an already-authorized HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(s *settings) {
		s.clientOpts = append(s.clientOpts, option.WithHTTPClient(client))
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// GoogleCalendar wraps the Calendar v3 events service for one calendar
type GoogleCalendar struct {
	events     *gcal.EventsService
	calendarID string
	location   *time.Location
	logger     *zap.Logger
}

// New creates a client. Authorization comes from WithHTTPClient or from the
// token source NewFromFiles installs.
func New(ctx context.Context, calendarID string, location *time.Location, opts ...Option) (*GoogleCalendar, error) {
	s := &settings{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if calendarID == "" {
		calendarID = DefaultCalendarID
	}
	if location == nil {
		location = time.Local
	}

	svc, err := gcal.NewService(ctx, s.clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &GoogleCalendar{
		events:     svc.Events,
		calendarID: calendarID,
		location:   location,
		logger:     s.logger,
	}, nil
}

// NewFromFiles builds a client from installed-app credentials and a previously
// authorized token. Refreshed tokens are written back to tokenPath.
func NewFromFiles(ctx context.Context, credsPath, tokenPath, calendarID string, location *time.Location, opts ...Option) (*GoogleCalendar, error) {
	credsJSON, err := os.ReadFile(credsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read calendar credentials: %w", err)
	}
	cfg, err := google.ConfigFromJSON(credsJSON, Scope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse calendar credentials: %w", err)
	}
	tok, err := LoadToken(tokenPath)
	if err != nil {
		return nil, err
	}

	ts := &persistingTokenSource{
		base: cfg.TokenSource(ctx, tok),
		path: tokenPath,
		last: tok.AccessToken,
	}
	withToken := func(s *settings) {
		s.clientOpts = append(s.clientOpts, option.WithTokenSource(oauth2.ReuseTokenSource(tok, ts)))
	}
	return New(ctx, calendarID, location, append([]Option{withToken}, opts...)...)
}

// storedToken accepts both the oauth2.Token layout and the authorized-user
// layout written by Google's Python client ("token", "expiry").
type storedToken struct {
	AccessToken  string    `json:"access_token"`
	Token        string    `json:"token"`
	TokenType    string    `json:"token_type"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
}

// LoadToken reads a saved OAuth token
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calendar token: %w", err)
	}
	var st storedToken
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse calendar token: %w", err)
	}
	tok := &oauth2.Token{
		AccessToken:  st.AccessToken,
		TokenType:    st.TokenType,
		RefreshToken: st.RefreshToken,
		Expiry:       st.Expiry,
	}
	if tok.AccessToken == "" {
		tok.AccessToken = st.Token
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("calendar token %s has neither access nor refresh token", path)
	}
	return tok, nil
}

// SaveToken writes tok in the oauth2.Token layout
func SaveToken(path string, tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode calendar token: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write calendar token: %w", err)
	}
	return nil
}

type persistingTokenSource struct {
	base oauth2.TokenSource
	path string

	mu   sync.Mutex
	last string
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		p.last = tok.AccessToken
		// Best effort; the in-memory token keeps working
		_ = SaveToken(p.path, tok)
	}
	return tok, nil
}

// CreateEvent inserts a 30 minute event starting at at and returns its id
func (g *GoogleCalendar) CreateEvent(ctx context.Context, summary string, at time.Time) (string, error) {
	start := at.In(g.location)
	event := &gcal.Event{
		Summary: summary,
		Start:   &gcal.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: g.location.String()},
		End:     &gcal.EventDateTime{DateTime: start.Add(EventDuration).Format(time.RFC3339), TimeZone: g.location.String()},
	}

	created, err := g.events.Insert(g.calendarID, event).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create calendar event: %w", err)
	}
	if created.Id == "" {
		return "", fmt.Errorf("failed to create calendar event: response has no id")
	}
	g.logger.Debug("calendar_event_created", zap.String("event_id", created.Id), zap.Time("start", start))
	return created.Id, nil
}

// ListUpcoming returns single (expanded) events starting in [from, to), ordered by start
func (g *GoogleCalendar) ListUpcoming(ctx context.Context, from, to time.Time) ([]Event, error) {
	var events []Event
	call := g.events.List(g.calendarID).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(maxListResults)

	err := call.Pages(ctx, func(page *gcal.Events) error {
		for _, item := range page.Items {
			ev, err := g.toEvent(item)
			if err != nil {
				g.logger.Warn("calendar_event_skipped", zap.String("event_id", item.Id), zap.Error(err))
				continue
			}
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list calendar events: %w", err)
	}
	return events, nil
}

func (g *GoogleCalendar) toEvent(item *gcal.Event) (Event, error) {
	ev := Event{ID: item.Id, Summary: item.Summary}
	switch {
	case item.Start == nil:
		return Event{}, fmt.Errorf("event has no start")
	case item.Start.DateTime != "":
		start, err := time.Parse(time.RFC3339, item.Start.DateTime)
		if err != nil {
			return Event{}, fmt.Errorf("invalid start %q: %w", item.Start.DateTime, err)
		}
		ev.Start = start.In(g.location)
	case item.Start.Date != "":
		start, err := time.ParseInLocation("2006-01-02", item.Start.Date, g.location)
		if err != nil {
			return Event{}, fmt.Errorf("invalid start date %q: %w", item.Start.Date, err)
		}
		ev.Start = start
		ev.AllDay = true
	default:
		return Event{}, fmt.Errorf("event has no start")
	}
	return ev, nil
}

// Disabled is the Client used when calendar integration is off
type Disabled struct{}

// CreateEvent always fails with ErrNotConfigured
func (Disabled) CreateEvent(context.Context, string, time.Time) (string, error) {
	return "", ErrNotConfigured
}

// ListUpcoming returns no events
func (Disabled) ListUpcoming(context.Context, time.Time, time.Time) ([]Event, error) {
	return nil, nil
}

var (
	_ Client = (*GoogleCalendar)(nil)
	_ Client = Disabled{}
)
