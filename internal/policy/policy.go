package policy

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/benvon/smart-reminder/internal/models"
)

const (
	// DefaultExactTimeLead is how far ahead of an exact-time task the early reminder fires
	DefaultExactTimeLead = 5 * time.Minute
)

// DefaultReminderTimes is the daily reminder schedule used when none is configured
var DefaultReminderTimes = []models.TimeOfDay{
	{Hour: 10, Minute: 0},
	{Hour: 13, Minute: 0},
	{Hour: 15, Minute: 0},
	{Hour: 18, Minute: 0},
	{Hour: 20, Minute: 0},
}

// Policy maps a task date (and optional exact time) to reminder fire instants
type Policy struct {
	times    []models.TimeOfDay
	lead     time.Duration
	location *time.Location
}

// New creates a policy. times is sorted and de-duplicated.
func New(times []models.TimeOfDay, lead time.Duration, location *time.Location) (*Policy, error) {
	if len(times) == 0 {
		return nil, fmt.Errorf("at least one reminder time is required")
	}
	if lead <= 0 {
		return nil, fmt.Errorf("exact time lead must be positive, got %v", lead)
	}
	if location == nil {
		location = time.Local
	}

	sorted := make([]models.TimeOfDay, 0, len(times))
	for _, t := range times {
		if !t.Valid() {
			return nil, fmt.Errorf("invalid reminder time %s", t)
		}
		sorted = append(sorted, t)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	unique := sorted[:1]
	for _, t := range sorted[1:] {
		if t != unique[len(unique)-1] {
			unique = append(unique, t)
		}
	}

	return &Policy{times: unique, lead: lead, location: location}, nil
}

// Default returns the default five-a-day policy in location
func Default(location *time.Location) *Policy {
	p, _ := New(DefaultReminderTimes, DefaultExactTimeLead, location)
	return p
}

// ParseTimes parses a comma separated HH:MM list such as "10:00,13:00"
func ParseTimes(s string) ([]models.TimeOfDay, error) {
	var times []models.TimeOfDay
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		t, err := models.ParseTimeOfDay(part)
		if err != nil {
			return nil, err
		}
		times = append(times, t)
	}
	if len(times) == 0 {
		return nil, fmt.Errorf("no reminder times in %q", s)
	}
	return times, nil
}

// ReminderTimes returns the daily schedule in ascending order
func (p *Policy) ReminderTimes() []models.TimeOfDay {
	out := make([]models.TimeOfDay, len(p.times))
	copy(out, p.times)
	return out
}

// Location returns the location instants are computed in
func (p *Policy) Location() *time.Location {
	return p.location
}

// Lead returns the exact-time lead
func (p *Policy) Lead() time.Duration {
	return p.lead
}

// InstantsFor returns the strictly increasing fire instants for date.
// Instants at or before now are dropped, never substituted; the result is
// empty when every candidate has elapsed.
func (p *Policy) InstantsFor(date models.Date, exact *models.TimeOfDay, now time.Time) []time.Time {
	var candidates []time.Time
	if exact != nil {
		at := date.At(*exact, p.location)
		candidates = []time.Time{at.Add(-p.lead), at}
	} else {
		candidates = make([]time.Time, 0, len(p.times))
		for _, t := range p.times {
			candidates = append(candidates, date.At(t, p.location))
		}
	}

	instants := make([]time.Time, 0, len(candidates))
	for _, c := range candidates {
		if c.After(now) {
			instants = append(instants, c)
		}
	}
	return instants
}
