package nlp

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/benvon/smart-reminder/internal/models"
)

// startAtLayouts are accepted for start_at; zone-less forms are read in the user's location
var startAtLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

func parseStartAt(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range startAtLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: start_at %q is not an ISO datetime", ErrMalformedResult, s)
}

// validateIntent checks provider output: non-empty task, at least one
// parseable date none of which is in the past, HH:MM times, ISO start_at.
func validateIntent(si *StructuredIntent, now time.Time, loc *time.Location) (ResolvedIntent, error) {
	if si == nil {
		return ResolvedIntent{}, fmt.Errorf("%w: empty result", ErrMalformedResult)
	}
	task := strings.Join(strings.Fields(si.Task), " ")
	if task == "" {
		return ResolvedIntent{}, fmt.Errorf("%w: missing task", ErrMalformedResult)
	}

	now = now.In(loc)
	today := models.DateOf(now)

	if si.StartAt != "" {
		at, err := parseStartAt(strings.TrimSpace(si.StartAt), loc)
		if err != nil {
			return ResolvedIntent{}, err
		}
		if !at.After(now) {
			return ResolvedIntent{}, fmt.Errorf("%w: start_at %s is in the past", ErrMalformedResult, si.StartAt)
		}
		tod := models.TimeOfDayOf(at)
		return ResolvedIntent{
			Description: task,
			Dates:       []models.Date{models.DateOf(at)},
			ExactTime:   &tod,
			Source:      SourceAI,
		}, nil
	}

	if len(si.Dates) == 0 {
		// The provider reports an existing duplicate this way; let the rule tier and dedup decide
		return ResolvedIntent{}, fmt.Errorf("%w: no dates", ErrMalformedResult)
	}

	seen := make(map[models.Date]bool, len(si.Dates))
	dates := make([]models.Date, 0, len(si.Dates))
	for _, raw := range si.Dates {
		d, err := models.ParseDate(strings.TrimSpace(raw))
		if err != nil {
			return ResolvedIntent{}, fmt.Errorf("%w: %w", ErrMalformedResult, err)
		}
		if d.Before(today) {
			return ResolvedIntent{}, fmt.Errorf("%w: date %s is in the past", ErrMalformedResult, d)
		}
		if !seen[d] {
			seen[d] = true
			dates = append(dates, d)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	res := ResolvedIntent{Description: task, Dates: dates, Source: SourceAI}
	for _, raw := range si.Times {
		tod, err := models.ParseTimeOfDay(raw)
		if err != nil {
			return ResolvedIntent{}, fmt.Errorf("%w: %w", ErrMalformedResult, err)
		}
		switch {
		case res.ExactTime == nil:
			res.ExactTime = &tod
		case tod != *res.ExactTime:
			res.DroppedTimes = append(res.DroppedTimes, tod)
		}
	}
	return res, nil
}
