package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/benvon/smart-reminder/internal/database"
	"github.com/benvon/smart-reminder/internal/models"
	"go.uber.org/zap"
)

// SyncStats summarizes a calendar import
type SyncStats struct {
	Imported int `json:"imported"`
	Linked   int `json:"linked"`
	Skipped  int `json:"skipped"`
}

// SyncCalendar imports upcoming timed calendar events as exact-time tasks.
// Events already linked to a task, all-day events and events that already
// started are skipped. A pending task with the same description and date is
// linked to the event instead of duplicated.
func (s *Service) SyncCalendar(ctx context.Context) (SyncStats, error) {
	var stats SyncStats
	if s.calendar == nil {
		return stats, nil
	}

	loc := s.policy.Location()
	now := s.clock.Now().In(loc)
	events, err := s.calendar.ListUpcoming(ctx, now, now.AddDate(0, 0, s.syncDays))
	if err != nil {
		return stats, fmt.Errorf("failed to list calendar events: %w", err)
	}

	for _, ev := range events {
		summary := strings.TrimSpace(ev.Summary)
		if ev.AllDay || summary == "" || !ev.Start.After(now) {
			stats.Skipped++
			continue
		}

		if _, err := s.store.FindTaskByCalendarEventID(ctx, ev.ID); err == nil {
			stats.Skipped++
			continue
		} else if !errors.Is(err, database.ErrNotFound) {
			return stats, fmt.Errorf("failed to look up calendar event %s: %w", ev.ID, err)
		}

		start := ev.Start.In(loc)
		date := models.DateOf(start)
		tod := models.TimeOfDayOf(start)
		eventID := ev.ID

		added, err := s.addForDate(ctx, summary, date, &tod, &eventID)
		if err != nil {
			return stats, err
		}
		if added.Created {
			stats.Imported++
			continue
		}
		if added.Task.CalendarEventID == nil {
			if err := s.store.SetTaskCalendarEventID(ctx, added.Task.ID, eventID); err != nil {
				return stats, fmt.Errorf("failed to link calendar event %s: %w", ev.ID, err)
			}
			stats.Linked++
			continue
		}
		stats.Skipped++
	}

	s.logger.Info("calendar_synced",
		zap.Int("events", len(events)),
		zap.Int("imported", stats.Imported),
		zap.Int("linked", stats.Linked),
		zap.Int("skipped", stats.Skipped),
	)
	return stats, nil
}
