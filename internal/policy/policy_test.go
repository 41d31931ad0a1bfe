package policy

import (
	"testing"
	"time"

	"github.com/benvon/smart-reminder/internal/models"
)

func TestInstantsFor(t *testing.T) {
	t.Parallel()

	loc := time.UTC
	p := Default(loc)
	today := models.NewDate(2025, 3, 12)
	tomorrow := today.AddDays(1)
	exact := &models.TimeOfDay{Hour: 17, Minute: 30}

	tests := []struct {
		name  string
		date  models.Date
		exact *models.TimeOfDay
		now   time.Time
		want  []string
	}{
		{
			name: "future day uses full schedule",
			date: tomorrow,
			now:  time.Date(2025, 3, 12, 9, 0, 0, 0, loc),
			want: []string{"10:00", "13:00", "15:00", "18:00", "20:00"},
		},
		{
			name: "today drops elapsed times",
			date: today,
			now:  time.Date(2025, 3, 12, 14, 0, 0, 0, loc),
			want: []string{"15:00", "18:00", "20:00"},
		},
		{
			name: "instant equal to now is dropped",
			date: today,
			now:  time.Date(2025, 3, 12, 18, 0, 0, 0, loc),
			want: []string{"20:00"},
		},
		{
			name: "today after last time is empty",
			date: today,
			now:  time.Date(2025, 3, 12, 21, 0, 0, 0, loc),
			want: []string{},
		},
		{
			name:  "exact time yields two instants",
			date:  tomorrow,
			exact: exact,
			now:   time.Date(2025, 3, 12, 9, 0, 0, 0, loc),
			want:  []string{"17:25", "17:30"},
		},
		{
			name:  "exact time drops elapsed early reminder",
			date:  today,
			exact: exact,
			now:   time.Date(2025, 3, 12, 17, 27, 0, 0, loc),
			want:  []string{"17:30"},
		},
		{
			name:  "exact time fully elapsed",
			date:  today,
			exact: exact,
			now:   time.Date(2025, 3, 12, 17, 31, 0, 0, loc),
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := p.InstantsFor(tt.date, tt.exact, tt.now)
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %d instants, got %d: %v", len(tt.want), len(got), got)
			}
			for i, instant := range got {
				if models.DateOf(instant) != tt.date {
					t.Errorf("Instant %v is not on %s", instant, tt.date)
				}
				if s := models.TimeOfDayOf(instant).String(); s != tt.want[i] {
					t.Errorf("Instant %d: expected %s, got %s", i, tt.want[i], s)
				}
				if i > 0 && !instant.After(got[i-1]) {
					t.Errorf("Instants not strictly increasing: %v then %v", got[i-1], instant)
				}
			}
		})
	}
}

func TestInstantsFor_Location(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}
	p := Default(loc)

	// 15:00 UTC is 10:00 in Chicago during CDT
	now := time.Date(2025, 6, 10, 15, 30, 0, 0, time.UTC)
	got := p.InstantsFor(models.NewDate(2025, 6, 10), nil, now)
	if len(got) != 4 {
		t.Fatalf("Expected 4 remaining instants, got %d: %v", len(got), got)
	}
	if got[0].In(loc).Hour() != 13 {
		t.Errorf("Expected first instant at 13:00 local, got %v", got[0].In(loc))
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	p, err := New([]models.TimeOfDay{{Hour: 18}, {Hour: 9}, {Hour: 18}}, time.Minute, time.UTC)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	times := p.ReminderTimes()
	if len(times) != 2 || times[0].Hour != 9 || times[1].Hour != 18 {
		t.Errorf("Expected sorted unique times [09:00 18:00], got %v", times)
	}

	if _, err := New(nil, time.Minute, time.UTC); err == nil {
		t.Error("Expected error for empty schedule")
	}
	if _, err := New(DefaultReminderTimes, 0, time.UTC); err == nil {
		t.Error("Expected error for zero lead")
	}
	if _, err := New([]models.TimeOfDay{{Hour: 25}}, time.Minute, time.UTC); err == nil {
		t.Error("Expected error for invalid time")
	}
}

func TestParseTimes(t *testing.T) {
	t.Parallel()

	times, err := ParseTimes(" 10:00, 13:00,15:00 ,18:00,20:00")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(times) != 5 {
		t.Errorf("Expected 5 times, got %d", len(times))
	}

	if _, err := ParseTimes("10:00,lunch"); err == nil {
		t.Error("Expected error for invalid entry")
	}
	if _, err := ParseTimes(" , "); err == nil {
		t.Error("Expected error for empty list")
	}
}
