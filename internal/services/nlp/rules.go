package nlp

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/benvon/smart-reminder/internal/models"
)

// Weeks run Monday through Sunday.
var weekdayNames = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

var numberWords = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

const weekdayAlternation = `monday|tuesday|wednesday|thursday|friday|saturday|sunday`

type dateRule struct {
	name    string
	pattern *regexp.Regexp
	// resolve returns nil when the match should be ignored
	resolve func(today models.Date, m []string) []models.Date
}

var dateRules = []dateRule{
	{
		name:    "every_day_this_week",
		pattern: regexp.MustCompile(`(?i)\b(?:every\s*day|daily)\s+(?:for\s+the\s+rest\s+of\s+)?this\s+week\b`),
		resolve: func(today models.Date, _ []string) []models.Date {
			return restOfWeek(today)
		},
	},
	{
		name:    "next_weekend",
		pattern: regexp.MustCompile(`(?i)\b(?:on\s+)?next\s+weekend\b`),
		resolve: func(today models.Date, _ []string) []models.Date {
			return nextWeekend(today)
		},
	},
	{
		name:    "weekend",
		pattern: regexp.MustCompile(`(?i)\b(?:on\s+the\s+|this\s+|on\s+|the\s+|over\s+the\s+)?weekend\b`),
		resolve: func(today models.Date, _ []string) []models.Date {
			return upcomingWeekend(today)
		},
	},
	{
		name:    "day_after_tomorrow",
		pattern: regexp.MustCompile(`(?i)\b(?:the\s+)?day\s+after\s+tomorrow\b`),
		resolve: func(today models.Date, _ []string) []models.Date {
			return []models.Date{today.AddDays(2)}
		},
	},
	{
		name:    "tomorrow",
		pattern: regexp.MustCompile(`(?i)\b(?:by\s+)?tomorrow(?:\s+(?:morning|afternoon|evening|night))?\b`),
		resolve: func(today models.Date, _ []string) []models.Date {
			return []models.Date{today.AddDays(1)}
		},
	},
	{
		name:    "today",
		pattern: regexp.MustCompile(`(?i)\b(?:today|tonight|this\s+(?:morning|afternoon|evening))\b`),
		resolve: func(today models.Date, _ []string) []models.Date {
			return []models.Date{today}
		},
	},
	{
		name:    "in_n",
		pattern: regexp.MustCompile(`(?i)\bin\s+(\d{1,3}|an?|one|two|three|four|five|six|seven|eight|nine|ten)\s+(days?|weeks?)\b`),
		resolve: func(today models.Date, m []string) []models.Date {
			n, ok := parseCount(m[1])
			if !ok {
				return nil
			}
			if strings.HasPrefix(strings.ToLower(m[2]), "week") {
				n *= 7
			}
			return []models.Date{today.AddDays(n)}
		},
	},
	{
		name:    "iso_date",
		pattern: regexp.MustCompile(`(?i)\b(?:on\s+)?(\d{4}-\d{2}-\d{2})\b`),
		resolve: func(today models.Date, m []string) []models.Date {
			d, err := models.ParseDate(m[1])
			if err != nil || d.Before(today) {
				return nil
			}
			return []models.Date{d}
		},
	},
	{
		name:    "next_weekday",
		pattern: regexp.MustCompile(`(?i)\b(?:on\s+)?next\s+(` + weekdayAlternation + `)\b`),
		resolve: func(today models.Date, m []string) []models.Date {
			return []models.Date{nextWeekday(today, weekdayNames[strings.ToLower(m[1])], false)}
		},
	},
	{
		name:    "weekday",
		pattern: regexp.MustCompile(`(?i)\b(?:on\s+|this\s+|by\s+)?(` + weekdayAlternation + `)\b`),
		resolve: func(today models.Date, m []string) []models.Date {
			return []models.Date{nextWeekday(today, weekdayNames[strings.ToLower(m[1])], true)}
		},
	},
}

func parseCount(s string) (int, bool) {
	if n, ok := numberWords[strings.ToLower(s)]; ok {
		return n, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// daysUntil counts days from -> to going forward, 0..6
func daysUntil(from, to time.Weekday) int {
	return (int(to) - int(from) + 7) % 7
}

// nextWeekday returns the next wd on or after today (inclusive) or strictly after it
func nextWeekday(today models.Date, wd time.Weekday, inclusive bool) models.Date {
	n := daysUntil(today.Weekday(), wd)
	if n == 0 && !inclusive {
		n = 7
	}
	return today.AddDays(n)
}

// restOfWeek returns today through Sunday inclusive
func restOfWeek(today models.Date) []models.Date {
	n := daysUntil(today.Weekday(), time.Sunday)
	dates := make([]models.Date, 0, n+1)
	for i := 0; i <= n; i++ {
		dates = append(dates, today.AddDays(i))
	}
	return dates
}

// upcomingWeekend returns the weekend that has not fully elapsed: Saturday and
// Sunday from Monday to Saturday, and only today on a Sunday.
func upcomingWeekend(today models.Date) []models.Date {
	switch today.Weekday() {
	case time.Sunday:
		return []models.Date{today}
	case time.Saturday:
		return []models.Date{today, today.AddDays(1)}
	default:
		sat := today.AddDays(daysUntil(today.Weekday(), time.Saturday))
		return []models.Date{sat, sat.AddDays(1)}
	}
}

// nextWeekend returns the weekend after the upcoming one
func nextWeekend(today models.Date) []models.Date {
	sat := today.AddDays(daysUntil(today.Weekday(), time.Saturday))
	if today.Weekday() == time.Sunday {
		sat = today.AddDays(-1)
	}
	sat = sat.AddDays(7)
	return []models.Date{sat, sat.AddDays(1)}
}

type timeRule struct {
	pattern *regexp.Regexp
	resolve func(m []string, evening bool) (models.TimeOfDay, bool)
	// hourGroup is the submatch holding a clock hour with no meridiem, or 0
	hourGroup int
}

var eveningPattern = regexp.MustCompile(`(?i)\b(?:tonight|evening|afternoon)\b`)

var timeRules = []timeRule{
	{
		// 5pm, 5:30 p.m., at 11am
		pattern: regexp.MustCompile(`(?i)\b(?:at\s+)?(1[0-2]|0?[1-9])(?::([0-5]\d))?\s*([ap])\.?m\b\.?`),
		resolve: func(m []string, _ bool) (models.TimeOfDay, bool) {
			h, _ := strconv.Atoi(m[1])
			minute := 0
			if m[2] != "" {
				minute, _ = strconv.Atoi(m[2])
			}
			pm := strings.EqualFold(m[3], "p")
			switch {
			case pm && h != 12:
				h += 12
			case !pm && h == 12:
				h = 0
			}
			return models.TimeOfDay{Hour: h, Minute: minute}, true
		},
	},
	{
		// 17:30, at 5:30
		pattern: regexp.MustCompile(`(?i)\b(?:at\s+)?([01]?\d|2[0-3]):([0-5]\d)\b`),
		resolve: func(m []string, evening bool) (models.TimeOfDay, bool) {
			h, _ := strconv.Atoi(m[1])
			minute, _ := strconv.Atoi(m[2])
			if evening && h >= 1 && h < 12 {
				h += 12
			}
			return models.TimeOfDay{Hour: h, Minute: minute}, true
		},
		hourGroup: 1,
	},
	{
		pattern: regexp.MustCompile(`(?i)\b(?:at\s+)?(noon|midday|midnight)\b`),
		resolve: func(m []string, _ bool) (models.TimeOfDay, bool) {
			if strings.EqualFold(m[1], "midnight") {
				return models.TimeOfDay{}, true
			}
			return models.TimeOfDay{Hour: 12}, true
		},
	},
	{
		// at 7, at 19, at 7 o'clock
		pattern: regexp.MustCompile(`(?i)\bat\s+([01]?\d|2[0-3])(?:\s*o'?clock)?\b`),
		resolve: func(m []string, evening bool) (models.TimeOfDay, bool) {
			h, _ := strconv.Atoi(m[1])
			if evening && h >= 1 && h < 12 {
				h += 12
			}
			return models.TimeOfDay{Hour: h}, true
		},
		hourGroup: 1,
	},
}

// ambiguousHour reports whether a meridiem-less hour could be morning or
// afternoon: 1 to 11 written without a leading zero.
func ambiguousHour(hour string) bool {
	if hour == "" || hour[0] == '0' {
		return false
	}
	h, err := strconv.Atoi(hour)
	return err == nil && h >= 1 && h <= 11
}

var (
	fillerPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:please\s+)?(?:can\s+you\s+)?remind\s+me\s+(?:to|about|that)\b`),
		regexp.MustCompile(`(?i)\bremind\s+me\b`),
		regexp.MustCompile(`(?i)\b(?:don'?t|do\s+not)\s+(?:let\s+me\s+)?forget\s+(?:to\b)?`),
		regexp.MustCompile(`(?i)\bi\s+(?:need|have|want)\s+to\b`),
		regexp.MustCompile(`(?i)\bplease\b`),
	}
	trailingWords = map[string]bool{
		"on": true, "at": true, "by": true, "for": true, "in": true, "this": true,
		"the": true, "to": true, "and": true, "every": true, "next": true,
	}
	leadingWords      = map[string]bool{"to": true, "on": true, "at": true, "and": true, "by": true}
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// ruleResult is what the grammar found
type ruleResult struct {
	Description string
	Dates       []models.Date
	ExactTime   *models.TimeOfDay
	// MatchedDate is false when no date phrase matched and today was assumed
	MatchedDate bool
}

// RuleProvider is the deterministic grammar. It never fails on non-empty text.
type RuleProvider struct{}

// NewRuleProvider creates the rule-based provider
func NewRuleProvider() *RuleProvider {
	return &RuleProvider{}
}

// Name implements Provider
func (p *RuleProvider) Name() string { return string(SourceRules) }

// Parse implements Provider
func (p *RuleProvider) Parse(_ context.Context, req ParseRequest) (*StructuredIntent, error) {
	loc := req.Location
	if loc == nil {
		loc = time.Local
	}
	res := p.resolve(req.Text, req.Now.In(loc))

	intent := &StructuredIntent{Task: res.Description}
	for _, d := range res.Dates {
		intent.Dates = append(intent.Dates, d.String())
	}
	if res.ExactTime != nil {
		intent.Times = []string{res.ExactTime.String()}
	}
	return intent, nil
}

// resolve applies the grammar to text; now must already be in the user's location
func (p *RuleProvider) resolve(text string, now time.Time) ruleResult {
	today := models.DateOf(now)
	var spans [][]int
	res := ruleResult{}

	for _, rule := range dateRules {
		loc := rule.pattern.FindStringSubmatchIndex(text)
		if loc == nil {
			continue
		}
		dates := rule.resolve(today, submatches(text, loc))
		if len(dates) == 0 {
			continue
		}
		res.Dates = dates
		res.MatchedDate = true
		spans = append(spans, loc[:2])
		break
	}

	evening := eveningPattern.MatchString(text)
	ambiguous := false
	for _, rule := range timeRules {
		loc := rule.pattern.FindStringSubmatchIndex(text)
		if loc == nil {
			continue
		}
		tod, ok := rule.resolve(submatches(text, loc), evening)
		if !ok || !tod.Valid() {
			continue
		}
		res.ExactTime = &tod
		spans = append(spans, loc[:2])
		if rule.hourGroup > 0 && !evening {
			ambiguous = ambiguousHour(submatches(text, loc)[rule.hourGroup])
		}
		break
	}

	if !res.MatchedDate {
		res.Dates = []models.Date{today}
		// A clock time that already passed today means its next occurrence:
		// the afternoon for "at 3:15" seen before 15:15, otherwise tomorrow
		if res.ExactTime != nil && !today.At(*res.ExactTime, now.Location()).After(now) {
			afternoon := *res.ExactTime
			afternoon.Hour += 12
			if ambiguous && today.At(afternoon, now.Location()).After(now) {
				res.ExactTime = &afternoon
			} else {
				res.Dates = []models.Date{today.AddDays(1)}
			}
		}
	}

	res.Description = cleanDescription(text, spans)
	return res
}

func submatches(text string, loc []int) []string {
	out := make([]string, len(loc)/2)
	for i := range out {
		if loc[2*i] >= 0 {
			out[i] = text[loc[2*i]:loc[2*i+1]]
		}
	}
	return out
}

// cleanDescription removes matched date/time phrases and filler, keeping the
// user's casing. It falls back to the trimmed raw text when nothing is left.
func cleanDescription(text string, spans [][]int) string {
	cleaned := []byte(text)
	for _, span := range spans {
		for i := span[0]; i < span[1]; i++ {
			cleaned[i] = ' '
		}
	}
	s := string(cleaned)
	for _, p := range fillerPatterns {
		s = p.ReplaceAllString(s, " ")
	}
	s = whitespacePattern.ReplaceAllString(s, " ")
	s = trimDangling(s)

	if s == "" {
		return strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))
	}
	return s
}

func trimDangling(s string) string {
	words := strings.Fields(strings.Trim(s, " \t,.;:!?-"))
	for len(words) > 0 && trailingWords[strings.ToLower(strings.Trim(words[len(words)-1], ",.;:!?"))] {
		words = words[:len(words)-1]
	}
	for len(words) > 0 && leadingWords[strings.ToLower(strings.Trim(words[0], ",.;:!?"))] {
		words = words[1:]
	}
	return strings.Trim(strings.Join(words, " "), " ,.;:!?-")
}

var _ Provider = (*RuleProvider)(nil)
