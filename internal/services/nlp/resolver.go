package nlp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/benvon/smart-reminder/internal/clock"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a primary provider call
const DefaultTimeout = 8 * time.Second

// Resolver runs the optional primary provider and falls back to the grammar.
// Resolve never returns an error.
type Resolver struct {
	primary  Provider
	rules    *RuleProvider
	clock    clock.Clock
	location *time.Location
	timeout  time.Duration
	logger   *zap.Logger
}

// NewResolver creates a resolver. primary may be nil to use only the rule tier.
func NewResolver(primary Provider, clk clock.Clock, location *time.Location, timeout time.Duration, logger *zap.Logger) *Resolver {
	if clk == nil {
		clk = clock.New()
	}
	if location == nil {
		location = time.Local
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		primary:  primary,
		rules:    NewRuleProvider(),
		clock:    clk,
		location: location,
		timeout:  timeout,
		logger:   logger,
	}
}

// Location returns the resolver's time zone
func (r *Resolver) Location() *time.Location {
	return r.location
}

// Resolve turns text into a description, one or more dates and an optional exact time
func (r *Resolver) Resolve(ctx context.Context, text string, recent []TaskSummary) ResolvedIntent {
	now := r.clock.Now().In(r.location)

	if r.primary != nil {
		res, err := r.tryPrimary(ctx, ParseRequest{Text: text, Now: now, Location: r.location, Recent: recent})
		if err == nil {
			if len(res.DroppedTimes) > 0 {
				dropped := make([]string, len(res.DroppedTimes))
				for i, tod := range res.DroppedTimes {
					dropped[i] = tod.String()
				}
				r.logger.Warn("nlp_extra_times_ignored",
					zap.String("provider", r.primary.Name()),
					zap.Stringer("exact_time", res.ExactTime),
					zap.Strings("dropped", dropped),
				)
			}
			return res
		}
		r.logger.Debug("nlp_provider_fallback",
			zap.String("provider", r.primary.Name()),
			zap.String("text", SanitizePrompt(text, false)),
			zap.Error(err),
		)
	}

	rule := r.rules.resolve(text, now)
	if !rule.MatchedDate && rule.ExactTime == nil {
		return ResolvedIntent{
			Description: rule.Description,
			Dates:       rule.Dates,
			Source:      SourceDefault,
		}
	}
	return ResolvedIntent{
		Description: rule.Description,
		Dates:       rule.Dates,
		ExactTime:   rule.ExactTime,
		Source:      SourceRules,
	}
}

// tryPrimary calls the primary provider under the timeout. A provider that
// ignores ctx is abandoned when the deadline passes; a panic counts as a failure.
func (r *Resolver) tryPrimary(ctx context.Context, req ParseRequest) (ResolvedIntent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		intent *StructuredIntent
		err    error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("%w: provider panic: %v", ErrProviderUnavailable, p)}
			}
		}()
		intent, err := r.primary.Parse(ctx, req)
		done <- result{intent: intent, err: err}
	}()

	select {
	case <-ctx.Done():
		return ResolvedIntent{}, classifyProviderError(ctx.Err())
	case res := <-done:
		if res.err != nil {
			return ResolvedIntent{}, classifyProviderError(res.err)
		}
		return validateIntent(res.intent, req.Now, req.Location)
	}
}

// FormatIntent renders an intent for CLI output
func FormatIntent(res ResolvedIntent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "description: %s\n", res.Description)
	dates := make([]string, len(res.Dates))
	for i, d := range res.Dates {
		dates[i] = d.String()
	}
	fmt.Fprintf(&b, "dates:       %s\n", strings.Join(dates, ", "))
	if res.ExactTime != nil {
		fmt.Fprintf(&b, "time:        %s\n", res.ExactTime)
	}
	fmt.Fprintf(&b, "source:      %s\n", res.Source)
	return b.String()
}
