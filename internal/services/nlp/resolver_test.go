package nlp

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/benvon/smart-reminder/internal/clock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type mockProvider struct {
	parseFunc func(ctx context.Context, req ParseRequest) (*StructuredIntent, error)
}

func (m *mockProvider) Parse(ctx context.Context, req ParseRequest) (*StructuredIntent, error) {
	return m.parseFunc(ctx, req)
}

func (m *mockProvider) Name() string { return "mock" }

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	tests := []struct {
		name        string
		provider    Provider
		text        string
		source      Source
		description string
		dates       []string
	}{
		{
			name: "ai result accepted",
			provider: &mockProvider{parseFunc: func(_ context.Context, req ParseRequest) (*StructuredIntent, error) {
				if req.Text != "call mom on the weekend" {
					t.Errorf("Expected text to be passed through, got %q", req.Text)
				}
				return &StructuredIntent{Task: "call mom", Dates: []string{"2026-03-07", "2026-03-08"}}, nil
			}},
			text:        "call mom on the weekend",
			source:      SourceAI,
			description: "call mom",
			dates:       []string{"2026-03-07", "2026-03-08"},
		},
		{
			name:        "no provider uses rules",
			provider:    nil,
			text:        "buy milk tomorrow",
			source:      SourceRules,
			description: "buy milk",
			dates:       []string{"2026-03-05"},
		},
		{
			name: "provider error falls back",
			provider: &mockProvider{parseFunc: func(context.Context, ParseRequest) (*StructuredIntent, error) {
				return nil, errors.New("connection refused")
			}},
			text:        "buy milk tomorrow",
			source:      SourceRules,
			description: "buy milk",
			dates:       []string{"2026-03-05"},
		},
		{
			name: "malformed result falls back",
			provider: &mockProvider{parseFunc: func(context.Context, ParseRequest) (*StructuredIntent, error) {
				return &StructuredIntent{Task: "buy milk", Dates: []string{"2020-01-01"}}, nil
			}},
			text:        "buy milk tomorrow",
			source:      SourceRules,
			description: "buy milk",
			dates:       []string{"2026-03-05"},
		},
		{
			name: "provider panic falls back",
			provider: &mockProvider{parseFunc: func(context.Context, ParseRequest) (*StructuredIntent, error) {
				panic("boom")
			}},
			text:        "buy milk tomorrow",
			source:      SourceRules,
			description: "buy milk",
			dates:       []string{"2026-03-05"},
		},
		{
			name: "provider ignoring deadline is abandoned",
			provider: &mockProvider{parseFunc: func(context.Context, ParseRequest) (*StructuredIntent, error) {
				<-block
				return nil, nil
			}},
			text:        "buy milk tomorrow",
			source:      SourceRules,
			description: "buy milk",
			dates:       []string{"2026-03-05"},
		},
		{
			name: "nothing matched is default",
			provider: &mockProvider{parseFunc: func(ctx context.Context, _ ParseRequest) (*StructuredIntent, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			}},
			text:        "  buy   milk ",
			source:      SourceDefault,
			description: "buy milk",
			dates:       []string{"2026-03-04"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := NewResolver(tt.provider, clock.NewFake(wednesday), time.UTC, 50*time.Millisecond, nil)
			res := r.Resolve(context.Background(), tt.text, nil)
			if res.Source != tt.source {
				t.Errorf("Expected source %s, got %s", tt.source, res.Source)
			}
			if res.Description != tt.description {
				t.Errorf("Expected description %q, got %q", tt.description, res.Description)
			}
			if !equalDates(res.Dates, dates(tt.dates...)) {
				t.Errorf("Expected dates %v, got %v", tt.dates, res.Dates)
			}
		})
	}
}

func TestFormatIntent(t *testing.T) {
	t.Parallel()

	r := NewResolver(nil, clock.NewFake(wednesday), time.UTC, 0, nil)
	out := FormatIntent(r.Resolve(context.Background(), "submit report at 5pm tomorrow", nil))
	for _, want := range []string{"description: submit report", "dates:       2026-03-05", "time:        17:00", "source:      rules"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestResolver_LogsDroppedTimes(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	provider := &mockProvider{parseFunc: func(context.Context, ParseRequest) (*StructuredIntent, error) {
		return &StructuredIntent{Task: "meds", Dates: []string{"2026-03-05"}, Times: []string{"08:00", "20:00"}}, nil
	}}
	r := NewResolver(provider, clock.NewFake(wednesday), time.UTC, 50*time.Millisecond, zap.New(core))

	res := r.Resolve(context.Background(), "meds at 8 and 8 tomorrow", nil)
	if res.Source != SourceAI || res.ExactTime == nil || res.ExactTime.String() != "08:00" {
		t.Fatalf("Expected the provider result with 08:00, got %+v", res)
	}

	entries := logs.FilterMessage("nlp_extra_times_ignored").All()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 warning, got %d", len(entries))
	}
	dropped, ok := entries[0].ContextMap()["dropped"].([]interface{})
	if !ok || len(dropped) != 1 || dropped[0] != "20:00" {
		t.Errorf("Expected dropped [20:00], got %v", entries[0].ContextMap()["dropped"])
	}
}
