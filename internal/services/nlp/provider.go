// Package nlp resolves free-form task utterances into a description, dates and an optional clock time.
package nlp

import (
	"context"
	"time"

	"github.com/benvon/smart-reminder/internal/models"
)

// Provider turns text into a structured intent. Implementations may fail;
// the Resolver treats any failure as a signal to fall back.
type Provider interface {
	Parse(ctx context.Context, req ParseRequest) (*StructuredIntent, error)
	Name() string
}

// ParseRequest is the input to a Provider
type ParseRequest struct {
	Text     string
	Now      time.Time
	Location *time.Location
	Recent   []TaskSummary
}

// TaskSummary describes a pending task so providers can avoid proposing duplicates
type TaskSummary struct {
	ID          string `json:"id"`
	Description string `json:"task"`
	Date        string `json:"date"`
	ExactTime   string `json:"time,omitempty"`
}

// SummarizeTasks converts pending tasks into provider context
func SummarizeTasks(tasks []*models.Task) []TaskSummary {
	out := make([]TaskSummary, 0, len(tasks))
	for _, t := range tasks {
		s := TaskSummary{ID: t.ID.String(), Description: t.Description, Date: t.Date.String()}
		if t.ExactTime != nil {
			s.ExactTime = t.ExactTime.String()
		}
		out = append(out, s)
	}
	return out
}

// StructuredIntent is the raw, unvalidated provider result
type StructuredIntent struct {
	Task    string   `json:"task"`
	Dates   []string `json:"dates"`
	Times   []string `json:"times,omitempty"`
	StartAt string   `json:"start_at,omitempty"`
}

// Source records which tier produced a resolution
type Source string

const (
	// SourceAI means the AI-assisted tier's result passed validation
	SourceAI Source = "ai"
	// SourceRules means the deterministic grammar produced the result
	SourceRules Source = "rules"
	// SourceDefault means nothing matched: raw text, today
	SourceDefault Source = "default"
)

// ResolvedIntent is a validated resolution. Dates is never empty.
type ResolvedIntent struct {
	Description string            `json:"description"`
	Dates       []models.Date     `json:"dates"`
	ExactTime   *models.TimeOfDay `json:"exact_time,omitempty"`
	Source      Source            `json:"source"`
	// DroppedTimes are provider times after the first; only one exact time applies per task
	DroppedTimes []models.TimeOfDay `json:"-"`
}
