// Package brief assembles the morning brief: pipeline totals, win rate,
// collection and focus counters, and a short ranked list of priorities.
package brief

import (
	"context"
	"sort"
	"time"

	"trsrevos/api/internal/store"
)

const topPriorities = 3

// Store is the read surface the brief pulls from.
type Store interface {
	PipelineSnapshot(ctx context.Context) (store.PipelineSnapshot, error)
	CountOpenInvoices(ctx context.Context) (int, error)
	CountFocusSessionsSince(ctx context.Context, userID string, since time.Time) (int, error)
	ListOpenOpportunities(ctx context.Context, limit int) ([]store.Opportunity, error)
}

// Pipeline summarizes open and settled deal volume.
type Pipeline struct {
	OpenAmount float64 `json:"open_amount"`
	OpenCount  int     `json:"open_count"`
	WonCount   int     `json:"won_count"`
	LostCount  int     `json:"lost_count"`
}

// PriorityItem is one ranked entry in the daily plan.
type PriorityItem struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Why        string  `json:"why"`
	ROIDollars float64 `json:"roi_dollars"`
	Effort     string  `json:"effort"`
	Score      float64 `json:"score"`
}

// Brief is the computed daily summary.
type Brief struct {
	UserID        string         `json:"user_id"`
	TimeHorizon   string         `json:"time_horizon"`
	Pipeline      Pipeline       `json:"pipeline"`
	WinRate       float64        `json:"win_rate"`
	OpenInvoices  int            `json:"open_invoices"`
	FocusSessions int            `json:"focus_sessions"`
	Priorities    []PriorityItem `json:"priorities"`
	GeneratedAt   time.Time      `json:"generated_at"`
}

// Builder computes briefs against the store.
type Builder struct {
	store Store
	now   func() time.Time
}

func NewBuilder(st Store) *Builder {
	return &Builder{store: st, now: time.Now}
}

// Build assembles the brief for one user. Focus sessions count from the
// start of the current UTC day.
func (b *Builder) Build(ctx context.Context, userID, timeHorizon string) (Brief, error) {
	if timeHorizon == "" {
		timeHorizon = "today"
	}
	now := b.now().UTC()

	snapshot, err := b.store.PipelineSnapshot(ctx)
	if err != nil {
		return Brief{}, err
	}
	openInvoices, err := b.store.CountOpenInvoices(ctx)
	if err != nil {
		return Brief{}, err
	}
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	focusSessions, err := b.store.CountFocusSessionsSince(ctx, userID, dayStart)
	if err != nil {
		return Brief{}, err
	}
	open, err := b.store.ListOpenOpportunities(ctx, 25)
	if err != nil {
		return Brief{}, err
	}

	return Brief{
		UserID:      userID,
		TimeHorizon: timeHorizon,
		Pipeline: Pipeline{
			OpenAmount: snapshot.OpenAmount,
			OpenCount:  snapshot.OpenCount,
			WonCount:   snapshot.WonCount,
			LostCount:  snapshot.LostCount,
		},
		WinRate:       winRate(snapshot.WonCount, snapshot.LostCount),
		OpenInvoices:  openInvoices,
		FocusSessions: focusSessions,
		Priorities:    RankPriorities(open, now),
		GeneratedAt:   now,
	}, nil
}

func winRate(won, lost int) float64 {
	settled := won + lost
	if settled == 0 {
		return 0
	}
	return float64(won) / float64(settled)
}

// RankPriorities scores open opportunities and keeps the top three.
// Ordering is deterministic: score descending, id ascending on ties.
func RankPriorities(open []store.Opportunity, now time.Time) []PriorityItem {
	items := make([]PriorityItem, 0, len(open))
	for _, opp := range open {
		candidate := candidateFromOpportunity(opp, now)
		items = append(items, PriorityItem{
			ID:         opp.ID,
			Title:      "Advance " + opp.Name,
			Why:        whyForStage(opp.Stage),
			ROIDollars: opp.Amount,
			Effort:     effortLabel(candidate.EffortHours),
			Score:      Score(candidate),
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ID < items[j].ID
	})
	if len(items) > topPriorities {
		items = items[:topPriorities]
	}
	return items
}

// Candidate carries the scoring inputs for one piece of work.
type Candidate struct {
	ExpectedImpact float64
	Probability    float64
	Urgency        float64
	Confidence     float64
	EffortHours    float64
	Classification string
}

// Score is expected impact discounted by probability, urgency, and
// confidence, divided by effort, then scaled by the strategic weight of the
// work's classification.
func Score(c Candidate) float64 {
	effort := c.EffortHours
	if effort < 1 {
		effort = 1
	}
	base := c.ExpectedImpact * c.Probability * c.Urgency * c.Confidence / effort
	return base * strategicWeight(c.Classification)
}

func strategicWeight(classification string) float64 {
	switch classification {
	case "Brilliant":
		return 1.3
	case "Stabilization":
		return 1.15
	default:
		return 1.0
	}
}

func candidateFromOpportunity(opp store.Opportunity, now time.Time) Candidate {
	return Candidate{
		ExpectedImpact: opp.Amount,
		Probability:    float64(opp.Probability) / 100,
		Urgency:        urgencyForCloseDate(opp.CloseDate, now),
		Confidence:     confidenceForStage(opp.Stage),
		EffortHours:    effortForStage(opp.Stage),
		Classification: classificationForAmount(opp.Amount),
	}
}

// urgencyForCloseDate rises as the close date approaches. Deals without a
// parseable close date sit in the middle.
func urgencyForCloseDate(closeDate *string, now time.Time) float64 {
	if closeDate == nil || *closeDate == "" {
		return 0.5
	}
	due, err := time.Parse("2006-01-02", *closeDate)
	if err != nil {
		return 0.5
	}
	days := due.Sub(now).Hours() / 24
	switch {
	case days <= 14:
		return 1.0
	case days <= 45:
		return 0.6
	default:
		return 0.3
	}
}

func confidenceForStage(stage string) float64 {
	switch stage {
	case "Negotiation":
		return 0.9
	case "Proposal":
		return 0.75
	case "Qualify":
		return 0.6
	default:
		return 0.4
	}
}

func effortForStage(stage string) float64 {
	switch stage {
	case "Negotiation":
		return 2
	case "Proposal":
		return 4
	case "Qualify":
		return 6
	default:
		return 8
	}
}

func classificationForAmount(amount float64) string {
	switch {
	case amount >= 250000:
		return "Brilliant"
	case amount >= 50000:
		return "Stabilization"
	default:
		return "Incremental"
	}
}

func effortLabel(hours float64) string {
	switch {
	case hours <= 2:
		return "Low"
	case hours <= 5:
		return "Med"
	default:
		return "High"
	}
}

func whyForStage(stage string) string {
	switch stage {
	case "Negotiation":
		return "Contract in flight, close it out"
	case "Proposal":
		return "Proposal pending a decision"
	case "Qualify":
		return "Qualification stalls kill pipelines"
	default:
		return "New pipeline needs first contact"
	}
}
