package brief

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"trsrevos/api/internal/store"
)

type fakeStore struct {
	snapshot      store.PipelineSnapshot
	openInvoices  int
	focusSessions int
	open          []store.Opportunity

	focusUserID string
	focusSince  time.Time
	openLimit   int

	snapshotErr error
}

func (f *fakeStore) PipelineSnapshot(context.Context) (store.PipelineSnapshot, error) {
	if f.snapshotErr != nil {
		return store.PipelineSnapshot{}, f.snapshotErr
	}
	return f.snapshot, nil
}

func (f *fakeStore) CountOpenInvoices(context.Context) (int, error) {
	return f.openInvoices, nil
}

func (f *fakeStore) CountFocusSessionsSince(_ context.Context, userID string, since time.Time) (int, error) {
	f.focusUserID = userID
	f.focusSince = since
	return f.focusSessions, nil
}

func (f *fakeStore) ListOpenOpportunities(_ context.Context, limit int) ([]store.Opportunity, error) {
	f.openLimit = limit
	return f.open, nil
}

func strPtr(s string) *string { return &s }

func fixedTime() time.Time {
	return time.Date(2026, 8, 31, 14, 45, 0, 0, time.UTC)
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestScore(t *testing.T) {
	cases := []struct {
		name      string
		candidate Candidate
		want      float64
	}{
		{
			name: "incremental",
			candidate: Candidate{
				ExpectedImpact: 10000,
				Probability:    0.5,
				Urgency:        1.0,
				Confidence:     0.6,
				EffortHours:    6,
				Classification: "Incremental",
			},
			want: 10000 * 0.5 * 1.0 * 0.6 / 6,
		},
		{
			name: "brilliant weight",
			candidate: Candidate{
				ExpectedImpact: 300000,
				Probability:    0.8,
				Urgency:        0.6,
				Confidence:     0.9,
				EffortHours:    2,
				Classification: "Brilliant",
			},
			want: 300000 * 0.8 * 0.6 * 0.9 / 2 * 1.3,
		},
		{
			name: "stabilization weight",
			candidate: Candidate{
				ExpectedImpact: 60000,
				Probability:    0.5,
				Urgency:        0.5,
				Confidence:     0.75,
				EffortHours:    4,
				Classification: "Stabilization",
			},
			want: 60000 * 0.5 * 0.5 * 0.75 / 4 * 1.15,
		},
		{
			name: "effort floors at one hour",
			candidate: Candidate{
				ExpectedImpact: 1000,
				Probability:    1,
				Urgency:        1,
				Confidence:     1,
				EffortHours:    0,
				Classification: "Incremental",
			},
			want: 1000,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Score(tc.candidate); !almostEqual(got, tc.want) {
				t.Errorf("Score = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestUrgencyForCloseDate(t *testing.T) {
	now := fixedTime()
	cases := []struct {
		name      string
		closeDate *string
		want      float64
	}{
		{"nil close date", nil, 0.5},
		{"empty close date", strPtr(""), 0.5},
		{"garbage close date", strPtr("eventually"), 0.5},
		{"imminent", strPtr("2026-09-05"), 1.0},
		{"this quarter", strPtr("2026-10-01"), 0.6},
		{"distant", strPtr("2027-01-15"), 0.3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := urgencyForCloseDate(tc.closeDate, now); got != tc.want {
				t.Errorf("urgency = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestWinRate(t *testing.T) {
	if got := winRate(0, 0); got != 0 {
		t.Errorf("winRate(0,0) = %v, want 0", got)
	}
	if got := winRate(3, 1); got != 0.75 {
		t.Errorf("winRate(3,1) = %v, want 0.75", got)
	}
}

func TestRankPrioritiesKeepsTopThree(t *testing.T) {
	now := fixedTime()
	open := []store.Opportunity{
		{ID: "opp-1", Name: "Acme renewal", Amount: 300000, Stage: "Negotiation", Probability: 80, CloseDate: strPtr("2026-09-10")},
		{ID: "opp-2", Name: "Globex pilot", Amount: 20000, Stage: "Prospect", Probability: 10},
		{ID: "opp-3", Name: "Initech expansion", Amount: 120000, Stage: "Proposal", Probability: 60, CloseDate: strPtr("2026-09-20")},
		{ID: "opp-4", Name: "Umbrella intro", Amount: 5000, Stage: "Prospect", Probability: 5},
		{ID: "opp-5", Name: "Stark upsell", Amount: 90000, Stage: "Qualify", Probability: 40, CloseDate: strPtr("2026-10-15")},
	}

	items := RankPriorities(open, now)
	if len(items) != 3 {
		t.Fatalf("got %d priorities, want 3", len(items))
	}
	if items[0].ID != "opp-1" {
		t.Errorf("top priority = %s, want opp-1", items[0].ID)
	}
	for i := 1; i < len(items); i++ {
		if items[i].Score > items[i-1].Score {
			t.Errorf("priorities out of order at %d: %v > %v", i, items[i].Score, items[i-1].Score)
		}
	}
	if items[0].Title != "Advance Acme renewal" {
		t.Errorf("title = %q", items[0].Title)
	}
	if items[0].Effort != "Low" {
		t.Errorf("negotiation effort = %q, want Low", items[0].Effort)
	}
	if items[0].ROIDollars != 300000 {
		t.Errorf("roi = %v", items[0].ROIDollars)
	}
}

func TestRankPrioritiesTieBreaksByID(t *testing.T) {
	now := fixedTime()
	twin := store.Opportunity{Name: "Twin", Amount: 10000, Stage: "Proposal", Probability: 50, CloseDate: strPtr("2026-09-05")}
	a, b := twin, twin
	a.ID = "opp-b"
	b.ID = "opp-a"

	items := RankPriorities([]store.Opportunity{a, b}, now)
	if len(items) != 2 {
		t.Fatalf("got %d priorities", len(items))
	}
	if items[0].ID != "opp-a" || items[1].ID != "opp-b" {
		t.Errorf("tie break order = %s, %s", items[0].ID, items[1].ID)
	}
}

func TestRankPrioritiesEmpty(t *testing.T) {
	items := RankPriorities(nil, fixedTime())
	if len(items) != 0 {
		t.Errorf("got %d priorities for empty pipeline", len(items))
	}
}

func TestBuild(t *testing.T) {
	st := &fakeStore{
		snapshot:      store.PipelineSnapshot{OpenAmount: 450000, OpenCount: 6, WonCount: 3, LostCount: 1},
		openInvoices:  4,
		focusSessions: 2,
		open: []store.Opportunity{
			{ID: "opp-1", Name: "Acme renewal", Amount: 300000, Stage: "Negotiation", Probability: 80, CloseDate: strPtr("2026-09-10")},
		},
	}

	builder := NewBuilder(st)
	builder.now = fixedTime
	brief, err := builder.Build(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if brief.UserID != "user-1" || brief.TimeHorizon != "today" {
		t.Errorf("brief identity = %q/%q", brief.UserID, brief.TimeHorizon)
	}
	if brief.Pipeline.OpenAmount != 450000 || brief.Pipeline.OpenCount != 6 {
		t.Errorf("pipeline = %+v", brief.Pipeline)
	}
	if brief.WinRate != 0.75 {
		t.Errorf("win rate = %v", brief.WinRate)
	}
	if brief.OpenInvoices != 4 || brief.FocusSessions != 2 {
		t.Errorf("counters = %d/%d", brief.OpenInvoices, brief.FocusSessions)
	}
	if len(brief.Priorities) != 1 || brief.Priorities[0].ID != "opp-1" {
		t.Errorf("priorities = %+v", brief.Priorities)
	}
	if !brief.GeneratedAt.Equal(fixedTime()) {
		t.Errorf("generated at = %v", brief.GeneratedAt)
	}

	wantSince := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	if !st.focusSince.Equal(wantSince) {
		t.Errorf("focus window start = %v, want %v", st.focusSince, wantSince)
	}
	if st.focusUserID != "user-1" {
		t.Errorf("focus user = %q", st.focusUserID)
	}
	if st.openLimit != 25 {
		t.Errorf("open opportunity limit = %d", st.openLimit)
	}
}

func TestBuildSurfacesStoreError(t *testing.T) {
	st := &fakeStore{snapshotErr: errors.New("db down")}

	builder := NewBuilder(st)
	builder.now = fixedTime
	if _, err := builder.Build(context.Background(), "user-1", "week"); err == nil {
		t.Fatal("expected error")
	}
}
