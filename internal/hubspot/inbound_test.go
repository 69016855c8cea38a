package hubspot

import (
	"context"
	"errors"
	"testing"
	"time"

	"trsrevos/api/internal/store"
)

func TestInboundOrderAndStats(t *testing.T) {
	var order []string
	api := &fakeAPI{
		listObjectsFn: func(_ context.Context, objectType string, limit int, _ []string) ([]Object, error) {
			order = append(order, objectType)
			if limit != 100 {
				t.Errorf("list %s limit = %d, want 100", objectType, limit)
			}
			switch objectType {
			case "companies":
				return []Object{{ID: "1", Properties: map[string]string{"name": "Acme"}}}, nil
			case "deals":
				return []Object{
					{ID: "10", Properties: map[string]string{"dealname": "Big One", "amount": "5000"}},
					{ID: "11", Properties: map[string]string{}},
				}, nil
			case "contacts":
				return []Object{{ID: "20", Properties: map[string]string{"firstname": "Ada"}}}, nil
			}
			return nil, nil
		},
	}
	st := &fakeStore{}

	stats := NewSyncer(st, api, 50).SyncInbound(context.Background())

	// Companies first so deals and contacts can reference client rows.
	want := []string{"companies", "deals", "contacts"}
	if len(order) != 3 || order[0] != want[0] || order[1] != want[1] || order[2] != want[2] {
		t.Errorf("fetch order = %v, want %v", order, want)
	}
	if stats.Companies != 1 || stats.Deals != 2 || stats.Contacts != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestInboundContinuesPastUpsertFailure(t *testing.T) {
	api := &fakeAPI{
		listObjectsFn: func(_ context.Context, objectType string, _ int, _ []string) ([]Object, error) {
			if objectType != "deals" {
				return nil, nil
			}
			return []Object{
				{ID: "1", Properties: map[string]string{"dealname": "First"}},
				{ID: "2", Properties: map[string]string{"dealname": "Second"}},
			}, nil
		},
	}
	st := &fakeStore{
		upsertOpportunityFn: func(_ context.Context, o store.Opportunity) error {
			if o.ID == "hs_1" {
				return errors.New("constraint violation")
			}
			return nil
		},
	}

	stats := NewSyncer(st, api, 50).SyncInbound(context.Background())
	if stats.Deals != 1 {
		t.Errorf("stats.Deals = %d, want 1", stats.Deals)
	}
}

func TestOpportunityFromDealDefaults(t *testing.T) {
	opp := opportunityFromDeal("77", "Untitled Deal", map[string]string{
		"amount":                    "12500.75",
		"dealstage":                 "presentationscheduled",
		"hs_deal_stage_probability": "62.4",
		"description":               "call went well",
	})
	if opp.ID != "hs_77" {
		t.Errorf("id = %q", opp.ID)
	}
	if opp.Amount != 12500.75 {
		t.Errorf("amount = %v", opp.Amount)
	}
	if opp.Stage != "Proposal" {
		t.Errorf("stage = %q", opp.Stage)
	}
	if opp.Probability != 62 {
		t.Errorf("probability = %d, want 62", opp.Probability)
	}
	if opp.OwnerID != "hs_owner_system" {
		t.Errorf("owner = %q, want hs_owner_system", opp.OwnerID)
	}
	if opp.Notes != `[{"body":"call went well"}]` {
		t.Errorf("notes = %q", opp.Notes)
	}
}

func TestClientFromCompanyDefaults(t *testing.T) {
	client := clientFromCompany("5", map[string]string{
		"annualrevenue":  "250000",
		"lifecyclestage": "customer",
	})
	if client.ID != "hs_company_5" {
		t.Errorf("id = %q", client.ID)
	}
	if client.Name != "Untitled Company" {
		t.Errorf("name = %q", client.Name)
	}
	if client.Segment != "Mid" {
		t.Errorf("segment = %q", client.Segment)
	}
	if client.Phase != "Architecture" {
		t.Errorf("phase = %q", client.Phase)
	}
	if client.Status != "active" {
		t.Errorf("status = %q", client.Status)
	}
	if client.Region != "Unknown" {
		t.Errorf("region = %q", client.Region)
	}
	if client.Health != 75 || client.ChurnRisk != 10 {
		t.Errorf("health/churn = %d/%d, want 75/10", client.Health, client.ChurnRisk)
	}
}

func TestContactFromRemoteDefaults(t *testing.T) {
	contact := contactFromRemote("3", map[string]string{"jobtitle": "CFO"})
	if contact.Name != "Unnamed Contact" {
		t.Errorf("name = %q", contact.Name)
	}
	if contact.Power != "Economic" {
		t.Errorf("power = %q, want Economic", contact.Power)
	}
	if contact.Email != nil {
		t.Errorf("email = %v, want nil", contact.Email)
	}
}

func TestNotesFromDescription(t *testing.T) {
	if got := notesFromDescription(""); got != "[]" {
		t.Errorf("empty description -> %q, want []", got)
	}
	if got := notesFromDescription("hello"); got != `[{"body":"hello"}]` {
		t.Errorf("got %q", got)
	}
}

func TestParseProbabilityDecimalFallback(t *testing.T) {
	if got := parseProbability("80"); got != 80 {
		t.Errorf("integer input -> %d", got)
	}
	if got := parseProbability("0.8"); got != 0 {
		t.Errorf("fractional input -> %d, want 0", got)
	}
	if got := parseProbability("62.4"); got != 62 {
		t.Errorf("decimal input -> %d, want 62", got)
	}
	if got := parseProbability("n/a"); got != 0 {
		t.Errorf("garbage input -> %d, want 0", got)
	}
}

func TestInboundSetsRemoteTimestamps(t *testing.T) {
	created := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	updated := time.Date(2026, 2, 1, 12, 30, 0, 0, time.UTC)
	api := &fakeAPI{
		listObjectsFn: func(_ context.Context, objectType string, _ int, _ []string) ([]Object, error) {
			if objectType != "companies" {
				return nil, nil
			}
			return []Object{{ID: "8", Properties: map[string]string{"name": "Helio"}, CreatedAt: created, UpdatedAt: updated}}, nil
		},
	}
	var got store.Client
	st := &fakeStore{
		upsertClientFn: func(_ context.Context, c store.Client) error {
			got = c
			return nil
		},
	}

	NewSyncer(st, api, 50).SyncInbound(context.Background())
	if !got.CreatedAt.Equal(created) || !got.UpdatedAt.Equal(updated) {
		t.Errorf("timestamps = %v / %v", got.CreatedAt, got.UpdatedAt)
	}
}
