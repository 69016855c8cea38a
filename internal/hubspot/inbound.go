package hubspot

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"strings"

	"trsrevos/api/internal/store"
)

const inboundPageSize = 100

// SyncInbound pulls a full refresh from HubSpot. Companies sync first so
// deals and contacts can reference client ids.
func (s *Syncer) SyncInbound(ctx context.Context) Stats {
	var stats Stats
	stats.Companies = s.inboundCompanies(ctx)
	stats.Deals = s.inboundDeals(ctx)
	stats.Contacts = s.inboundContacts(ctx)
	log.Printf("inbound sync complete: %d companies, %d deals, %d contacts",
		stats.Companies, stats.Deals, stats.Contacts)
	return stats
}

func (s *Syncer) inboundDeals(ctx context.Context) int {
	results, err := s.api.ListObjects(ctx, "deals", inboundPageSize, []string{
		"dealname", "amount", "dealstage", "closedate", "pipeline",
		"hubspot_owner_id", "hs_deal_stage_probability", "hs_lastmodifieddate", "description",
	})
	if err != nil {
		log.Printf("inbound: fetch deals: %v", err)
		return 0
	}

	synced := 0
	for _, deal := range results {
		props := deal.Properties
		name := props["dealname"]
		if name == "" {
			name = "Untitled Deal"
		}
		opp := opportunityFromDeal(deal.ID, name, props)
		opp.CreatedAt = deal.CreatedAt
		opp.UpdatedAt = deal.UpdatedAt
		if err := s.store.UpsertOpportunity(ctx, opp); err != nil {
			log.Printf("inbound: sync deal %s: %v", deal.ID, err)
			continue
		}
		synced++
	}
	return synced
}

func (s *Syncer) inboundCompanies(ctx context.Context) int {
	results, err := s.api.ListObjects(ctx, "companies", inboundPageSize, []string{
		"name", "domain", "industry", "country", "annualrevenue",
		"hubspot_owner_id", "hs_lastmodifieddate", "lifecyclestage",
	})
	if err != nil {
		log.Printf("inbound: fetch companies: %v", err)
		return 0
	}

	synced := 0
	for _, company := range results {
		props := company.Properties
		client := clientFromCompany(company.ID, props)
		client.CreatedAt = company.CreatedAt
		client.UpdatedAt = company.UpdatedAt
		if err := s.store.UpsertClient(ctx, client); err != nil {
			log.Printf("inbound: sync company %s: %v", company.ID, err)
			continue
		}
		synced++
	}
	return synced
}

func (s *Syncer) inboundContacts(ctx context.Context) int {
	results, err := s.api.ListObjects(ctx, "contacts", inboundPageSize, []string{
		"firstname", "lastname", "email", "jobtitle", "phone",
		"hubspot_owner_id", "hs_lastmodifieddate",
	})
	if err != nil {
		log.Printf("inbound: fetch contacts: %v", err)
		return 0
	}

	synced := 0
	for _, contact := range results {
		props := contact.Properties
		item := contactFromRemote(contact.ID, props)
		item.CreatedAt = contact.CreatedAt
		item.UpdatedAt = contact.UpdatedAt
		if err := s.store.UpsertContact(ctx, item); err != nil {
			log.Printf("inbound: sync contact %s: %v", contact.ID, err)
			continue
		}
		synced++
	}
	return synced
}

func opportunityFromDeal(externalID, name string, props map[string]string) store.Opportunity {
	ownerID := props["hubspot_owner_id"]
	clientRef := ownerID
	if clientRef == "" {
		clientRef = "unknown"
	}
	return store.Opportunity{
		ID: dealLocalID(externalID),
		// Placeholder until company associations are fetched.
		ClientID:    companyLocalID(clientRef),
		Name:        name,
		Amount:      parseAmount(props["amount"]),
		Stage:       StageFromHubSpot(props["dealstage"]),
		Probability: parseProbability(props["hs_deal_stage_probability"]),
		CloseDate:   optional(props["closedate"]),
		OwnerID:     ownerLocalID(ownerID),
		Notes:       notesFromDescription(props["description"]),
	}
}

func clientFromCompany(externalID string, props map[string]string) store.Client {
	name := props["name"]
	if name == "" {
		name = "Untitled Company"
	}
	region := props["country"]
	if region == "" {
		region = "Unknown"
	}
	arr := parseAmount(props["annualrevenue"])
	status := "churned"
	if props["lifecyclestage"] == "customer" {
		status = "active"
	}
	return store.Client{
		ID:       companyLocalID(externalID),
		Name:     name,
		ARR:      arr,
		Segment:  SegmentForARR(arr),
		Phase:    PhaseFromHubSpot(props["lifecyclestage"]),
		Industry: optional(props["industry"]),
		Region:   region,
		OwnerID:  ownerLocalID(props["hubspot_owner_id"]),
		// Defaults until health telemetry recalculates them.
		Health:    75,
		ChurnRisk: 10,
		Status:    status,
	}
}

func contactFromRemote(externalID string, props map[string]string) store.Contact {
	name := strings.TrimSpace(props["firstname"] + " " + props["lastname"])
	if name == "" {
		name = "Unnamed Contact"
	}
	return store.Contact{
		ID:    contactLocalID(externalID),
		Name:  name,
		Email: optional(props["email"]),
		Role:  optional(props["jobtitle"]),
		Power: PowerForTitle(props["jobtitle"]),
		Phone: optional(props["phone"]),
	}
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func parseAmount(value string) float64 {
	amount, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return amount
}

func parseProbability(value string) int {
	probability, err := strconv.Atoi(value)
	if err != nil {
		// HubSpot sometimes sends the probability as a decimal.
		if f, ferr := strconv.ParseFloat(value, 64); ferr == nil {
			return int(f)
		}
		return 0
	}
	return probability
}

func notesFromDescription(description string) string {
	if description == "" {
		return "[]"
	}
	encoded, err := json.Marshal([]map[string]string{{"body": description}})
	if err != nil {
		return "[]"
	}
	return string(encoded)
}
