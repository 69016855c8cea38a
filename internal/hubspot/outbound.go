package hubspot

import (
	"context"
	"log"
	"strconv"
	"time"

	"trsrevos/api/internal/store"
)

// Stats counts synced objects per type for one direction.
type Stats struct {
	Deals     int `json:"deals"`
	Companies int `json:"companies"`
	Contacts  int `json:"contacts"`
}

// Store is the persistence surface the syncer needs.
type Store interface {
	ClaimDirtyOpportunities(ctx context.Context, limit int, lease time.Duration) ([]store.Opportunity, error)
	MarkOpportunitySynced(ctx context.Context, id string) error
	SetOpportunitySyncError(ctx context.Context, id, message string) error
	UpsertOpportunity(ctx context.Context, o store.Opportunity) error
	ApplyOpportunityPatch(ctx context.Context, id string, patch store.OpportunityPatch) error

	ClaimDirtyClients(ctx context.Context, limit int, lease time.Duration) ([]store.Client, error)
	MarkClientSynced(ctx context.Context, id string) error
	SetClientSyncError(ctx context.Context, id, message string) error
	UpsertClient(ctx context.Context, c store.Client) error
	ApplyClientPatch(ctx context.Context, id string, patch store.ClientPatch) error

	ClaimDirtyContacts(ctx context.Context, limit int, lease time.Duration) ([]store.Contact, error)
	MarkContactSynced(ctx context.Context, id string) error
	SetContactSyncError(ctx context.Context, id, message string) error
	UpsertContact(ctx context.Context, c store.Contact) error
	ApplyContactPatch(ctx context.Context, id string, patch store.ContactPatch) error
	UpdateContactNamePart(ctx context.Context, id, part, value string) error

	InsertSyncLog(ctx context.Context, entry store.SyncLogEntry) error
}

// API is the slice of the HubSpot client the syncer calls.
type API interface {
	UpdateObject(ctx context.Context, objectType, externalID string, properties map[string]string) error
	ListObjects(ctx context.Context, objectType string, limit int, properties []string) ([]Object, error)
}

// Syncer pushes dirty local records out and pulls CRM state in.
type Syncer struct {
	store     Store
	api       API
	batchSize int
	lease     time.Duration
}

func NewSyncer(st Store, api API, batchSize int) *Syncer {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Syncer{
		store:     st,
		api:       api,
		batchSize: batchSize,
		lease:     2 * time.Minute,
	}
}

// SyncOutbound pushes records flagged needs_sync to HubSpot. A record whose
// id carries no HubSpot prefix has no remote counterpart and is skipped.
// Failures never abort the batch; the failed record keeps needs_sync set and
// gets its error recorded, so the next run re-selects it.
func (s *Syncer) SyncOutbound(ctx context.Context) Stats {
	var stats Stats
	stats.Deals = s.outboundDeals(ctx)
	stats.Companies = s.outboundCompanies(ctx)
	stats.Contacts = s.outboundContacts(ctx)
	log.Printf("outbound sync complete: %d deals, %d companies, %d contacts",
		stats.Deals, stats.Companies, stats.Contacts)
	return stats
}

func (s *Syncer) outboundDeals(ctx context.Context) int {
	opportunities, err := s.store.ClaimDirtyOpportunities(ctx, s.batchSize, s.lease)
	if err != nil {
		log.Printf("outbound: fetch opportunities: %v", err)
		return 0
	}

	updated := 0
	for _, opp := range opportunities {
		recordID := ParseRecordID(opp.ID, DealIDPrefix)
		if recordID.Source != SourceHubSpot {
			log.Printf("skipping opportunity %s: not a HubSpot-sourced deal", opp.ID)
			continue
		}

		properties := map[string]string{
			"dealname":                  opp.Name,
			"amount":                    formatAmount(opp.Amount),
			"dealstage":                 StageToHubSpot(opp.Stage),
			"closedate":                 deref(opp.CloseDate),
			"hs_deal_stage_probability": strconv.Itoa(opp.Probability),
		}

		if err := s.api.UpdateObject(ctx, "deals", recordID.ExternalID, properties); err != nil {
			s.recordOpportunityFailure(ctx, opp.ID, err)
			continue
		}

		if err := s.store.MarkOpportunitySynced(ctx, opp.ID); err != nil {
			log.Printf("outbound: mark opportunity %s synced: %v", opp.ID, err)
			continue
		}
		s.recordOutboundSuccess(ctx, "opportunity", opp.ID, "Synced to HubSpot deal "+recordID.ExternalID)
		updated++
	}
	return updated
}

func (s *Syncer) outboundCompanies(ctx context.Context) int {
	clients, err := s.store.ClaimDirtyClients(ctx, s.batchSize, s.lease)
	if err != nil {
		log.Printf("outbound: fetch clients: %v", err)
		return 0
	}

	updated := 0
	for _, client := range clients {
		recordID := ParseRecordID(client.ID, CompanyIDPrefix)
		if recordID.Source != SourceHubSpot {
			log.Printf("skipping client %s: not a HubSpot-sourced company", client.ID)
			continue
		}

		properties := map[string]string{
			"name":           client.Name,
			"annualrevenue":  formatAmount(client.ARR),
			"industry":       deref(client.Industry),
			"country":        client.Region,
			"lifecyclestage": PhaseToHubSpot(client.Phase),
		}

		if err := s.api.UpdateObject(ctx, "companies", recordID.ExternalID, properties); err != nil {
			s.recordClientFailure(ctx, client.ID, err)
			continue
		}

		if err := s.store.MarkClientSynced(ctx, client.ID); err != nil {
			log.Printf("outbound: mark client %s synced: %v", client.ID, err)
			continue
		}
		s.recordOutboundSuccess(ctx, "client", client.ID, "Synced to HubSpot company "+recordID.ExternalID)
		updated++
	}
	return updated
}

func (s *Syncer) outboundContacts(ctx context.Context) int {
	contacts, err := s.store.ClaimDirtyContacts(ctx, s.batchSize, s.lease)
	if err != nil {
		log.Printf("outbound: fetch contacts: %v", err)
		return 0
	}

	updated := 0
	for _, contact := range contacts {
		recordID := ParseRecordID(contact.ID, ContactIDPrefix)
		if recordID.Source != SourceHubSpot {
			log.Printf("skipping contact %s: not a HubSpot-sourced contact", contact.ID)
			continue
		}

		first, last := SplitName(contact.Name)
		properties := map[string]string{
			"firstname": first,
			"lastname":  last,
			"email":     deref(contact.Email),
			"jobtitle":  deref(contact.Role),
			"phone":     deref(contact.Phone),
		}

		if err := s.api.UpdateObject(ctx, "contacts", recordID.ExternalID, properties); err != nil {
			s.recordContactFailure(ctx, contact.ID, err)
			continue
		}

		if err := s.store.MarkContactSynced(ctx, contact.ID); err != nil {
			log.Printf("outbound: mark contact %s synced: %v", contact.ID, err)
			continue
		}
		s.recordOutboundSuccess(ctx, "contact", contact.ID, "Synced to HubSpot contact "+recordID.ExternalID)
		updated++
	}
	return updated
}

func (s *Syncer) recordOutboundSuccess(ctx context.Context, objectType, objectID, message string) {
	now := time.Now()
	if err := s.store.InsertSyncLog(ctx, store.SyncLogEntry{
		ObjectType:  objectType,
		ObjectID:    objectID,
		Direction:   "outbound",
		Status:      "success",
		Message:     message,
		CompletedAt: &now,
	}); err != nil {
		log.Printf("outbound: write success log for %s: %v", objectID, err)
	}
}

func (s *Syncer) recordOpportunityFailure(ctx context.Context, objectID string, cause error) {
	log.Printf("outbound: sync opportunity %s: %v", objectID, cause)
	if err := s.store.SetOpportunitySyncError(ctx, objectID, cause.Error()); err != nil {
		log.Printf("outbound: record sync error for %s: %v", objectID, err)
	}
	s.insertFailureLog(ctx, "opportunity", objectID, cause)
}

func (s *Syncer) recordClientFailure(ctx context.Context, objectID string, cause error) {
	log.Printf("outbound: sync client %s: %v", objectID, cause)
	if err := s.store.SetClientSyncError(ctx, objectID, cause.Error()); err != nil {
		log.Printf("outbound: record sync error for %s: %v", objectID, err)
	}
	s.insertFailureLog(ctx, "client", objectID, cause)
}

func (s *Syncer) recordContactFailure(ctx context.Context, objectID string, cause error) {
	log.Printf("outbound: sync contact %s: %v", objectID, cause)
	if err := s.store.SetContactSyncError(ctx, objectID, cause.Error()); err != nil {
		log.Printf("outbound: record sync error for %s: %v", objectID, err)
	}
	s.insertFailureLog(ctx, "contact", objectID, cause)
}

func (s *Syncer) insertFailureLog(ctx context.Context, objectType, objectID string, cause error) {
	details := cause.Error()
	if err := s.store.InsertSyncLog(ctx, store.SyncLogEntry{
		ObjectType:   objectType,
		ObjectID:     objectID,
		Direction:    "outbound",
		Status:       "error",
		Message:      "Failed to sync to HubSpot",
		ErrorDetails: &details,
	}); err != nil {
		log.Printf("outbound: write failure log for %s: %v", objectID, err)
	}
}

func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
