package hubspot

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"trsrevos/api/internal/store"
)

// Event is a HubSpot webhook notification. HubSpot posts a JSON array of
// these on each delivery and retries the whole batch on failure, so
// EventID is the dedup key.
type Event struct {
	EventID          int64  `json:"eventId"`
	ObjectID         int64  `json:"objectId"`
	PropertyName     string `json:"propertyName"`
	PropertyValue    string `json:"propertyValue"`
	EventType        string `json:"eventType"`
	SubscriptionID   int64  `json:"subscriptionId"`
	PortalID         int64  `json:"portalId"`
	AppID            int64  `json:"appId"`
	OccurredAt       int64  `json:"occurredAt"`
	SubscriptionType string `json:"subscriptionType"`
	AttemptNumber    int    `json:"attemptNumber"`
}

// ObjectType returns the leading segment of the subscription type,
// e.g. "deal" for "deal.propertyChange".
func (e Event) ObjectType() string {
	objectType, _, _ := strings.Cut(e.SubscriptionType, ".")
	return objectType
}

// ProcessEvents applies a webhook batch. Non-propertyChange events and
// unmapped properties are skipped; a store failure aborts the batch so
// HubSpot redelivers it. Returns the number of events applied.
func (s *Syncer) ProcessEvents(ctx context.Context, events []Event) (int, error) {
	processed := 0
	for _, event := range events {
		if event.EventType != "propertyChange" {
			log.Printf("webhook: skipping %s event", event.EventType)
			continue
		}
		var err error
		switch objectType := event.ObjectType(); objectType {
		case "deal":
			err = s.applyDealChange(ctx, event)
		case "company":
			err = s.applyCompanyChange(ctx, event)
		case "contact":
			err = s.applyContactChange(ctx, event)
		default:
			log.Printf("webhook: unknown object type %q", objectType)
			continue
		}
		if err != nil {
			return processed, err
		}
		processed++
	}
	return processed, nil
}

func (s *Syncer) applyDealChange(ctx context.Context, event Event) error {
	id := dealLocalID(strconv.FormatInt(event.ObjectID, 10))

	var patch store.OpportunityPatch
	switch event.PropertyName {
	case "dealname":
		patch.Name = &event.PropertyValue
	case "amount":
		amount := parseAmount(event.PropertyValue)
		patch.Amount = &amount
	case "dealstage":
		stage := StageFromHubSpot(event.PropertyValue)
		patch.Stage = &stage
	case "closedate":
		patch.CloseDate = &event.PropertyValue
	case "hs_deal_stage_probability":
		probability := parseProbability(event.PropertyValue)
		patch.Probability = &probability
	case "hubspot_owner_id":
		owner := ownerLocalID(event.PropertyValue)
		patch.OwnerID = &owner
	default:
		log.Printf("webhook: unmapped deal property %q", event.PropertyName)
		return nil
	}

	if err := s.store.ApplyOpportunityPatch(ctx, id, patch); err != nil {
		s.recordInboundFailure(ctx, "opportunity", id, event, err)
		return err
	}
	s.recordInboundSuccess(ctx, "opportunity", id, event)
	return nil
}

func (s *Syncer) applyCompanyChange(ctx context.Context, event Event) error {
	id := companyLocalID(strconv.FormatInt(event.ObjectID, 10))

	var patch store.ClientPatch
	switch event.PropertyName {
	case "name":
		patch.Name = &event.PropertyValue
	case "annualrevenue":
		arr := parseAmount(event.PropertyValue)
		segment := SegmentForARR(arr)
		patch.ARR = &arr
		patch.Segment = &segment
	case "lifecyclestage":
		phase := PhaseFromHubSpot(event.PropertyValue)
		status := "churned"
		if event.PropertyValue == "customer" {
			status = "active"
		}
		patch.Phase = &phase
		patch.Status = &status
	case "industry":
		patch.Industry = &event.PropertyValue
	case "country":
		patch.Region = &event.PropertyValue
	case "hubspot_owner_id":
		owner := ownerLocalID(event.PropertyValue)
		patch.OwnerID = &owner
	default:
		log.Printf("webhook: unmapped company property %q", event.PropertyName)
		return nil
	}

	if err := s.store.ApplyClientPatch(ctx, id, patch); err != nil {
		s.recordInboundFailure(ctx, "client", id, event, err)
		return err
	}
	s.recordInboundSuccess(ctx, "client", id, event)
	return nil
}

func (s *Syncer) applyContactChange(ctx context.Context, event Event) error {
	id := contactLocalID(strconv.FormatInt(event.ObjectID, 10))

	switch event.PropertyName {
	case "firstname", "lastname":
		if err := s.store.UpdateContactNamePart(ctx, id, event.PropertyName, event.PropertyValue); err != nil {
			s.recordInboundFailure(ctx, "contact", id, event, err)
			return err
		}
		s.recordInboundSuccess(ctx, "contact", id, event)
		return nil
	}

	var patch store.ContactPatch
	switch event.PropertyName {
	case "email":
		patch.Email = &event.PropertyValue
	case "jobtitle":
		power := PowerForTitle(event.PropertyValue)
		patch.Role = &event.PropertyValue
		patch.Power = &power
	case "phone":
		patch.Phone = &event.PropertyValue
	default:
		log.Printf("webhook: unmapped contact property %q", event.PropertyName)
		return nil
	}

	if err := s.store.ApplyContactPatch(ctx, id, patch); err != nil {
		s.recordInboundFailure(ctx, "contact", id, event, err)
		return err
	}
	s.recordInboundSuccess(ctx, "contact", id, event)
	return nil
}

func (s *Syncer) recordInboundSuccess(ctx context.Context, objectType, objectID string, event Event) {
	now := time.Now()
	if err := s.store.InsertSyncLog(ctx, store.SyncLogEntry{
		ObjectType: objectType,
		ObjectID:   objectID,
		Direction:  "inbound",
		Status:     "success",
		Message:    fmt.Sprintf("Updated %s from HubSpot webhook", event.PropertyName),
		Metadata: map[string]any{
			"property": event.PropertyName,
			"value":    event.PropertyValue,
		},
		CompletedAt: &now,
	}); err != nil {
		log.Printf("webhook: write success log for %s: %v", objectID, err)
	}
}

func (s *Syncer) recordInboundFailure(ctx context.Context, objectType, objectID string, event Event, cause error) {
	log.Printf("webhook: update %s %s: %v", objectType, objectID, cause)
	details := cause.Error()
	if err := s.store.InsertSyncLog(ctx, store.SyncLogEntry{
		ObjectType:   objectType,
		ObjectID:     objectID,
		Direction:    "inbound",
		Status:       "error",
		Message:      fmt.Sprintf("Failed to update %s", event.PropertyName),
		ErrorDetails: &details,
	}); err != nil {
		log.Printf("webhook: write failure log for %s: %v", objectID, err)
	}
}
