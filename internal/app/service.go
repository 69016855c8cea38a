package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"trsrevos/api/internal/brief"
	"trsrevos/api/internal/gmailsync"
	"trsrevos/api/internal/hubspot"
	"trsrevos/api/internal/quickbooks"
	"trsrevos/api/internal/store"
)

// dataStore is the persistence surface the service layer touches directly.
// The provider syncers carry their own narrower store interfaces.
type dataStore interface {
	Ping(ctx context.Context) error
	ListConnectedIntegrations(ctx context.Context, organizationID string) ([]store.Integration, error)
	InsertAnalyticsEvent(ctx context.Context, event store.AnalyticsEvent) error
	GetUserOrganization(ctx context.Context, userID string) (*string, error)
}

type hubspotSyncer interface {
	SyncOutbound(ctx context.Context) hubspot.Stats
	SyncInbound(ctx context.Context) hubspot.Stats
	ProcessEvents(ctx context.Context, events []hubspot.Event) (int, error)
}

type quickbooksSyncer interface {
	Sync(ctx context.Context, organizationID string, maxInvoices int) (quickbooks.Stats, error)
}

type gmailSyncer interface {
	Sync(ctx context.Context, userID string, maxMessages int) (gmailsync.Stats, error)
}

type briefBuilder interface {
	Build(ctx context.Context, userID, timeHorizon string) (brief.Brief, error)
}

// eventCache deduplicates webhook deliveries. A nil cache processes every
// delivery; per-event updates stay idempotent either way.
type eventCache interface {
	MarkSeen(ctx context.Context, eventID int64) (bool, error)
	Forget(ctx context.Context, eventID int64) error
}

type Service struct {
	store      dataStore
	hubspot    hubspotSyncer
	quickbooks quickbooksSyncer
	gmail      gmailSyncer
	briefs     briefBuilder
	events     eventCache
	httpClient *http.Client
	now        func() time.Time
}

func NewService(st dataStore, hs hubspotSyncer, qb quickbooksSyncer, gm gmailSyncer, briefs briefBuilder, events eventCache) *Service {
	return &Service{
		store:      st,
		hubspot:    hs,
		quickbooks: qb,
		gmail:      gm,
		briefs:     briefs,
		events:     events,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		now:        time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// SyncStats aggregates one orchestrated CRM sync run.
type SyncStats struct {
	Inbound    hubspot.Stats `json:"inbound"`
	Outbound   hubspot.Stats `json:"outbound"`
	DurationMS int64         `json:"duration_ms"`
}

// SyncHubSpot runs the CRM sync in the requested direction. Outbound runs
// before inbound so local edits are flushed out before remote state is
// pulled over them. The run is recorded as an analytics event.
func (s *Service) SyncHubSpot(ctx context.Context, direction string) (SyncStats, error) {
	if direction == "" {
		direction = "both"
	}
	if direction != "inbound" && direction != "outbound" && direction != "both" {
		return SyncStats{}, domainError(http.StatusBadRequest, "INVALID_DIRECTION",
			fmt.Sprintf("direction must be inbound, outbound, or both, got %q", direction), nil)
	}

	started := s.now()
	var stats SyncStats
	if direction == "outbound" || direction == "both" {
		stats.Outbound = s.hubspot.SyncOutbound(ctx)
	}
	if direction == "inbound" || direction == "both" {
		stats.Inbound = s.hubspot.SyncInbound(ctx)
	}
	stats.DurationMS = s.now().Sub(started).Milliseconds()

	if err := s.store.InsertAnalyticsEvent(ctx, store.AnalyticsEvent{
		EventType:  "hubspot_sync_bidirectional",
		EntityType: "system",
		EntityID:   "hubspot",
		Metadata: map[string]any{
			"status":      "success",
			"direction":   direction,
			"inbound":     stats.Inbound,
			"outbound":    stats.Outbound,
			"duration_ms": stats.DurationMS,
		},
	}); err != nil {
		log.Printf("sync: record analytics event: %v", err)
	}
	return stats, nil
}

// RecordSyncFailure logs an aborted sync run to analytics.
func (s *Service) RecordSyncFailure(ctx context.Context, cause error) {
	if err := s.store.InsertAnalyticsEvent(ctx, store.AnalyticsEvent{
		EventType:  "hubspot_sync_bidirectional",
		EntityType: "system",
		EntityID:   "hubspot",
		Metadata: map[string]any{
			"status": "error",
			"error":  cause.Error(),
		},
	}); err != nil {
		log.Printf("sync: record failure event: %v", err)
	}
}

// ProcessWebhookEvents applies a HubSpot delivery. With an event cache
// configured, events already applied inside the retention window are
// skipped; an event that fails to apply is forgotten again so the provider
// retry can land it.
func (s *Service) ProcessWebhookEvents(ctx context.Context, events []hubspot.Event) (int, error) {
	processed := 0
	for _, event := range events {
		if s.events != nil && event.EventID != 0 {
			first, err := s.events.MarkSeen(ctx, event.EventID)
			if err != nil {
				log.Printf("webhook: event cache unavailable: %v", err)
			} else if !first {
				log.Printf("webhook: skipping duplicate event %d (attempt %d)", event.EventID, event.AttemptNumber)
				continue
			}
		}
		applied, err := s.hubspot.ProcessEvents(ctx, []hubspot.Event{event})
		if err != nil {
			if s.events != nil && event.EventID != 0 {
				if forgetErr := s.events.Forget(ctx, event.EventID); forgetErr != nil {
					log.Printf("webhook: forget event %d: %v", event.EventID, forgetErr)
				}
			}
			return processed, err
		}
		processed += applied
	}
	return processed, nil
}

func (s *Service) SyncQuickBooks(ctx context.Context, organizationID string, maxInvoices int) (quickbooks.Stats, error) {
	return s.quickbooks.Sync(ctx, organizationID, maxInvoices)
}

func (s *Service) SyncGmail(ctx context.Context, userID string, maxMessages int) (gmailsync.Stats, error) {
	return s.gmail.Sync(ctx, userID, maxMessages)
}

func (s *Service) MorningBrief(ctx context.Context, userID, organizationID, timeHorizon string) (brief.Brief, error) {
	if userID == "" || organizationID == "" {
		return brief.Brief{}, domainError(http.StatusBadRequest, "MISSING_FIELDS",
			"user_id and organization_id are required", nil)
	}
	return s.briefs.Build(ctx, userID, timeHorizon)
}

// NotifyAgentInput is a request to forward a message to an agent's webhook.
type NotifyAgentInput struct {
	AgentID        string         `json:"agent_id"`
	Message        string         `json:"message"`
	Context        map[string]any `json:"context"`
	Channel        string         `json:"channel"`
	OrganizationID string         `json:"organization_id"`
}

// NotifyAgentResult reports where the message went and how delivery ended.
type NotifyAgentResult struct {
	OK             bool    `json:"ok"`
	DeliveryStatus string  `json:"delivery_status"`
	HTTPStatus     *int    `json:"http_status"`
	IntegrationID  *string `json:"integration_id"`
	Error          *string `json:"error"`
}

// NotifyAgent resolves a webhook for the agent from the organization's
// connected integrations and POSTs the message there. Delivery status is
// always recorded to analytics, sent or not.
func (s *Service) NotifyAgent(ctx context.Context, userID string, input NotifyAgentInput) (NotifyAgentResult, error) {
	if input.AgentID == "" || input.Message == "" {
		return NotifyAgentResult{}, domainError(http.StatusBadRequest, "MISSING_FIELDS",
			"agent_id and message are required", nil)
	}

	organizationID, err := s.resolveOrganization(ctx, userID, input)
	if err != nil {
		return NotifyAgentResult{}, err
	}
	if organizationID == "" {
		return NotifyAgentResult{}, domainError(http.StatusBadRequest, "MISSING_ORGANIZATION",
			"no organization resolved for caller", nil)
	}

	integrations, err := s.store.ListConnectedIntegrations(ctx, organizationID)
	if err != nil {
		return NotifyAgentResult{}, fmt.Errorf("load integrations: %w", err)
	}

	var selected *store.Integration
	var webhookURL, channel string
	for i := range integrations {
		if url, ch, ok := resolveWebhook(integrations[i], input.AgentID, input.Channel); ok {
			selected = &integrations[i]
			webhookURL = url
			channel = ch
			break
		}
	}

	result := NotifyAgentResult{OK: true, DeliveryStatus: "skipped"}
	if selected != nil {
		result.IntegrationID = &selected.ID
		status, deliveryErr := s.deliver(ctx, webhookURL, input, channel)
		if status != 0 {
			result.HTTPStatus = &status
		}
		if deliveryErr != nil {
			message := deliveryErr.Error()
			result.DeliveryStatus = "failed"
			result.OK = false
			result.Error = &message
		} else {
			result.DeliveryStatus = "sent"
		}
	}

	metadata := map[string]any{
		"message":         input.Message,
		"channel":         firstNonEmpty(input.Channel, channel),
		"delivered":       result.DeliveryStatus == "sent",
		"delivery_status": result.DeliveryStatus,
		"context":         input.Context,
	}
	if result.HTTPStatus != nil {
		metadata["http_status"] = *result.HTTPStatus
	}
	if result.IntegrationID != nil {
		metadata["integration_id"] = *result.IntegrationID
	}
	if result.Error != nil {
		metadata["error"] = *result.Error
	}
	if err := s.store.InsertAnalyticsEvent(ctx, store.AnalyticsEvent{
		OrganizationID: &organizationID,
		UserID:         &userID,
		EventType:      "agent_notification",
		EntityType:     "agent",
		EntityID:       input.AgentID,
		Metadata:       metadata,
	}); err != nil {
		log.Printf("notify: record analytics event: %v", err)
	}
	return result, nil
}

func (s *Service) resolveOrganization(ctx context.Context, userID string, input NotifyAgentInput) (string, error) {
	if input.OrganizationID != "" {
		return input.OrganizationID, nil
	}
	if contextOrg, ok := input.Context["organization_id"].(string); ok && contextOrg != "" {
		return contextOrg, nil
	}
	organizationID, err := s.store.GetUserOrganization(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("resolve organization: %w", err)
	}
	if organizationID == nil {
		return "", nil
	}
	return *organizationID, nil
}

func (s *Service) deliver(ctx context.Context, webhookURL string, input NotifyAgentInput, channel string) (int, error) {
	payload := map[string]any{
		"agent_id": input.AgentID,
		"message":  input.Message,
		"context":  input.Context,
		"channel":  channel,
	}
	if payload["context"] == nil {
		payload["context"] = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode delivery payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return resp.StatusCode, fmt.Errorf("webhook returned %d: %s", resp.StatusCode, detail)
	}
	return resp.StatusCode, nil
}

// resolveWebhook picks a delivery target from an integration's settings.
// Preference order: the requested channel's route, the agent's own route,
// then the integration-wide webhook URL.
func resolveWebhook(integration store.Integration, agentID, preferredChannel string) (url, channel string, ok bool) {
	settings := integration.Settings

	if preferredChannel != "" {
		if route, exists := settings.Channels[preferredChannel]; exists {
			if target := routeURL(route); target != "" {
				return target, firstNonEmpty(route.Channel, preferredChannel), true
			}
		}
	}

	agentRoutes := settings.AgentRoutes
	if agentRoutes == nil {
		agentRoutes = settings.Webhooks
	}
	if route, exists := agentRoutes[agentID]; exists {
		if target := routeURL(route); target != "" {
			return target, firstNonEmpty(route.Channel, preferredChannel, integration.Provider, "webhook"), true
		}
	}

	if settings.WebhookURL != "" {
		return settings.WebhookURL, firstNonEmpty(preferredChannel, integration.Provider, "webhook"), true
	}
	return "", "", false
}

func routeURL(route store.ChannelRoute) string {
	return firstNonEmpty(route.WebhookURL, route.URL)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
