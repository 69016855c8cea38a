package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"trsrevos/api/internal/brief"
	"trsrevos/api/internal/gmailsync"
	"trsrevos/api/internal/hubspot"
	"trsrevos/api/internal/quickbooks"
	"trsrevos/api/internal/store"
)

type fakeStore struct {
	pingFn                      func(context.Context) error
	listConnectedIntegrationsFn func(context.Context, string) ([]store.Integration, error)
	getUserOrganizationFn       func(context.Context, string) (*string, error)

	analytics []store.AnalyticsEvent
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) ListConnectedIntegrations(ctx context.Context, organizationID string) ([]store.Integration, error) {
	if f.listConnectedIntegrationsFn != nil {
		return f.listConnectedIntegrationsFn(ctx, organizationID)
	}
	return nil, nil
}

func (f *fakeStore) InsertAnalyticsEvent(_ context.Context, event store.AnalyticsEvent) error {
	f.analytics = append(f.analytics, event)
	return nil
}

func (f *fakeStore) GetUserOrganization(ctx context.Context, userID string) (*string, error) {
	if f.getUserOrganizationFn != nil {
		return f.getUserOrganizationFn(ctx, userID)
	}
	return nil, nil
}

type fakeHubSpot struct {
	calls           []string
	outbound        hubspot.Stats
	inbound         hubspot.Stats
	processEventsFn func(context.Context, []hubspot.Event) (int, error)
}

func (f *fakeHubSpot) SyncOutbound(context.Context) hubspot.Stats {
	f.calls = append(f.calls, "outbound")
	return f.outbound
}

func (f *fakeHubSpot) SyncInbound(context.Context) hubspot.Stats {
	f.calls = append(f.calls, "inbound")
	return f.inbound
}

func (f *fakeHubSpot) ProcessEvents(ctx context.Context, events []hubspot.Event) (int, error) {
	f.calls = append(f.calls, "events")
	if f.processEventsFn != nil {
		return f.processEventsFn(ctx, events)
	}
	return len(events), nil
}

type fakeQuickBooks struct {
	stats quickbooks.Stats
	err   error
}

func (f *fakeQuickBooks) Sync(context.Context, string, int) (quickbooks.Stats, error) {
	return f.stats, f.err
}

type fakeGmail struct {
	stats gmailsync.Stats
	err   error
}

func (f *fakeGmail) Sync(context.Context, string, int) (gmailsync.Stats, error) {
	return f.stats, f.err
}

type fakeBriefs struct {
	buildFn func(context.Context, string, string) (brief.Brief, error)
}

func (f *fakeBriefs) Build(ctx context.Context, userID, timeHorizon string) (brief.Brief, error) {
	if f.buildFn != nil {
		return f.buildFn(ctx, userID, timeHorizon)
	}
	return brief.Brief{UserID: userID, TimeHorizon: timeHorizon}, nil
}

type fakeCache struct {
	seen      map[int64]bool
	forgotten []int64
	err       error
}

func (f *fakeCache) MarkSeen(_ context.Context, eventID int64) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = map[int64]bool{}
	}
	if f.seen[eventID] {
		return false, nil
	}
	f.seen[eventID] = true
	return true, nil
}

func (f *fakeCache) Forget(_ context.Context, eventID int64) error {
	delete(f.seen, eventID)
	f.forgotten = append(f.forgotten, eventID)
	return nil
}

func newTestService(st *fakeStore, hs *fakeHubSpot, cache eventCache) *Service {
	if st == nil {
		st = &fakeStore{}
	}
	if hs == nil {
		hs = &fakeHubSpot{}
	}
	return NewService(st, hs, &fakeQuickBooks{}, &fakeGmail{}, &fakeBriefs{}, cache)
}

func strPtr(s string) *string { return &s }

func TestSyncHubSpotRejectsUnknownDirection(t *testing.T) {
	service := newTestService(nil, nil, nil)

	_, err := service.SyncHubSpot(context.Background(), "sideways")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != http.StatusBadRequest || domainErr.Code != "INVALID_DIRECTION" {
		t.Errorf("got %d %s", domainErr.Status, domainErr.Code)
	}
}

func TestSyncHubSpotRunsOutboundBeforeInbound(t *testing.T) {
	st := &fakeStore{}
	hs := &fakeHubSpot{
		outbound: hubspot.Stats{Deals: 2},
		inbound:  hubspot.Stats{Companies: 3},
	}
	service := newTestService(st, hs, nil)

	stats, err := service.SyncHubSpot(context.Background(), "")
	if err != nil {
		t.Fatalf("SyncHubSpot: %v", err)
	}

	if len(hs.calls) != 2 || hs.calls[0] != "outbound" || hs.calls[1] != "inbound" {
		t.Errorf("call order = %v", hs.calls)
	}
	if stats.Outbound.Deals != 2 || stats.Inbound.Companies != 3 {
		t.Errorf("stats = %+v", stats)
	}

	if len(st.analytics) != 1 {
		t.Fatalf("analytics events = %d", len(st.analytics))
	}
	event := st.analytics[0]
	if event.EventType != "hubspot_sync_bidirectional" || event.EntityType != "system" {
		t.Errorf("event = %+v", event)
	}
	if event.Metadata["status"] != "success" || event.Metadata["direction"] != "both" {
		t.Errorf("metadata = %v", event.Metadata)
	}
}

func TestSyncHubSpotKeepsOneEventPerRun(t *testing.T) {
	st := &fakeStore{}
	service := newTestService(st, &fakeHubSpot{}, nil)

	for i := 0; i < 3; i++ {
		if _, err := service.SyncHubSpot(context.Background(), "both"); err != nil {
			t.Fatalf("SyncHubSpot: %v", err)
		}
	}

	if len(st.analytics) != 3 {
		t.Fatalf("analytics events = %d, want one per run", len(st.analytics))
	}
	for _, event := range st.analytics {
		if event.EntityID != "hubspot" || event.EntityType != "system" {
			t.Errorf("event = %+v", event)
		}
	}
}

func TestSyncHubSpotSingleDirection(t *testing.T) {
	hs := &fakeHubSpot{}
	service := newTestService(nil, hs, nil)

	if _, err := service.SyncHubSpot(context.Background(), "inbound"); err != nil {
		t.Fatalf("SyncHubSpot: %v", err)
	}
	if len(hs.calls) != 1 || hs.calls[0] != "inbound" {
		t.Errorf("calls = %v", hs.calls)
	}
}

func TestProcessWebhookEventsSkipsDuplicates(t *testing.T) {
	hs := &fakeHubSpot{}
	cache := &fakeCache{}
	service := newTestService(nil, hs, cache)

	events := []hubspot.Event{
		{EventID: 1, EventType: "propertyChange"},
		{EventID: 1, EventType: "propertyChange"},
		{EventID: 2, EventType: "propertyChange"},
	}
	processed, err := service.ProcessWebhookEvents(context.Background(), events)
	if err != nil {
		t.Fatalf("ProcessWebhookEvents: %v", err)
	}
	if processed != 2 {
		t.Errorf("processed = %d, want 2", processed)
	}
}

func TestProcessWebhookEventsForgetsFailedEvent(t *testing.T) {
	hs := &fakeHubSpot{
		processEventsFn: func(_ context.Context, events []hubspot.Event) (int, error) {
			if events[0].EventID == 2 {
				return 0, errors.New("db down")
			}
			return 1, nil
		},
	}
	cache := &fakeCache{}
	service := newTestService(nil, hs, cache)

	events := []hubspot.Event{
		{EventID: 1, EventType: "propertyChange"},
		{EventID: 2, EventType: "propertyChange"},
	}
	processed, err := service.ProcessWebhookEvents(context.Background(), events)
	if err == nil {
		t.Fatal("expected error")
	}
	if processed != 1 {
		t.Errorf("processed = %d, want 1", processed)
	}
	if len(cache.forgotten) != 1 || cache.forgotten[0] != 2 {
		t.Errorf("forgotten = %v, want the failed event", cache.forgotten)
	}
	if cache.seen[2] {
		t.Error("failed event must be retriable")
	}
}

func TestProcessWebhookEventsCacheUnavailable(t *testing.T) {
	hs := &fakeHubSpot{}
	cache := &fakeCache{err: errors.New("redis down")}
	service := newTestService(nil, hs, cache)

	processed, err := service.ProcessWebhookEvents(context.Background(), []hubspot.Event{
		{EventID: 1, EventType: "propertyChange"},
	})
	if err != nil {
		t.Fatalf("ProcessWebhookEvents: %v", err)
	}
	if processed != 1 {
		t.Errorf("processed = %d, want 1 with cache down", processed)
	}
}

func TestProcessWebhookEventsWithoutCache(t *testing.T) {
	hs := &fakeHubSpot{}
	service := newTestService(nil, hs, nil)

	processed, err := service.ProcessWebhookEvents(context.Background(), []hubspot.Event{
		{EventID: 7, EventType: "propertyChange"},
		{EventID: 7, EventType: "propertyChange"},
	})
	if err != nil {
		t.Fatalf("ProcessWebhookEvents: %v", err)
	}
	if processed != 2 {
		t.Errorf("processed = %d, want every event without a cache", processed)
	}
}

func TestMorningBriefRequiresIdentity(t *testing.T) {
	service := newTestService(nil, nil, nil)

	_, err := service.MorningBrief(context.Background(), "", "org-1", "today")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "MISSING_FIELDS" {
		t.Errorf("got %v", err)
	}
}

func TestNotifyAgentRequiresAgentAndMessage(t *testing.T) {
	service := newTestService(nil, nil, nil)

	_, err := service.NotifyAgent(context.Background(), "user-1", NotifyAgentInput{AgentID: "pricing"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "MISSING_FIELDS" {
		t.Errorf("got %v", err)
	}
}

func TestNotifyAgentRequiresOrganization(t *testing.T) {
	st := &fakeStore{}
	service := newTestService(st, nil, nil)

	_, err := service.NotifyAgent(context.Background(), "user-1", NotifyAgentInput{
		AgentID: "pricing",
		Message: "quote ready",
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "MISSING_ORGANIZATION" {
		t.Errorf("got %v", err)
	}
}

func TestNotifyAgentResolvesOrganizationFromUser(t *testing.T) {
	st := &fakeStore{
		getUserOrganizationFn: func(_ context.Context, userID string) (*string, error) {
			if userID != "user-1" {
				t.Errorf("userID = %q", userID)
			}
			return strPtr("org-1"), nil
		},
	}
	service := newTestService(st, nil, nil)

	result, err := service.NotifyAgent(context.Background(), "user-1", NotifyAgentInput{
		AgentID: "pricing",
		Message: "quote ready",
	})
	if err != nil {
		t.Fatalf("NotifyAgent: %v", err)
	}
	if result.DeliveryStatus != "skipped" || !result.OK {
		t.Errorf("result = %+v", result)
	}
	if len(st.analytics) != 1 || st.analytics[0].EventType != "agent_notification" {
		t.Errorf("analytics = %+v", st.analytics)
	}
	if st.analytics[0].Metadata["delivery_status"] != "skipped" {
		t.Errorf("metadata = %v", st.analytics[0].Metadata)
	}
}

func TestNotifyAgentKeepsOneEventPerNotification(t *testing.T) {
	st := &fakeStore{
		getUserOrganizationFn: func(context.Context, string) (*string, error) {
			return strPtr("org-1"), nil
		},
	}
	service := newTestService(st, nil, nil)

	input := NotifyAgentInput{AgentID: "pricing", Message: "quote ready"}
	for i := 0; i < 2; i++ {
		if _, err := service.NotifyAgent(context.Background(), "user-1", input); err != nil {
			t.Fatalf("NotifyAgent: %v", err)
		}
	}

	if len(st.analytics) != 2 {
		t.Fatalf("analytics events = %d, want one per notification", len(st.analytics))
	}
	for _, event := range st.analytics {
		if event.EntityID != "pricing" || event.EventType != "agent_notification" {
			t.Errorf("event = %+v", event)
		}
	}
}

func TestNotifyAgentDelivers(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = decodeRequest(t, r)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	st := &fakeStore{
		listConnectedIntegrationsFn: func(context.Context, string) ([]store.Integration, error) {
			return []store.Integration{{
				ID: "int-1",
				Settings: store.IntegrationSettings{
					AgentRoutes: map[string]store.ChannelRoute{
						"pricing": {WebhookURL: server.URL, Channel: "ops"},
					},
				},
			}}, nil
		},
	}
	service := newTestService(st, nil, nil)

	result, err := service.NotifyAgent(context.Background(), "user-1", NotifyAgentInput{
		AgentID:        "pricing",
		Message:        "quote ready",
		OrganizationID: "org-1",
		Context:        map[string]any{"deal": "opp-1"},
	})
	if err != nil {
		t.Fatalf("NotifyAgent: %v", err)
	}

	if result.DeliveryStatus != "sent" || !result.OK {
		t.Errorf("result = %+v", result)
	}
	if result.IntegrationID == nil || *result.IntegrationID != "int-1" {
		t.Errorf("integration = %v", result.IntegrationID)
	}
	if result.HTTPStatus == nil || *result.HTTPStatus != http.StatusOK {
		t.Errorf("http status = %v", result.HTTPStatus)
	}

	if received["agent_id"] != "pricing" || received["message"] != "quote ready" || received["channel"] != "ops" {
		t.Errorf("delivered payload = %v", received)
	}
	if len(st.analytics) != 1 || st.analytics[0].Metadata["delivered"] != true {
		t.Errorf("analytics = %+v", st.analytics)
	}
}

func TestNotifyAgentPrefersChannelRoute(t *testing.T) {
	integration := store.Integration{
		ID: "int-1",
		Settings: store.IntegrationSettings{
			WebhookURL: "https://fallback.example/hook",
			Channels: map[string]store.ChannelRoute{
				"ops": {URL: "https://ops.example/hook"},
			},
			AgentRoutes: map[string]store.ChannelRoute{
				"pricing": {WebhookURL: "https://agent.example/hook"},
			},
		},
	}

	url, channel, ok := resolveWebhook(integration, "pricing", "ops")
	if !ok || url != "https://ops.example/hook" || channel != "ops" {
		t.Errorf("channel route: %q %q %v", url, channel, ok)
	}

	url, _, ok = resolveWebhook(integration, "pricing", "")
	if !ok || url != "https://agent.example/hook" {
		t.Errorf("agent route: %q %v", url, ok)
	}

	url, _, ok = resolveWebhook(integration, "unknown-agent", "")
	if !ok || url != "https://fallback.example/hook" {
		t.Errorf("fallback: %q %v", url, ok)
	}

	_, _, ok = resolveWebhook(store.Integration{}, "pricing", "ops")
	if ok {
		t.Error("empty settings must not resolve")
	}
}

func TestNotifyAgentFallsBackToLegacyWebhooksMap(t *testing.T) {
	legacy := store.Integration{
		ID: "int-1",
		Settings: store.IntegrationSettings{
			Webhooks: map[string]store.ChannelRoute{
				"pricing": {WebhookURL: "https://legacy.example/hook", Channel: "ops"},
			},
		},
	}

	url, channel, ok := resolveWebhook(legacy, "pricing", "")
	if !ok || url != "https://legacy.example/hook" || channel != "ops" {
		t.Errorf("legacy route: %q %q %v", url, channel, ok)
	}

	// agent_routes wins when both maps are present.
	both := legacy
	both.Settings.AgentRoutes = map[string]store.ChannelRoute{
		"pricing": {WebhookURL: "https://current.example/hook"},
	}
	url, _, ok = resolveWebhook(both, "pricing", "")
	if !ok || url != "https://current.example/hook" {
		t.Errorf("renamed route: %q %v", url, ok)
	}
}

func TestNotifyAgentReportsDeliveryFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "agent offline", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	st := &fakeStore{
		listConnectedIntegrationsFn: func(context.Context, string) ([]store.Integration, error) {
			return []store.Integration{{
				ID:       "int-1",
				Settings: store.IntegrationSettings{WebhookURL: server.URL},
			}}, nil
		},
	}
	service := newTestService(st, nil, nil)

	result, err := service.NotifyAgent(context.Background(), "user-1", NotifyAgentInput{
		AgentID:        "pricing",
		Message:        "quote ready",
		OrganizationID: "org-1",
	})
	if err != nil {
		t.Fatalf("NotifyAgent: %v", err)
	}

	if result.OK || result.DeliveryStatus != "failed" {
		t.Errorf("result = %+v", result)
	}
	if result.HTTPStatus == nil || *result.HTTPStatus != http.StatusServiceUnavailable {
		t.Errorf("http status = %v", result.HTTPStatus)
	}
	if result.Error == nil {
		t.Error("expected error detail")
	}
	if len(st.analytics) != 1 || st.analytics[0].Metadata["delivered"] != false {
		t.Errorf("analytics = %+v", st.analytics)
	}
}
