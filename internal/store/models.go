package store

import "time"

// Opportunity mirrors a HubSpot deal. The external CRM owns the record;
// needs_sync marks local edits pending an outbound push.
type Opportunity struct {
	ID            string
	ClientID      string
	Name          string
	Amount        float64
	Stage         string
	Probability   int
	CloseDate     *string
	OwnerID       string
	Notes         string
	NeedsSync     bool
	HubSpotSynced bool
	SyncError     *string
	ClaimedAt     *time.Time
	LastSyncedAt  *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Client mirrors a HubSpot company.
type Client struct {
	ID            string
	Name          string
	ARR           float64
	Segment       string
	Phase         string
	Industry      *string
	Region        string
	OwnerID       string
	Health        int
	ChurnRisk     int
	Status        string
	NeedsSync     bool
	HubSpotSynced bool
	SyncError     *string
	ClaimedAt     *time.Time
	LastSyncedAt  *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Contact mirrors a HubSpot contact. Name is stored joined; HubSpot sends
// firstname/lastname as separate properties.
type Contact struct {
	ID            string
	ClientID      *string
	Name          string
	Email         *string
	Role          *string
	Power         string
	Phone         *string
	NeedsSync     bool
	HubSpotSynced bool
	SyncError     *string
	ClaimedAt     *time.Time
	LastSyncedAt  *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SyncLogEntry is an append-only audit record. Never mutated after insert.
type SyncLogEntry struct {
	ID           string
	ObjectType   string
	ObjectID     string
	Direction    string
	Status       string
	Message      string
	ErrorDetails *string
	Metadata     map[string]any
	CompletedAt  *time.Time
	CreatedAt    time.Time
}

// ChannelRoute is a single delivery target inside integration settings.
type ChannelRoute struct {
	WebhookURL string `json:"webhook_url,omitempty"`
	URL        string `json:"url,omitempty"`
	Channel    string `json:"channel,omitempty"`
}

// IntegrationSettings is the typed schema for the integrations settings
// column. Validated at the write boundary instead of traversed as loose JSON.
type IntegrationSettings struct {
	AccessToken     string                  `json:"access_token,omitempty"`
	RefreshToken    string                  `json:"refresh_token,omitempty"`
	ExpiresAt       string                  `json:"expires_at,omitempty"`
	RealmID         string                  `json:"realm_id,omitempty"`
	DefaultClientID string                  `json:"default_client_id,omitempty"`
	ClientMap       map[string]string       `json:"client_map,omitempty"`
	WebhookURL      string                  `json:"webhook_url,omitempty"`
	Channels        map[string]ChannelRoute `json:"channels,omitempty"`
	AgentRoutes     map[string]ChannelRoute `json:"agent_routes,omitempty"`
	// Webhooks is the pre-agent_routes name for the same map. Integrations
	// written before the rename still carry it.
	Webhooks map[string]ChannelRoute `json:"webhooks,omitempty"`
	LastError       string                  `json:"last_error,omitempty"`
	LastSyncCount   *int                    `json:"last_sync_count,omitempty"`
	LastSyncUserID  string                  `json:"last_sync_user_id,omitempty"`
	LastSyncScope   string                  `json:"last_sync_scope,omitempty"`
	TokenType       string                  `json:"token_type,omitempty"`
	ExpiryDate      string                  `json:"expiry_date,omitempty"`
}

// Integration is one row per (organization, provider) pair.
type Integration struct {
	ID              string
	OrganizationID  *string
	Provider        string
	ConnectionScope string
	Status          string
	Settings        IntegrationSettings
	LastSyncedAt    *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// UserIntegration holds a per-user OAuth grant (Gmail).
type UserIntegration struct {
	ID           string
	UserID       string
	Provider     string
	AccessToken  *string
	RefreshToken *string
	Scope        *string
	TokenType    *string
	ExpiryDate   *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Invoice struct {
	InvoiceNumber string
	ClientID      string
	Status        string
	IssueDate     *string
	DueDate       *string
	PaidDate      *string
	Amount        float64
	Tax           float64
	Total         float64
	PaymentTerm   *string
	Notes         *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type AnalyticsEvent struct {
	ID             string
	OrganizationID *string
	UserID         *string
	EventType      string
	EntityType     string
	EntityID       string
	Metadata       map[string]any
	CreatedAt      time.Time
}

type User struct {
	ID             string
	OrganizationID *string
}

// PipelineSnapshot aggregates open/won/lost totals for the morning brief.
type PipelineSnapshot struct {
	OpenAmount float64
	OpenCount  int
	WonCount   int
	LostCount  int
}
