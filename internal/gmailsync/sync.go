package gmailsync

import (
	"context"
	"log"
	"time"

	"trsrevos/api/internal/oauth"
	"trsrevos/api/internal/store"
)

const (
	defaultMaxMessages = 5
	maxMessageLimit    = 50
)

// Store is the persistence surface the mailbox sync needs.
type Store interface {
	ListUserIntegrations(ctx context.Context, provider, userID string) ([]store.UserIntegration, error)
	UpdateUserIntegrationToken(ctx context.Context, id string, accessToken, refreshToken, scope, tokenType, expiryDate *string) error
	UsersByID(ctx context.Context, ids []string) (map[string]store.User, error)
	UpsertAnalyticsEvents(ctx context.Context, events []store.AnalyticsEvent) error
	UpsertIntegrationStatus(ctx context.Context, organizationID *string, provider, scope, status string, settings store.IntegrationSettings) error
}

// Refresher exchanges a refresh token for a fresh access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (oauth.Token, error)
}

// Stats reports one sync run.
type Stats struct {
	Processed int `json:"processed"`
	Inserted  int `json:"inserted"`
}

// Syncer walks gmail grants and records recent inbox activity as analytics
// events.
type Syncer struct {
	store     Store
	lister    Lister
	refresher Refresher
	now       func() time.Time
}

func NewSyncer(st Store, lister Lister, refresher Refresher) *Syncer {
	return &Syncer{store: st, lister: lister, refresher: refresher, now: time.Now}
}

// Sync imports inbox metadata for every gmail grant, or for one user when
// userID is set. Grants without a refresh token are skipped; a refresh or
// fetch failure marks the organization's gmail integration errored and the
// run moves on.
func (s *Syncer) Sync(ctx context.Context, userID string, maxMessages int) (Stats, error) {
	if maxMessages <= 0 {
		maxMessages = defaultMaxMessages
	}
	if maxMessages > maxMessageLimit {
		maxMessages = maxMessageLimit
	}

	grants, err := s.store.ListUserIntegrations(ctx, "gmail", userID)
	if err != nil {
		return Stats{}, err
	}
	if len(grants) == 0 {
		return Stats{}, nil
	}

	userIDs := make([]string, 0, len(grants))
	seen := make(map[string]bool, len(grants))
	for _, grant := range grants {
		if !seen[grant.UserID] {
			seen[grant.UserID] = true
			userIDs = append(userIDs, grant.UserID)
		}
	}
	users, err := s.store.UsersByID(ctx, userIDs)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	for _, grant := range grants {
		stats.Processed++
		var organizationID *string
		if user, ok := users[grant.UserID]; ok {
			organizationID = user.OrganizationID
		}
		stats.Inserted += s.syncGrant(ctx, grant, organizationID, maxMessages)
	}
	return stats, nil
}

func (s *Syncer) syncGrant(ctx context.Context, grant store.UserIntegration, organizationID *string, maxMessages int) int {
	if grant.RefreshToken == nil || *grant.RefreshToken == "" {
		log.Printf("gmail: integration %s missing refresh token", grant.ID)
		return 0
	}

	accessToken := deref(grant.AccessToken)
	scope := grant.Scope
	tokenType := grant.TokenType
	expiryDate := grant.ExpiryDate

	if oauth.NeedsRefresh(accessToken, *grant.RefreshToken, deref(expiryDate), s.now()) {
		token, err := s.refresher.Refresh(ctx, *grant.RefreshToken)
		if err != nil {
			log.Printf("gmail: refresh failed for %s: %v", grant.ID, err)
			s.markError(ctx, organizationID, err)
			return 0
		}
		accessToken = token.AccessToken
		refreshToken := token.RefreshToken
		if token.Scope != "" {
			scope = &token.Scope
		}
		if token.TokenType != "" {
			tokenType = &token.TokenType
		}
		if token.ExpiresAt != "" {
			expiryDate = &token.ExpiresAt
		}
		if err := s.store.UpdateUserIntegrationToken(ctx, grant.ID,
			&accessToken, &refreshToken, scope, tokenType, expiryDate); err != nil {
			log.Printf("gmail: persist refreshed token for %s: %v", grant.ID, err)
		}
	}

	if accessToken == "" {
		log.Printf("gmail: integration %s missing access token", grant.ID)
		return 0
	}

	messages, err := s.lister.ListRecent(ctx, accessToken, maxMessages)
	if err != nil {
		log.Printf("gmail: message fetch failed for %s: %v", grant.ID, err)
		s.markError(ctx, organizationID, err)
		return 0
	}

	if len(messages) > 0 {
		events := make([]store.AnalyticsEvent, 0, len(messages))
		for _, message := range messages {
			events = append(events, store.AnalyticsEvent{
				UserID:         &grant.UserID,
				OrganizationID: organizationID,
				EventType:      "gmail_sync",
				EntityType:     "gmail_message",
				EntityID:       message.ID,
				Metadata: map[string]any{
					"snippet":      message.Snippet,
					"subject":      message.Subject,
					"from":         message.From,
					"historyId":    message.HistoryID,
					"internalDate": message.InternalDate,
					"receivedAt":   message.ReceivedAt,
				},
			})
		}
		if err := s.store.UpsertAnalyticsEvents(ctx, events); err != nil {
			log.Printf("gmail: record analytics events: %v", err)
		}
	}

	count := len(messages)
	settings := store.IntegrationSettings{
		LastSyncUserID: grant.UserID,
		LastSyncCount:  &count,
		LastSyncScope:  deref(scope),
		TokenType:      deref(tokenType),
		ExpiryDate:     deref(expiryDate),
	}
	if err := s.store.UpsertIntegrationStatus(ctx, organizationID, "gmail", "user", "connected", settings); err != nil {
		log.Printf("gmail: upsert integration status: %v", err)
	}
	return count
}

func (s *Syncer) markError(ctx context.Context, organizationID *string, cause error) {
	settings := store.IntegrationSettings{LastError: cause.Error()}
	if err := s.store.UpsertIntegrationStatus(ctx, organizationID, "gmail", "user", "error", settings); err != nil {
		log.Printf("gmail: mark integration errored: %v", err)
	}
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
