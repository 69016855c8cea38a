package quickbooks

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"trsrevos/api/internal/oauth"
	"trsrevos/api/internal/store"
)

const (
	defaultMaxInvoices = 50
	maxInvoiceLimit    = 1000
)

// Store is the persistence surface the invoice sync needs.
type Store interface {
	ListIntegrations(ctx context.Context, provider, organizationID string) ([]store.Integration, error)
	UpdateIntegrationSettings(ctx context.Context, id string, settings store.IntegrationSettings) error
	MarkIntegrationError(ctx context.Context, id string, settings store.IntegrationSettings, message string) error
	MarkIntegrationSynced(ctx context.Context, id string, settings store.IntegrationSettings) error
	UpsertInvoices(ctx context.Context, invoices []store.Invoice) error
	UpsertAnalyticsEvents(ctx context.Context, events []store.AnalyticsEvent) error
}

// API is the slice of the QuickBooks client the sync calls.
type API interface {
	QueryInvoices(ctx context.Context, accessToken, realmID string, limit int) ([]invoiceRecord, error)
}

// Refresher exchanges a refresh token for a fresh access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (oauth.Token, error)
}

// Stats reports one sync run.
type Stats struct {
	Processed int `json:"processed"`
	Invoices  int `json:"invoices"`
}

// Syncer walks quickbooks integrations and imports their invoices.
type Syncer struct {
	store     Store
	api       API
	refresher Refresher
	now       func() time.Time
}

func NewSyncer(st Store, api API, refresher Refresher) *Syncer {
	return &Syncer{store: st, api: api, refresher: refresher, now: time.Now}
}

// Sync imports invoices for every quickbooks integration, or for one
// organization when organizationID is set. Integrations missing credentials
// are skipped; a refresh or fetch failure marks that integration errored and
// the run moves on.
func (s *Syncer) Sync(ctx context.Context, organizationID string, maxInvoices int) (Stats, error) {
	if maxInvoices <= 0 {
		maxInvoices = defaultMaxInvoices
	}
	if maxInvoices > maxInvoiceLimit {
		maxInvoices = maxInvoiceLimit
	}

	integrations, err := s.store.ListIntegrations(ctx, "quickbooks", organizationID)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	for _, integration := range integrations {
		stats.Processed++
		stats.Invoices += s.syncIntegration(ctx, integration, maxInvoices)
	}
	return stats, nil
}

func (s *Syncer) syncIntegration(ctx context.Context, integration store.Integration, maxInvoices int) int {
	settings := integration.Settings
	if settings.RefreshToken == "" || settings.RealmID == "" {
		log.Printf("quickbooks: integration %s missing refresh_token or realm_id", integration.ID)
		return 0
	}

	if oauth.NeedsRefresh(settings.AccessToken, settings.RefreshToken, settings.ExpiresAt, s.now()) {
		token, err := s.refresher.Refresh(ctx, settings.RefreshToken)
		if err != nil {
			log.Printf("quickbooks: refresh failed for %s: %v", integration.ID, err)
			s.markError(ctx, integration.ID, settings, err)
			return 0
		}
		settings.AccessToken = token.AccessToken
		settings.RefreshToken = token.RefreshToken
		if token.ExpiresAt != "" {
			settings.ExpiresAt = token.ExpiresAt
		}
		if err := s.store.UpdateIntegrationSettings(ctx, integration.ID, settings); err != nil {
			log.Printf("quickbooks: persist refreshed token for %s: %v", integration.ID, err)
		}
	}

	if settings.AccessToken == "" {
		log.Printf("quickbooks: integration %s missing access token", integration.ID)
		return 0
	}

	invoices, err := s.api.QueryInvoices(ctx, settings.AccessToken, settings.RealmID, maxInvoices)
	if err != nil {
		log.Printf("quickbooks: invoice fetch failed for %s: %v", integration.ID, err)
		s.markError(ctx, integration.ID, settings, err)
		return 0
	}

	records := s.mapInvoices(invoices, settings)
	if len(records) == 0 {
		if len(invoices) > 0 {
			log.Printf("quickbooks: no mappable invoices for integration %s", integration.ID)
		}
		count := 0
		settings.LastSyncCount = &count
		s.markSynced(ctx, integration.ID, settings)
		return 0
	}

	if err := s.store.UpsertInvoices(ctx, records); err != nil {
		log.Printf("quickbooks: upsert invoices for %s: %v", integration.ID, err)
		s.markError(ctx, integration.ID, settings, err)
		return 0
	}

	count := len(records)
	settings.LastSyncCount = &count
	s.markSynced(ctx, integration.ID, settings)
	s.recordAnalytics(ctx, integration.OrganizationID, records)
	return count
}

func (s *Syncer) mapInvoices(invoices []invoiceRecord, settings store.IntegrationSettings) []store.Invoice {
	var records []store.Invoice
	for _, invoice := range invoices {
		clientID := settings.ClientMap[invoice.CustomerRef.Value]
		if clientID == "" {
			clientID = settings.DefaultClientID
		}
		if clientID == "" {
			continue
		}

		number := invoice.DocNumber
		if number == "" {
			number = invoice.ID
		}
		if number == "" {
			number = uuid.NewString()
		}

		dueDate := invoice.DueDate
		if dueDate == "" {
			dueDate = invoice.TxnDate
		}

		record := store.Invoice{
			InvoiceNumber: number,
			ClientID:      clientID,
			Status:        mapStatus(invoice.Balance, dueDate, invoice.TotalAmt, s.now()),
			IssueDate:     optional(invoice.TxnDate),
			DueDate:       optional(dueDate),
			Amount:        invoice.TotalAmt,
			Tax:           invoice.TxnTaxDetail.TotalTax,
			Total:         invoice.TotalAmt,
			PaymentTerm:   mapPaymentTerm(invoice.SalesTermRef.Name),
			Notes:         optional(invoice.PrivateNote),
		}
		if invoice.Balance <= 0 {
			record.PaidDate = optional(invoice.LastPaymentDate)
		}
		records = append(records, record)
	}
	return records
}

func (s *Syncer) recordAnalytics(ctx context.Context, organizationID *string, records []store.Invoice) {
	events := make([]store.AnalyticsEvent, 0, len(records))
	for _, record := range records {
		events = append(events, store.AnalyticsEvent{
			OrganizationID: organizationID,
			EventType:      "quickbooks_sync",
			EntityType:     "invoice",
			EntityID:       record.InvoiceNumber,
			Metadata: map[string]any{
				"amount":   record.Amount,
				"status":   record.Status,
				"due_date": deref(record.DueDate),
			},
		})
	}
	if err := s.store.UpsertAnalyticsEvents(ctx, events); err != nil {
		log.Printf("quickbooks: record analytics events: %v", err)
	}
}

func (s *Syncer) markError(ctx context.Context, id string, settings store.IntegrationSettings, cause error) {
	if err := s.store.MarkIntegrationError(ctx, id, settings, cause.Error()); err != nil {
		log.Printf("quickbooks: mark integration %s errored: %v", id, err)
	}
}

func (s *Syncer) markSynced(ctx context.Context, id string, settings store.IntegrationSettings) {
	if err := s.store.MarkIntegrationSynced(ctx, id, settings); err != nil {
		log.Printf("quickbooks: mark integration %s synced: %v", id, err)
	}
}

// mapPaymentTerm normalizes a QuickBooks sales term name. Unknown terms
// map to nil rather than passing provider strings through.
func mapPaymentTerm(term string) *string {
	normalized := strings.ToLower(term)
	var mapped string
	switch {
	case strings.Contains(normalized, "net 15"):
		mapped = "Net 15"
	case strings.Contains(normalized, "net 30"):
		mapped = "Net 30"
	case strings.Contains(normalized, "net 60"):
		mapped = "Net 60"
	case strings.Contains(normalized, "net 90"):
		mapped = "Net 90"
	case strings.Contains(normalized, "receipt"):
		mapped = "Due on Receipt"
	default:
		return nil
	}
	return &mapped
}

// mapStatus derives the local invoice status. Zero-total invoices are
// drafts, settled balances are paid, and anything past its due date is
// overdue.
func mapStatus(balance float64, dueDate string, total float64, now time.Time) string {
	if total <= 0 {
		return "Draft"
	}
	if balance <= 0 {
		return "Paid"
	}
	if dueDate != "" {
		if due, err := time.Parse("2006-01-02", dueDate); err == nil && due.Before(now) {
			return "Overdue"
		}
	}
	return "Sent"
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
