package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const opportunityColumns = `id, client_id, name, amount, stage, probability, close_date, owner_id, notes,
	needs_sync, hubspot_synced, sync_error, claimed_at, last_synced_at, created_at, updated_at`

func scanOpportunity(row interface{ Scan(...any) error }) (Opportunity, error) {
	var o Opportunity
	err := row.Scan(&o.ID, &o.ClientID, &o.Name, &o.Amount, &o.Stage, &o.Probability, &o.CloseDate,
		&o.OwnerID, &o.Notes, &o.NeedsSync, &o.HubSpotSynced, &o.SyncError, &o.ClaimedAt,
		&o.LastSyncedAt, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

// ClaimDirtyOpportunities selects up to limit rows flagged needs_sync and
// stamps claimed_at so concurrent workers skip them until the lease expires.
// needs_sync itself is cleared only after a confirmed external write.
func (s *PostgresStore) ClaimDirtyOpportunities(ctx context.Context, limit int, lease time.Duration) ([]Opportunity, error) {
	query := fmt.Sprintf(`
		UPDATE opportunities SET claimed_at = NOW()
		WHERE id IN (
			SELECT id FROM opportunities
			WHERE needs_sync
				AND (claimed_at IS NULL OR claimed_at < NOW() - make_interval(secs => $2))
			ORDER BY updated_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s`, opportunityColumns)
	rows, err := s.db.QueryContext(ctx, query, limit, lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("claim dirty opportunities: %w", err)
	}
	defer rows.Close()

	var items []Opportunity
	for rows.Next() {
		item, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan opportunity: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) MarkOpportunitySynced(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE opportunities
		SET needs_sync = FALSE, hubspot_synced = TRUE, sync_error = NULL,
			claimed_at = NULL, last_synced_at = NOW(), updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark opportunity synced: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetOpportunitySyncError(ctx context.Context, id, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE opportunities SET sync_error = $2, claimed_at = NULL, updated_at = NOW()
		WHERE id = $1`, id, message)
	if err != nil {
		return fmt.Errorf("set opportunity sync error: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertOpportunity(ctx context.Context, o Opportunity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO opportunities (id, client_id, name, amount, stage, probability, close_date, owner_id, notes, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,COALESCE($10, NOW()),COALESCE($11, NOW()))
		ON CONFLICT (id) DO UPDATE SET
			client_id = EXCLUDED.client_id, name = EXCLUDED.name, amount = EXCLUDED.amount,
			stage = EXCLUDED.stage, probability = EXCLUDED.probability, close_date = EXCLUDED.close_date,
			owner_id = EXCLUDED.owner_id, notes = EXCLUDED.notes, updated_at = EXCLUDED.updated_at
	`, o.ID, o.ClientID, o.Name, o.Amount, o.Stage, o.Probability, o.CloseDate, o.OwnerID, o.Notes,
		nullableTime(o.CreatedAt), nullableTime(o.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert opportunity %s: %w", o.ID, err)
	}
	return nil
}

// OpportunityPatch carries the single-property updates a webhook can apply.
type OpportunityPatch struct {
	Name        *string
	Amount      *float64
	Stage       *string
	CloseDate   *string
	Probability *int
	OwnerID     *string
}

func (s *PostgresStore) ApplyOpportunityPatch(ctx context.Context, id string, patch OpportunityPatch) error {
	set, args := patchClauses(map[string]any{
		"name":        patch.Name,
		"amount":      patch.Amount,
		"stage":       patch.Stage,
		"close_date":  patch.CloseDate,
		"probability": patch.Probability,
		"owner_id":    patch.OwnerID,
	})
	if len(set) == 0 {
		return nil
	}
	query := fmt.Sprintf(`UPDATE opportunities SET %s, needs_sync = FALSE, hubspot_synced = TRUE,
		last_synced_at = NOW(), updated_at = NOW() WHERE id = $%d`, strings.Join(set, ", "), len(args)+1)
	if _, err := s.db.ExecContext(ctx, query, append(args, id)...); err != nil {
		return fmt.Errorf("apply opportunity patch %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) GetOpportunity(ctx context.Context, id string) (Opportunity, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM opportunities WHERE id = $1`, opportunityColumns), id)
	return scanOpportunity(row)
}

const clientColumns = `id, name, arr, segment, phase, industry, region, owner_id, health, churn_risk, status,
	needs_sync, hubspot_synced, sync_error, claimed_at, last_synced_at, created_at, updated_at`

func scanClient(row interface{ Scan(...any) error }) (Client, error) {
	var c Client
	err := row.Scan(&c.ID, &c.Name, &c.ARR, &c.Segment, &c.Phase, &c.Industry, &c.Region, &c.OwnerID,
		&c.Health, &c.ChurnRisk, &c.Status, &c.NeedsSync, &c.HubSpotSynced, &c.SyncError,
		&c.ClaimedAt, &c.LastSyncedAt, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *PostgresStore) ClaimDirtyClients(ctx context.Context, limit int, lease time.Duration) ([]Client, error) {
	query := fmt.Sprintf(`
		UPDATE clients SET claimed_at = NOW()
		WHERE id IN (
			SELECT id FROM clients
			WHERE needs_sync
				AND (claimed_at IS NULL OR claimed_at < NOW() - make_interval(secs => $2))
			ORDER BY updated_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s`, clientColumns)
	rows, err := s.db.QueryContext(ctx, query, limit, lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("claim dirty clients: %w", err)
	}
	defer rows.Close()

	var items []Client
	for rows.Next() {
		item, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) MarkClientSynced(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE clients
		SET needs_sync = FALSE, hubspot_synced = TRUE, sync_error = NULL,
			claimed_at = NULL, last_synced_at = NOW(), updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark client synced: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetClientSyncError(ctx context.Context, id, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE clients SET sync_error = $2, claimed_at = NULL, updated_at = NOW()
		WHERE id = $1`, id, message)
	if err != nil {
		return fmt.Errorf("set client sync error: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertClient(ctx context.Context, c Client) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, name, arr, segment, phase, industry, region, owner_id, health, churn_risk, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,COALESCE($12, NOW()),COALESCE($13, NOW()))
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, arr = EXCLUDED.arr, segment = EXCLUDED.segment, phase = EXCLUDED.phase,
			industry = EXCLUDED.industry, region = EXCLUDED.region, owner_id = EXCLUDED.owner_id,
			status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
	`, c.ID, c.Name, c.ARR, c.Segment, c.Phase, c.Industry, c.Region, c.OwnerID, c.Health, c.ChurnRisk,
		c.Status, nullableTime(c.CreatedAt), nullableTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert client %s: %w", c.ID, err)
	}
	return nil
}

type ClientPatch struct {
	Name     *string
	ARR      *float64
	Segment  *string
	Phase    *string
	Status   *string
	Industry *string
	Region   *string
	OwnerID  *string
}

func (s *PostgresStore) ApplyClientPatch(ctx context.Context, id string, patch ClientPatch) error {
	set, args := patchClauses(map[string]any{
		"name":     patch.Name,
		"arr":      patch.ARR,
		"segment":  patch.Segment,
		"phase":    patch.Phase,
		"status":   patch.Status,
		"industry": patch.Industry,
		"region":   patch.Region,
		"owner_id": patch.OwnerID,
	})
	if len(set) == 0 {
		return nil
	}
	query := fmt.Sprintf(`UPDATE clients SET %s, needs_sync = FALSE, hubspot_synced = TRUE,
		last_synced_at = NOW(), updated_at = NOW() WHERE id = $%d`, strings.Join(set, ", "), len(args)+1)
	if _, err := s.db.ExecContext(ctx, query, append(args, id)...); err != nil {
		return fmt.Errorf("apply client patch %s: %w", id, err)
	}
	return nil
}

const contactColumns = `id, client_id, name, email, role, power, phone,
	needs_sync, hubspot_synced, sync_error, claimed_at, last_synced_at, created_at, updated_at`

func scanContact(row interface{ Scan(...any) error }) (Contact, error) {
	var c Contact
	err := row.Scan(&c.ID, &c.ClientID, &c.Name, &c.Email, &c.Role, &c.Power, &c.Phone,
		&c.NeedsSync, &c.HubSpotSynced, &c.SyncError, &c.ClaimedAt, &c.LastSyncedAt, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *PostgresStore) ClaimDirtyContacts(ctx context.Context, limit int, lease time.Duration) ([]Contact, error) {
	query := fmt.Sprintf(`
		UPDATE contacts SET claimed_at = NOW()
		WHERE id IN (
			SELECT id FROM contacts
			WHERE needs_sync
				AND (claimed_at IS NULL OR claimed_at < NOW() - make_interval(secs => $2))
			ORDER BY updated_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s`, contactColumns)
	rows, err := s.db.QueryContext(ctx, query, limit, lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("claim dirty contacts: %w", err)
	}
	defer rows.Close()

	var items []Contact
	for rows.Next() {
		item, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) MarkContactSynced(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE contacts
		SET needs_sync = FALSE, hubspot_synced = TRUE, sync_error = NULL,
			claimed_at = NULL, last_synced_at = NOW(), updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark contact synced: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetContactSyncError(ctx context.Context, id, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE contacts SET sync_error = $2, claimed_at = NULL, updated_at = NOW()
		WHERE id = $1`, id, message)
	if err != nil {
		return fmt.Errorf("set contact sync error: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertContact(ctx context.Context, c Contact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (id, client_id, name, email, role, power, phone, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,COALESCE($8, NOW()),COALESCE($9, NOW()))
		ON CONFLICT (id) DO UPDATE SET
			client_id = EXCLUDED.client_id, name = EXCLUDED.name, email = EXCLUDED.email,
			role = EXCLUDED.role, power = EXCLUDED.power, phone = EXCLUDED.phone,
			updated_at = EXCLUDED.updated_at
	`, c.ID, c.ClientID, c.Name, c.Email, c.Role, c.Power, c.Phone,
		nullableTime(c.CreatedAt), nullableTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert contact %s: %w", c.ID, err)
	}
	return nil
}

type ContactPatch struct {
	Email *string
	Role  *string
	Power *string
	Phone *string
}

func (s *PostgresStore) ApplyContactPatch(ctx context.Context, id string, patch ContactPatch) error {
	set, args := patchClauses(map[string]any{
		"email": patch.Email,
		"role":  patch.Role,
		"power": patch.Power,
		"phone": patch.Phone,
	})
	if len(set) == 0 {
		return nil
	}
	query := fmt.Sprintf(`UPDATE contacts SET %s, needs_sync = FALSE, hubspot_synced = TRUE,
		last_synced_at = NOW(), updated_at = NOW() WHERE id = $%d`, strings.Join(set, ", "), len(args)+1)
	if _, err := s.db.ExecContext(ctx, query, append(args, id)...); err != nil {
		return fmt.Errorf("apply contact patch %s: %w", id, err)
	}
	return nil
}

// UpdateContactNamePart replaces either the first or last name of a contact.
// The read-modify-write runs in one transaction with the row locked, so
// concurrent webhook deliveries for the same contact serialize.
func (s *PostgresStore) UpdateContactNamePart(ctx context.Context, id, part, value string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin name update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT name FROM contacts WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lock contact %s: %w", id, err)
	}

	merged := MergeContactName(current, part, value)
	_, err = tx.ExecContext(ctx, `
		UPDATE contacts SET name = $2, needs_sync = FALSE, hubspot_synced = TRUE,
			last_synced_at = NOW(), updated_at = NOW()
		WHERE id = $1`, id, merged)
	if err != nil {
		return fmt.Errorf("update contact name %s: %w", id, err)
	}
	return tx.Commit()
}

// MergeContactName rebuilds a joined name after a single-part change.
func MergeContactName(current, part, value string) string {
	first, last := splitName(current)
	if part == "firstname" {
		first = value
	} else {
		last = value
	}
	return strings.TrimSpace(first + " " + last)
}

func splitName(name string) (first, last string) {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}

func (s *PostgresStore) GetContact(ctx context.Context, id string) (Contact, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM contacts WHERE id = $1`, contactColumns), id)
	return scanContact(row)
}

func (s *PostgresStore) InsertSyncLog(ctx context.Context, entry SyncLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	metadata, err := marshalJSON(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal sync log metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_log (id, object_type, object_id, direction, status, message, error_details, metadata, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.ObjectType, entry.ObjectID, entry.Direction, entry.Status, entry.Message,
		entry.ErrorDetails, metadata, entry.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert sync log: %w", err)
	}
	return nil
}

const integrationColumns = `id, organization_id, provider, connection_scope, status, settings, last_synced_at, created_at, updated_at`

func scanIntegration(row interface{ Scan(...any) error }) (Integration, error) {
	var item Integration
	var settings []byte
	err := row.Scan(&item.ID, &item.OrganizationID, &item.Provider, &item.ConnectionScope,
		&item.Status, &settings, &item.LastSyncedAt, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Integration{}, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &item.Settings); err != nil {
			return Integration{}, fmt.Errorf("decode integration settings %s: %w", item.ID, err)
		}
	}
	return item, nil
}

// ListIntegrations returns rows for a provider, optionally scoped to one
// organization. An empty organizationID returns all rows for the provider.
func (s *PostgresStore) ListIntegrations(ctx context.Context, provider, organizationID string) ([]Integration, error) {
	query := fmt.Sprintf(`SELECT %s FROM integrations WHERE provider = $1`, integrationColumns)
	args := []any{provider}
	if organizationID != "" {
		query += ` AND organization_id = $2`
		args = append(args, organizationID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	defer rows.Close()

	var items []Integration
	for rows.Next() {
		item, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListConnectedIntegrations returns connected rows visible to an
// organization, including global rows with no organization.
func (s *PostgresStore) ListConnectedIntegrations(ctx context.Context, organizationID string) ([]Integration, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM integrations
		WHERE status = 'connected' AND (organization_id = $1 OR organization_id IS NULL)
		ORDER BY organization_id NULLS LAST, provider`, integrationColumns)
	rows, err := s.db.QueryContext(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list connected integrations: %w", err)
	}
	defer rows.Close()

	var items []Integration
	for rows.Next() {
		item, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpdateIntegrationSettings(ctx context.Context, id string, settings IntegrationSettings) error {
	encoded, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode integration settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE integrations SET settings = $2, updated_at = NOW() WHERE id = $1`, id, encoded)
	if err != nil {
		return fmt.Errorf("update integration settings %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) MarkIntegrationError(ctx context.Context, id string, settings IntegrationSettings, message string) error {
	settings.LastError = message
	encoded, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode integration settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE integrations SET status = 'error', settings = $2, updated_at = NOW() WHERE id = $1`, id, encoded)
	if err != nil {
		return fmt.Errorf("mark integration error %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) MarkIntegrationSynced(ctx context.Context, id string, settings IntegrationSettings) error {
	settings.LastError = ""
	encoded, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode integration settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE integrations SET status = 'connected', settings = $2, last_synced_at = NOW(), updated_at = NOW()
		WHERE id = $1`, id, encoded)
	if err != nil {
		return fmt.Errorf("mark integration synced %s: %w", id, err)
	}
	return nil
}

// UpsertIntegrationStatus records connection state keyed by
// (organization, provider), creating the row on first sight.
func (s *PostgresStore) UpsertIntegrationStatus(ctx context.Context, organizationID *string, provider, scope, status string, settings IntegrationSettings) error {
	encoded, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode integration settings: %w", err)
	}
	synced := status == "connected"
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO integrations (id, organization_id, provider, connection_scope, status, settings, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, CASE WHEN $7 THEN NOW() ELSE NULL END)
		ON CONFLICT (organization_id, provider) DO UPDATE SET
			connection_scope = EXCLUDED.connection_scope,
			status = EXCLUDED.status,
			settings = EXCLUDED.settings,
			last_synced_at = CASE WHEN $7 THEN NOW() ELSE integrations.last_synced_at END,
			updated_at = NOW()
	`, uuid.NewString(), organizationID, provider, scope, status, encoded, synced)
	if err != nil {
		return fmt.Errorf("upsert integration status %s: %w", provider, err)
	}
	return nil
}

const userIntegrationColumns = `id, user_id, provider, access_token, refresh_token, scope, token_type, expiry_date, created_at, updated_at`

// ListUserIntegrations returns per-user OAuth grants for a provider. An empty
// userID returns all grants.
func (s *PostgresStore) ListUserIntegrations(ctx context.Context, provider, userID string) ([]UserIntegration, error) {
	query := fmt.Sprintf(`SELECT %s FROM user_integrations WHERE provider = $1`, userIntegrationColumns)
	args := []any{provider}
	if userID != "" {
		query += ` AND user_id = $2`
		args = append(args, userID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list user integrations: %w", err)
	}
	defer rows.Close()

	var items []UserIntegration
	for rows.Next() {
		var item UserIntegration
		if err := rows.Scan(&item.ID, &item.UserID, &item.Provider, &item.AccessToken, &item.RefreshToken,
			&item.Scope, &item.TokenType, &item.ExpiryDate, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user integration: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpdateUserIntegrationToken(ctx context.Context, id string, accessToken, refreshToken, scope, tokenType, expiryDate *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_integrations
		SET access_token = $2, refresh_token = $3, scope = $4, token_type = $5, expiry_date = $6, updated_at = NOW()
		WHERE id = $1`, id, accessToken, refreshToken, scope, tokenType, expiryDate)
	if err != nil {
		return fmt.Errorf("update user integration token %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) UsersByID(ctx context.Context, ids []string) (map[string]User, error) {
	users := make(map[string]User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT id, organization_id FROM users WHERE id IN (%s)`, strings.Join(placeholders, ","))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.OrganizationID); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users[user.ID] = user
	}
	return users, rows.Err()
}

func (s *PostgresStore) GetUserOrganization(ctx context.Context, userID string) (*string, error) {
	var organizationID *string
	err := s.db.QueryRowContext(ctx, `SELECT organization_id FROM users WHERE id = $1`, userID).Scan(&organizationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user organization: %w", err)
	}
	return organizationID, nil
}

func (s *PostgresStore) UpsertInvoices(ctx context.Context, invoices []Invoice) error {
	for _, inv := range invoices {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO invoices (invoice_number, client_id, status, issue_date, due_date, paid_date, amount, tax, total, payment_term, notes)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (invoice_number) DO UPDATE SET
				client_id = EXCLUDED.client_id, status = EXCLUDED.status, issue_date = EXCLUDED.issue_date,
				due_date = EXCLUDED.due_date, paid_date = EXCLUDED.paid_date, amount = EXCLUDED.amount,
				tax = EXCLUDED.tax, total = EXCLUDED.total, payment_term = EXCLUDED.payment_term,
				notes = EXCLUDED.notes, updated_at = NOW()
		`, inv.InvoiceNumber, inv.ClientID, inv.Status, inv.IssueDate, inv.DueDate, inv.PaidDate,
			inv.Amount, inv.Tax, inv.Total, inv.PaymentTerm, inv.Notes)
		if err != nil {
			return fmt.Errorf("upsert invoice %s: %w", inv.InvoiceNumber, err)
		}
	}
	return nil
}

// InsertAnalyticsEvent appends one event. Sync runs and agent notifications
// are history; a new row per occurrence.
func (s *PostgresStore) InsertAnalyticsEvent(ctx context.Context, event AnalyticsEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	metadata, err := marshalJSON(event.Metadata)
	if err != nil {
		return fmt.Errorf("marshal analytics metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analytics_events (id, organization_id, user_id, event_type, entity_type, entity_id, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, event.ID, event.OrganizationID, event.UserID, event.EventType, event.EntityType, event.EntityID, metadata)
	if err != nil {
		return fmt.Errorf("insert analytics event: %w", err)
	}
	return nil
}

// UpsertAnalyticsEvents writes latest-state events (invoices, inbox
// messages): re-syncing the same entity updates its row instead of growing
// history. Run records and notifications go through InsertAnalyticsEvent,
// which appends.
func (s *PostgresStore) UpsertAnalyticsEvents(ctx context.Context, events []AnalyticsEvent) error {
	for _, event := range events {
		if event.ID == "" {
			event.ID = uuid.NewString()
		}
		metadata, err := marshalJSON(event.Metadata)
		if err != nil {
			return fmt.Errorf("marshal analytics metadata: %w", err)
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO analytics_events (id, organization_id, user_id, event_type, entity_type, entity_id, metadata)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (entity_id, entity_type) WHERE entity_type IN ('invoice', 'gmail_message')
			DO UPDATE SET event_type = EXCLUDED.event_type, metadata = EXCLUDED.metadata
		`, event.ID, event.OrganizationID, event.UserID, event.EventType, event.EntityType, event.EntityID, metadata)
		if err != nil {
			return fmt.Errorf("upsert analytics event %s: %w", event.EntityID, err)
		}
	}
	return nil
}

func (s *PostgresStore) PipelineSnapshot(ctx context.Context) (PipelineSnapshot, error) {
	var snap PipelineSnapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE stage NOT IN ('ClosedWon','ClosedLost')), 0),
			COUNT(*) FILTER (WHERE stage NOT IN ('ClosedWon','ClosedLost')),
			COUNT(*) FILTER (WHERE stage = 'ClosedWon'),
			COUNT(*) FILTER (WHERE stage = 'ClosedLost')
		FROM opportunities
	`).Scan(&snap.OpenAmount, &snap.OpenCount, &snap.WonCount, &snap.LostCount)
	if err != nil {
		return PipelineSnapshot{}, fmt.Errorf("pipeline snapshot: %w", err)
	}
	return snap, nil
}

func (s *PostgresStore) CountOpenInvoices(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM invoices WHERE status <> 'Paid'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count open invoices: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) CountFocusSessionsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM focus_sessions WHERE user_id = $1 AND started_at >= $2`, userID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count focus sessions: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListOpenOpportunities(ctx context.Context, limit int) ([]Opportunity, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM opportunities
		WHERE stage NOT IN ('ClosedWon','ClosedLost')
		ORDER BY amount DESC
		LIMIT $1`, opportunityColumns)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list open opportunities: %w", err)
	}
	defer rows.Close()

	var items []Opportunity
	for rows.Next() {
		item, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan opportunity: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func patchClauses(fields map[string]any) (set []string, args []any) {
	// Deterministic column order keeps queries stable for logs and tests.
	columns := make([]string, 0, len(fields))
	for column := range fields {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	for _, column := range columns {
		value := fields[column]
		switch v := value.(type) {
		case *string:
			if v == nil {
				continue
			}
			args = append(args, *v)
		case *float64:
			if v == nil {
				continue
			}
			args = append(args, *v)
		case *int:
			if v == nil {
				continue
			}
			args = append(args, *v)
		default:
			continue
		}
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	return set, args
}

func marshalJSON(value map[string]any) ([]byte, error) {
	if value == nil {
		return nil, nil
	}
	return json.Marshal(value)
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
