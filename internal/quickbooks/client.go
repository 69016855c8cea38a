// Package quickbooks pulls invoices from the QuickBooks Online API into the
// local invoices table.
package quickbooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// invoiceRecord mirrors the QuickBooks invoice payload, limited to the
// fields the sync reads.
type invoiceRecord struct {
	ID              string  `json:"Id"`
	DocNumber       string  `json:"DocNumber"`
	TxnDate         string  `json:"TxnDate"`
	DueDate         string  `json:"DueDate"`
	TotalAmt        float64 `json:"TotalAmt"`
	Balance         float64 `json:"Balance"`
	LastPaymentDate string  `json:"LastPaymentDate"`
	PrivateNote     string  `json:"PrivateNote"`
	CustomerRef     struct {
		Value string `json:"value"`
	} `json:"CustomerRef"`
	SalesTermRef struct {
		Name string `json:"name"`
	} `json:"SalesTermRef"`
	TxnTaxDetail struct {
		TotalTax float64 `json:"TotalTax"`
	} `json:"TxnTaxDetail"`
}

type queryResponse struct {
	QueryResponse struct {
		Invoice []invoiceRecord `json:"Invoice"`
	} `json:"QueryResponse"`
}

// Client queries the QuickBooks company data API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) QueryInvoices(ctx context.Context, accessToken, realmID string, limit int) ([]invoiceRecord, error) {
	query := url.QueryEscape(fmt.Sprintf("select * from Invoice maxresults %d", limit))
	endpoint := fmt.Sprintf("%s/v3/company/%s/query?query=%s&minorversion=70", c.baseURL, realmID, query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch invoices: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read invoice response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("quickbooks api error (%d): %s", resp.StatusCode, body)
	}

	var parsed queryResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode invoice response: %w", err)
	}
	return parsed.QueryResponse.Invoice, nil
}
