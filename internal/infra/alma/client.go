package alma

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kth-biblioteket/almatools-tasks/internal/core/domain"
	"github.com/kth-biblioteket/almatools-tasks/internal/reconcile/metrics"
)

// Client talks to the Alma record API (bibs, holdings, items, po-lines).
// Creates are POST, updates are PUT; all responses are XML and are parsed only
// for the generated identifier of the resource type.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new Alma API client with a bounded request timeout.
func NewClient(cfg Config, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// CreateBib creates a bibliographic record from a MARCXML <record> fragment
// and returns the generated MMS id.
func (c *Client) CreateBib(ctx context.Context, record []byte) (string, error) {
	body := []byte("<bib><suppress_from_publishing>false</suppress_from_publishing>" + string(record) + "</bib>")
	data, err := c.do(ctx, "create_bib", http.MethodPost, "/almaws/v1/bibs", url.Values{"validate": {"true"}}, body)
	if err != nil {
		return "", err
	}

	var resp bibResponse
	if err := xml.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("alma create bib: parse response: %w", err)
	}
	if resp.MmsID == "" {
		return "", fmt.Errorf("alma create bib: response carries no mms_id")
	}
	return resp.MmsID, nil
}

// UpdateBib replaces an existing bibliographic record in place.
func (c *Client) UpdateBib(ctx context.Context, mmsID string, record []byte) error {
	body := []byte("<bib><suppress_from_publishing>false</suppress_from_publishing>" + string(record) + "</bib>")
	_, err := c.do(ctx, "update_bib", http.MethodPut, "/almaws/v1/bibs/"+url.PathEscape(mmsID), nil, body)
	return err
}

// CreateHolding creates a holdings record under a bib and returns its id.
func (c *Client) CreateHolding(ctx context.Context, mmsID string, h *Holding) (string, error) {
	body, err := xml.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("alma create holding: marshal: %w", err)
	}
	path := fmt.Sprintf("/almaws/v1/bibs/%s/holdings", url.PathEscape(mmsID))
	data, err := c.do(ctx, "create_holding", http.MethodPost, path, nil, body)
	if err != nil {
		return "", err
	}

	var resp holdingResponse
	if err := xml.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("alma create holding: parse response: %w", err)
	}
	if resp.HoldingID == "" {
		return "", fmt.Errorf("alma create holding: response carries no holding_id")
	}
	return resp.HoldingID, nil
}

// UpdateHolding replaces a holdings record in place.
func (c *Client) UpdateHolding(ctx context.Context, mmsID, holdingID string, h *Holding) error {
	body, err := xml.Marshal(h)
	if err != nil {
		return fmt.Errorf("alma update holding: marshal: %w", err)
	}
	path := fmt.Sprintf("/almaws/v1/bibs/%s/holdings/%s", url.PathEscape(mmsID), url.PathEscape(holdingID))
	_, err = c.do(ctx, "update_holding", http.MethodPut, path, nil, body)
	return err
}

// CreateItem creates an item under a holdings record and returns its pid.
func (c *Client) CreateItem(ctx context.Context, mmsID, holdingID string, item *Item) (string, error) {
	body, err := xml.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("alma create item: marshal: %w", err)
	}
	path := fmt.Sprintf("/almaws/v1/bibs/%s/holdings/%s/items", url.PathEscape(mmsID), url.PathEscape(holdingID))
	data, err := c.do(ctx, "create_item", http.MethodPost, path, nil, body)
	if err != nil {
		return "", err
	}

	var resp itemResponse
	if err := xml.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("alma create item: parse response: %w", err)
	}
	if resp.ItemData.PID == "" {
		return "", fmt.Errorf("alma create item: response carries no pid")
	}
	return resp.ItemData.PID, nil
}

// CreatePOLine creates a purchase-order line referencing a bib. The response
// also carries the holdings record Alma provisioned for the order.
func (c *Client) CreatePOLine(ctx context.Context, pol *POLine) (*POLineResult, error) {
	body, err := xml.Marshal(pol)
	if err != nil {
		return nil, fmt.Errorf("alma create po-line: marshal: %w", err)
	}
	data, err := c.do(ctx, "create_po_line", http.MethodPost, "/almaws/v1/acq/po-lines", nil, body)
	if err != nil {
		return nil, err
	}

	var resp poLineResponse
	if err := xml.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("alma create po-line: parse response: %w", err)
	}
	if resp.Number == "" {
		return nil, fmt.Errorf("alma create po-line: response carries no number")
	}
	result := &POLineResult{Number: resp.Number}
	if len(resp.Holdings) > 0 {
		result.HoldingID = resp.Holdings[0].ID
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body []byte) ([]byte, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+query.Encode(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("alma: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("Accept", "application/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RemoteCalls.WithLabelValues("alma", op, "error").Inc()
		return nil, fmt.Errorf("alma %s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RemoteCalls.WithLabelValues("alma", op, "error").Inc()
		return nil, fmt.Errorf("alma %s: read response: %w", op, err)
	}

	metrics.RemoteCalls.WithLabelValues("alma", op, resp.Status).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.RemoteError{
			System: "alma",
			Op:     op,
			Status: resp.StatusCode,
			Body:   string(data),
		}
	}
	return data, nil
}
