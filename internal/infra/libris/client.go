package libris

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kth-biblioteket/almatools-tasks/internal/core/domain"
	"github.com/kth-biblioteket/almatools-tasks/internal/reconcile/metrics"
)

// Config holds Libris connection configuration.
type Config struct {
	ExportURL        string `yaml:"export_url"`   // marc_export feed host
	APIBaseURL       string `yaml:"api_base_url"` // Libris XL record store
	TokenURL         string `yaml:"token_url"`
	ClientID         string `yaml:"client_id"`
	ClientSecret     string `yaml:"client_secret"`
	Sigel            string `yaml:"sigel"`
	ImportMarker     string `yaml:"import_marker"`
	ExportProperties string `yaml:"export_properties"` // path to the export profile file
}

// Client talks to Libris: the MARC export feed and the XL record store.
// Record writes are conditional PUTs carrying the ETag read with the record;
// a stale token fails the write instead of silently overwriting.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new Libris client with a bounded request timeout.
func NewClient(cfg Config, timeout time.Duration) *Client {
	return &Client{
		cfg: cfg,
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

const exportTimeLayout = "2006-01-02T15:04:05"

// Updates fetches the MARC-XML collection of records changed in the window.
// An empty collection is a valid "no updates" result.
func (c *Client) Updates(ctx context.Context, from, to time.Time) ([]byte, error) {
	profile, err := os.ReadFile(c.cfg.ExportProperties)
	if err != nil {
		return nil, fmt.Errorf("libris updates: read export profile: %w", err)
	}

	query := url.Values{
		"from":          {from.UTC().Format(exportTimeLayout) + "Z"},
		"until":         {to.UTC().Format(exportTimeLayout) + "Z"},
		"deleted":       {"ignore"},
		"virtualDelete": {"false"},
	}
	endpoint := strings.TrimRight(c.cfg.ExportURL, "/") + "/api/marc_export?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(profile))
	if err != nil {
		return nil, fmt.Errorf("libris updates: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	return c.send(req, "export")
}

// Token exchanges client credentials for a bearer token.
func (c *Client) Token(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("libris token: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	data, err := c.send(req, "token")
	if err != nil {
		return "", err
	}

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("libris token: parse response: %w", err)
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("libris token: response carries no access_token")
	}
	return resp.AccessToken, nil
}

// FindHolding looks up the holding record held by the configured sigel for a
// bib. It returns the holding record URI when exactly one matched, and the
// empty string for zero or ambiguous matches.
func (c *Client) FindHolding(ctx context.Context, bibID string) (string, error) {
	query := url.Values{
		"itemOf.@id": {strings.TrimRight(c.cfg.APIBaseURL, "/") + "/" + bibID},
		"heldBy.@id": {"https://libris.kb.se/library/" + c.cfg.Sigel},
	}
	endpoint := strings.TrimRight(c.cfg.APIBaseURL, "/") + "/find.jsonld?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("libris find holding: create request: %w", err)
	}
	req.Header.Set("Accept", "application/ld+json")

	data, err := c.send(req, "find_holding")
	if err != nil {
		return "", err
	}

	var resp struct {
		TotalItems int `json:"totalItems"`
		Items      []struct {
			ID string `json:"@id"`
		} `json:"items"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("libris find holding: parse response: %w", err)
	}
	if resp.TotalItems != 1 || len(resp.Items) != 1 {
		return "", nil
	}
	return resp.Items[0].ID, nil
}

// GetHolding fetches a holding record graph together with its concurrency
// token (ETag).
func (c *Client) GetHolding(ctx context.Context, holdingURI string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, holdingURI, nil)
	if err != nil {
		return nil, "", fmt.Errorf("libris get holding: create request: %w", err)
	}
	req.Header.Set("Accept", "application/ld+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RemoteCalls.WithLabelValues("libris", "get_holding", "error").Inc()
		return nil, "", fmt.Errorf("libris get_holding: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("libris get_holding: read response: %w", err)
	}

	metrics.RemoteCalls.WithLabelValues("libris", "get_holding", resp.Status).Inc()

	if resp.StatusCode != http.StatusOK {
		return nil, "", &domain.RemoteError{System: "libris", Op: "get_holding", Status: resp.StatusCode, Body: string(data)}
	}

	etag := resp.Header.Get("ETag")
	if etag == "" {
		return nil, "", fmt.Errorf("libris get_holding: response carries no ETag")
	}
	return data, etag, nil
}

// PutHolding conditionally replaces a holding record graph. The ETag read
// with the graph gates the write; Libris answers 412 when it is stale.
func (c *Client) PutHolding(ctx context.Context, token, holdingURI string, graph []byte, etag string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, holdingURI, bytes.NewReader(graph))
	if err != nil {
		return fmt.Errorf("libris put holding: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/ld+json")
	req.Header.Set("If-Match", etag)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("XL-Active-Sigel", c.cfg.Sigel)

	_, err = c.send(req, "put_holding")
	return err
}

func (c *Client) send(req *http.Request, op string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RemoteCalls.WithLabelValues("libris", op, "error").Inc()
		return nil, fmt.Errorf("libris %s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RemoteCalls.WithLabelValues("libris", op, "error").Inc()
		return nil, fmt.Errorf("libris %s: read response: %w", op, err)
	}

	metrics.RemoteCalls.WithLabelValues("libris", op, resp.Status).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.RemoteError{System: "libris", Op: op, Status: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}
