package alma

import (
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

// SRUClient performs existence checks against the Alma SRU search interface.
type SRUClient struct {
	baseURL     string
	institution string
	httpClient  *http.Client
}

// NewSRUClient creates a new SRU search client.
func NewSRUClient(cfg Config, timeout time.Duration) *SRUClient {
	return &SRUClient{
		baseURL:     strings.TrimRight(cfg.SRUBaseURL, "/"),
		institution: cfg.Institution,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

type searchRetrieveResponse struct {
	XMLName         xml.Name `xml:"searchRetrieveResponse"`
	NumberOfRecords int      `xml:"numberOfRecords"`
	Records         []struct {
		RecordIdentifier string `xml:"recordIdentifier"`
	} `xml:"records>record"`
}

// Search queries for bibs whose other_system_number equals the external
// identifier. It returns the match count and, when exactly one record
// matched, its MMS id.
func (c *SRUClient) Search(ctx context.Context, externalID string) (int, string, error) {
	query := url.Values{
		"version":      {"1.2"},
		"operation":    {"searchRetrieve"},
		"recordSchema": {"marcxml"},
		"query":        {fmt.Sprintf("alma.other_system_number==%q", externalID)},
	}
	endpoint := fmt.Sprintf("%s/view/sru/%s?%s", c.baseURL, c.institution, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, "", fmt.Errorf("sru search: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RemoteCalls.WithLabelValues("alma-sru", "search", "error").Inc()
		return 0, "", fmt.Errorf("sru search: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RemoteCalls.WithLabelValues("alma-sru", "search", "error").Inc()
		return 0, "", fmt.Errorf("sru search: read response: %w", err)
	}

	metrics.RemoteCalls.WithLabelValues("alma-sru", "search", resp.Status).Inc()

	if resp.StatusCode != http.StatusOK {
		return 0, "", &domain.RemoteError{
			System: "alma-sru",
			Op:     "search",
			Status: resp.StatusCode,
			Body:   string(data),
		}
	}

	var parsed searchRetrieveResponse
	if err := xml.Unmarshal(data, &parsed); err != nil {
		return 0, "", fmt.Errorf("sru search: parse response: %w", err)
	}

	if parsed.NumberOfRecords == 1 && len(parsed.Records) > 0 {
		return 1, parsed.Records[0].RecordIdentifier, nil
	}
	return parsed.NumberOfRecords, "", nil
}
