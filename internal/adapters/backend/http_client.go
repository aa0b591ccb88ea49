package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mikey/mailscan-sync/internal/core"
	"go.uber.org/zap"
)

// HTTPClient implements the BackendAPI interface against the scan
// backend's REST API. All failures, transport-level or non-2xx, wrap
// core.ErrTransport so the core applies its do-not-touch-the-cache policy
// uniformly.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPClient creates a backend client. token may be empty for
// unauthenticated endpoints.
func NewHTTPClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// analyticsResponse mirrors the backend's /api/analytics payload.
type analyticsResponse struct {
	VerdictDistribution  core.VerdictDistribution `json:"verdictDistribution"`
	LanguageDistribution map[string]int           `json:"languageDistribution"`
	TopPhishingDomains   []core.PhishingDomain    `json:"topPhishingDomains"`
	AccuracyMetrics      core.AccuracyMetrics     `json:"accuracyMetrics"`
	ScansOverTime        []core.TimeSeriesPoint   `json:"scansOverTime"`
}

// historyResponse mirrors the backend's /api/history payload.
type historyResponse struct {
	History    []historyRecord  `json:"history"`
	Pagination *core.Pagination `json:"pagination"`
	Timestamp  string           `json:"timestamp"`
}

type historyRecord struct {
	ID         string  `json:"id"`
	Date       string  `json:"date"`
	Subject    string  `json:"subject"`
	Sender     string  `json:"sender"`
	Verdict    string  `json:"verdict"`
	Confidence float64 `json:"confidence"`
}

// FetchAnalytics retrieves the analytics snapshot for a time range.
func (c *HTTPClient) FetchAnalytics(ctx context.Context, timeRange string) (*core.AnalyticsSnapshot, error) {
	q := url.Values{"timeRange": {timeRange}}

	var resp analyticsResponse
	if err := c.getJSON(ctx, "/api/analytics", q, &resp); err != nil {
		return nil, err
	}

	return &core.AnalyticsSnapshot{
		TimeRange:            timeRange,
		VerdictDistribution:  resp.VerdictDistribution,
		LanguageDistribution: resp.LanguageDistribution,
		TopPhishingDomains:   resp.TopPhishingDomains,
		AccuracyMetrics:      resp.AccuracyMetrics,
		ScansOverTime:        resp.ScansOverTime,
		FetchedAt:            time.Now(),
	}, nil
}

// FetchScanHistory retrieves one page of the authoritative scan list,
// newest first.
func (c *HTTPClient) FetchScanHistory(ctx context.Context, timeRange string, page, limit int) ([]core.ScanRecord, *core.Pagination, error) {
	q := url.Values{
		"timeRange": {timeRange},
		"page":      {strconv.Itoa(page)},
		"limit":     {strconv.Itoa(limit)},
	}

	var resp historyResponse
	if err := c.getJSON(ctx, "/api/history", q, &resp); err != nil {
		return nil, nil, err
	}

	records := make([]core.ScanRecord, 0, len(resp.History))
	for _, h := range resp.History {
		date, err := time.Parse(time.RFC3339, h.Date)
		if err != nil {
			c.logger.Warn("Skipping history record with unparseable date",
				zap.String("scan_id", h.ID), zap.String("date", h.Date), zap.Error(err))
			continue
		}
		records = append(records, core.ScanRecord{
			ID:         h.ID,
			Verdict:    core.Verdict(h.Verdict),
			Confidence: h.Confidence,
			Subject:    h.Subject,
			Sender:     h.Sender,
			Date:       date,
		})
	}

	return records, resp.Pagination, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%w: building request: %v", core.ErrTransport, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("Backend request failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%w: %v", core.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Backend returned non-OK status",
			zap.String("path", path), zap.Int("status", resp.StatusCode))
		return fmt.Errorf("%w: unexpected status %d", core.ErrTransport, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", core.ErrTransport, err)
	}
	return nil
}
