// Package campaigns is the adapter to the campaign data API, an external
// collaborator reached over HTTP with bearer-token auth.
package campaigns

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 5 * time.Second

// Campaign is one structured row from the campaigns table.
type Campaign struct {
	CampaignID      int     `json:"campaign_id"`
	CampaignTopic   string  `json:"campaign_topic"`
	CampaignDate    string  `json:"campaign_date"`
	CustomerSegment string  `json:"customer_segment"`
	AudienceSize    int     `json:"audience_size"`
	Sent            int     `json:"sent"`
	Opens           int     `json:"opens"`
	Clicks          int     `json:"clicks"`
	Conversions     int     `json:"conversions"`
	OpenRate        float64 `json:"open_rate"`
	ClickRate       float64 `json:"click_rate"`
	ConversionRate  float64 `json:"conversion_rate"`
}

// Summary aggregates all campaigns.
type Summary struct {
	TotalCampaigns        int     `json:"total_campaigns"`
	AverageConversionRate float64 `json:"average_conversion_rate"`
	AverageOpenRate       float64 `json:"average_open_rate"`
	AverageClickRate      float64 `json:"average_click_rate"`
	TotalConversions      int     `json:"total_conversions"`
	TotalOpens            int     `json:"total_opens"`
	TotalClicks           int     `json:"total_clicks"`
}

// Filters select which structured query to run. Populated from the analyzer's
// extracted entities; the zero value falls back to the summary endpoint.
type Filters struct {
	CampaignIDs []int
	Metric      string
	Limit       int
	Topic       string
	Segment     string
	Compare     bool
}

// Result is the normalized response: rows and/or a summary, plus the source
// reference used for attribution.
type Result struct {
	Rows      []Campaign
	Summary   *Summary
	SourceRef string
}

// Client calls the campaign data API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
}

// New creates a Client for the given base URL and API key. timeout bounds
// each call; pass 0 for the default.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 0},
		timeout:    timeout,
	}
}

// Query runs the structured query selected by the filters and returns
// normalized rows. Endpoint selection mirrors the API surface: compare when
// two IDs are flagged for comparison, lookup by ID, by topic, by segment,
// top-by-metric, and summary stats as the fallback.
func (c *Client) Query(ctx context.Context, f Filters) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	switch {
	case f.Compare && len(f.CampaignIDs) >= 2:
		return c.compare(ctx, f.CampaignIDs[0], f.CampaignIDs[1])
	case len(f.CampaignIDs) > 0:
		return c.byIDs(ctx, f.CampaignIDs)
	case f.Topic != "":
		return c.byList(ctx, "/campaigns/topic/"+url.PathEscape(f.Topic), fmt.Sprintf("campaigns/topic/%s", f.Topic))
	case f.Segment != "":
		return c.byList(ctx, "/campaigns/segment/"+url.PathEscape(f.Segment), fmt.Sprintf("campaigns/segment/%s", f.Segment))
	case f.Metric != "":
		limit := f.Limit
		if limit <= 0 {
			limit = 5
		}
		path := fmt.Sprintf("/campaigns/top/%s?limit=%d", url.PathEscape(f.Metric), limit)
		return c.byList(ctx, path, fmt.Sprintf("campaigns/top/%s", f.Metric))
	default:
		return c.summary(ctx)
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("campaign API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("campaign API: unexpected status %d for %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding campaign API response: %w", err)
	}
	return nil
}

func (c *Client) byIDs(ctx context.Context, ids []int) (Result, error) {
	res := Result{SourceRef: fmt.Sprintf("campaigns/%d", ids[0])}
	for _, id := range ids {
		var camp Campaign
		if err := c.get(ctx, fmt.Sprintf("/campaigns/%d", id), &camp); err != nil {
			return Result{}, err
		}
		res.Rows = append(res.Rows, camp)
	}
	if len(ids) > 1 {
		res.SourceRef = "campaigns/by-id"
	}
	return res, nil
}

// listResponse mirrors the list-shaped endpoints (top, topic, segment).
type listResponse struct {
	Campaigns []Campaign `json:"campaigns"`
	Count     int        `json:"count"`
	Metric    string     `json:"metric"`
	Limit     int        `json:"limit"`
}

func (c *Client) byList(ctx context.Context, path, sourceRef string) (Result, error) {
	var lr listResponse
	if err := c.get(ctx, path, &lr); err != nil {
		return Result{}, err
	}
	return Result{Rows: lr.Campaigns, SourceRef: sourceRef}, nil
}

// compareResponse mirrors GET /campaigns/compare/{a}/{b}.
type compareResponse struct {
	Campaign1 Campaign `json:"campaign_1"`
	Campaign2 Campaign `json:"campaign_2"`
}

func (c *Client) compare(ctx context.Context, a, b int) (Result, error) {
	var cr compareResponse
	if err := c.get(ctx, fmt.Sprintf("/campaigns/compare/%d/%d", a, b), &cr); err != nil {
		return Result{}, err
	}
	return Result{
		Rows:      []Campaign{cr.Campaign1, cr.Campaign2},
		SourceRef: fmt.Sprintf("campaigns/compare/%d/%d", a, b),
	}, nil
}

func (c *Client) summary(ctx context.Context) (Result, error) {
	var s Summary
	if err := c.get(ctx, "/campaigns/summary", &s); err != nil {
		return Result{}, err
	}
	return Result{Summary: &s, SourceRef: "campaigns/summary"}, nil
}
