// Package usaspending wraps the USAspending award-search API.
package usaspending

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/spendtrack/internal/resilience"
)

// DefaultBaseURL is the production USAspending API root.
const DefaultBaseURL = "https://api.usaspending.gov/api/v2"

const searchPath = "/search/spending_by_award/"

// searchFields is the fixed projection requested for every search.
var searchFields = []string{
	"Award ID",
	"Recipient Name",
	"Start Date",
	"Award Amount",
	"Awarding Agency",
	"Awarding Sub Agency",
	"Contract Award Type",
	"recipient_id",
	"Place of Performance State Code",
	"Description",
}

// APIError is a non-2xx response from the API. It is not retried beyond the
// client's built-in retry budget and is fatal to the caller.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("usaspending: API error: %d - %s", e.StatusCode, e.Body)
}

// Options configures the client.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// RateLimit is the sustained requests-per-second budget. Zero means the
	// default of 5/s; negative disables limiting.
	RateLimit float64
	Retry     *resilience.RetryConfig
}

// Client calls the award-search API with retry and rate limiting.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
}

// New creates a Client with the given options.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "spendtrack/1.0"
	}

	var limiter *rate.Limiter
	if opts.RateLimit >= 0 {
		rps := opts.RateLimit
		if rps == 0 {
			rps = 5
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}

	retry := resilience.DefaultRetryConfig()
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("usaspending", "search_awards")
	}

	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		baseURL:    opts.BaseURL,
		userAgent:  opts.UserAgent,
		limiter:    limiter,
		retry:      retry,
	}
}

// SearchOptions selects one page of awards.
type SearchOptions struct {
	Category Category
	Page     int
	Limit    int
	// StartDate/EndDate bound the time_period filter. Zero values default to
	// one year back and today.
	StartDate time.Time
	EndDate   time.Time
}

type searchRequest struct {
	Filters searchFilters `json:"filters"`
	Fields  []string      `json:"fields"`
	Page    int           `json:"page"`
	Limit   int           `json:"limit"`
	Sort    string        `json:"sort"`
	Order   string        `json:"order"`
}

type searchFilters struct {
	TimePeriod     []timePeriod `json:"time_period"`
	AwardTypeCodes []string     `json:"award_type_codes"`
}

type timePeriod struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// SearchAwards fetches one page of awards. An empty slice with a nil error
// means the source has no more data for these filters.
func (c *Client) SearchAwards(ctx context.Context, opts SearchOptions) ([]AwardRecord, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	end := opts.EndDate
	if end.IsZero() {
		end = time.Now()
	}
	start := opts.StartDate
	if start.IsZero() {
		start = end.AddDate(-1, 0, 0)
	}

	body, err := json.Marshal(searchRequest{
		Filters: searchFilters{
			TimePeriod: []timePeriod{{
				StartDate: start.Format("2006-01-02"),
				EndDate:   end.Format("2006-01-02"),
			}},
			AwardTypeCodes: opts.Category.TypeCodes(),
		},
		Fields: searchFields,
		Page:   opts.Page,
		Limit:  opts.Limit,
		Sort:   "Start Date",
		Order:  "desc",
	})
	if err != nil {
		return nil, eris.Wrap(err, "usaspending: marshal search request")
	}

	return resilience.Do(ctx, c.retry, func(ctx context.Context) ([]AwardRecord, error) {
		return c.doSearch(ctx, body)
	})
}

func (c *Client) doSearch(ctx context.Context, body []byte) ([]AwardRecord, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "usaspending: rate limiter")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+searchPath, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "usaspending: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "usaspending: search request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return nil, apiErr
	}

	var payload struct {
		Results []map[string]any `json:"results"`
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, eris.Wrap(err, "usaspending: decode response")
	}

	records := make([]AwardRecord, 0, len(payload.Results))
	for _, m := range payload.Results {
		records = append(records, recordFromResult(m))
	}
	return records, nil
}
