package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const pricePath = "/price"

// Options parameterise the price feed client.
type Options struct {
	BaseURL         string
	BaseAsset       string
	QuoteAsset      string
	StalenessWindow time.Duration
	Timeout         time.Duration
	UserAgent       string
}

// Client fetches price samples from a REST price feed.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// NewClient constructs a price feed client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "oracle_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// FetchPrice retrieves and validates the current sample for the configured pair.
func (c *Client) FetchPrice(ctx context.Context) (PriceSample, error) {
	if c.baseURL == "" {
		return PriceSample{}, fmt.Errorf("%w: base url not configured", ErrUnavailable)
	}
	if c.opts.BaseAsset == "" || c.opts.QuoteAsset == "" {
		return PriceSample{}, fmt.Errorf("%w: asset pair not configured", ErrUnavailable)
	}

	endpoint := fmt.Sprintf("%s%s/%s/%s", c.baseURL, pricePath, c.opts.BaseAsset, c.opts.QuoteAsset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return PriceSample{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return PriceSample{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return PriceSample{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return PriceSample{}, parseHTTPError(resp.StatusCode, payload)
	}

	var body priceResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return PriceSample{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	return c.validate(body)
}

func (c *Client) validate(body priceResponse) (PriceSample, error) {
	price, err := decimal.NewFromString(body.Price)
	if err != nil {
		return PriceSample{}, fmt.Errorf("%w: parse price %q: %v", ErrMalformedResponse, body.Price, err)
	}
	if price.Sign() <= 0 {
		return PriceSample{}, fmt.Errorf("%w: non-positive price %s", ErrMalformedResponse, price)
	}

	observedAt, err := time.Parse(time.RFC3339, body.Timestamp)
	if err != nil {
		return PriceSample{}, fmt.Errorf("%w: parse timestamp %q: %v", ErrMalformedResponse, body.Timestamp, err)
	}

	pair := c.opts.BaseAsset + "/" + c.opts.QuoteAsset
	if body.Pair != "" && !strings.EqualFold(body.Pair, pair) {
		return PriceSample{}, fmt.Errorf("%w: pair mismatch, want %s got %s", ErrMalformedResponse, pair, body.Pair)
	}

	age := c.now().Sub(observedAt.UTC())
	if age > c.opts.StalenessWindow {
		return PriceSample{}, fmt.Errorf("%w: sample age %s exceeds %s", ErrStalePrice, age, c.opts.StalenessWindow)
	}

	source := body.Source
	if source == "" {
		source = c.baseURL
	}

	sample := PriceSample{
		Pair:       pair,
		Price:      price,
		ObservedAt: observedAt.UTC(),
		Source:     source,
	}

	c.logger.Debug().Str("pair", sample.Pair).Str("price", sample.Price.String()).
		Time("observed_at", sample.ObservedAt).Msg("sample fetched")
	return sample, nil
}

type priceResponse struct {
	Pair      string `json:"pair"`
	Price     string `json:"price"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}

type errorResponse struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Description != "" {
			return fmt.Errorf("%w: feed error (%d): %s", ErrUnavailable, status, apiErr.Description)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("%w: feed error (%d): %s", ErrUnavailable, status, apiErr.Message)
		}
		if apiErr.ErrorType != "" {
			return fmt.Errorf("%w: feed error (%d): %s", ErrUnavailable, status, apiErr.ErrorType)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("%w: feed error (%d): %s", ErrUnavailable, status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("%w: feed error (%d)", ErrUnavailable, status)
}

var _ PriceFetcher = (*Client)(nil)
