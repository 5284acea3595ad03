package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domainerrors "github.com/custody-service/custody_service/internal/domain/errors"
	"github.com/custody-service/custody_service/pkg/logger"
	"github.com/custody-service/custody_service/pkg/metrics"
	"github.com/custody-service/custody_service/pkg/retry"
)

// Config represents price oracle API configuration
type Config struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// Conversion is one quoted conversion: Rate is the unit price of the source
// currency in the target currency, Converted the resulting amount.
type Conversion struct {
	Rate      decimal.Decimal
	Converted decimal.Decimal
}

// Client is the price oracle API client
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a new oracle client
func NewClient(config Config, logger *logger.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
	}
}

// stablecoins quote 1:1 against USD without an API round trip
var stablecoins = map[string]bool{
	"USD":  true,
	"USDT": true,
	"USDC": true,
}

// Convert quotes amount of the from currency in the to currency. Currency
// symbols are case-insensitive. A degraded oracle returns ErrOracleUnavailable
// and callers decide whether that is fatal for their flow.
func (c *Client) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (*Conversion, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))

	if from == to || (stablecoins[from] && stablecoins[to]) {
		return &Conversion{Rate: decimal.NewFromInt(1), Converted: amount}, nil
	}

	var rate decimal.Decimal
	operation := func() error {
		fetched, err := c.fetchRate(ctx, from, to)
		if err != nil {
			return err
		}
		rate = fetched
		return nil
	}

	policy := retry.DefaultPolicy()
	policy.MaxRetries = c.config.MaxRetries
	if err := retry.Do(ctx, policy, c.logger.Zap(), operation); err != nil {
		metrics.OracleFailuresTotal.Inc()
		c.logger.Warn("oracle conversion failed",
			"from", from,
			"to", to,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %s/%s", domainerrors.ErrOracleUnavailable, from, to)
	}

	return &Conversion{Rate: rate, Converted: amount.Mul(rate)}, nil
}

type rateResponse struct {
	Rate  string `json:"rate"`
	Error string `json:"error,omitempty"`
}

func (c *Client) fetchRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("/v1/rates?from=%s&to=%s", from, to)

	var resp rateResponse
	if err := c.doRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return decimal.Zero, err
	}
	if resp.Error != "" {
		return decimal.Zero, fmt.Errorf("oracle error: %s", resp.Error)
	}

	rate, err := decimal.NewFromString(resp.Rate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid rate %q: %w", resp.Rate, err)
	}
	if rate.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("non-positive rate %s for %s/%s", rate, from, to)
	}

	return rate, nil
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, body, response interface{}) error {
	fullURL := c.config.BaseURL + endpoint

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Api-Key", c.config.APIKey)
	}

	c.logger.Debug("Sending oracle request", "method", method, "url", fullURL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("API error: status %d, body: %s", resp.StatusCode, string(respBody))
	}

	if response != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, response); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}
