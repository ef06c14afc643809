package quoteprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/visamarket-backend/pkg/errors"
	"github.com/angelmondragon/visamarket-backend/pkg/logger"
	"github.com/angelmondragon/visamarket-backend/pkg/redis"
)

const (
	quotePath                    = "/v1/quotes"
	responseBodyReadLimit  int64 = 1024
	defaultCacheTTL              = 10 * time.Minute
	defaultHTTPTimeout           = 10 * time.Second
)

var errBaseURLRequired = errors.New("external quote provider base url is required")

// Request describes the application being priced.
type Request struct {
	ApplicationID uuid.UUID      `json:"applicationId"`
	ServiceSlug   string         `json:"serviceSlug"`
	Country       string         `json:"country,omitempty"`
	VisaType      string         `json:"visaType,omitempty"`
	Attributes    map[string]any `json:"attributes,omitempty"`
}

// Price is an external offer.
type Price struct {
	Amount         decimal.Decimal `json:"amount"`
	ServiceFee     decimal.Decimal `json:"serviceFee"`
	Currency       string          `json:"currency"`
	ProcessingDays int             `json:"processingDays"`
	Reference      string          `json:"reference,omitempty"`
}

type cachedQuote struct {
	Available bool  `json:"available"`
	Price     Price `json:"price"`
}

// Client prices hybrid services through the partner HTTP API, caching answers in Redis.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	cache      redis.Cache
	cacheTTL   time.Duration
	logg       *logger.Logger
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithCache enables read-through caching keyed by service, country and visa type.
func WithCache(cache redis.Cache, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = cache
		if ttl > 0 {
			c.cacheTTL = ttl
		}
	}
}

// WithLogger attaches a logger for cache degradation warnings.
func WithLogger(logg *logger.Logger) Option {
	return func(c *Client) {
		if logg != nil {
			c.logg = logg
		}
	}
}

// NewClient builds the provider client.
func NewClient(baseURL, apiKey string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errBaseURLRequired
	}
	client := &Client{
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		baseURL:    trimmed,
		apiKey:     strings.TrimSpace(apiKey),
		cacheTTL:   defaultCacheTTL,
		logg:       logger.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Quote asks the provider for a price. The boolean is false when the provider has no
// offer for the request. The caller bounds the call through ctx.
func (c *Client) Quote(ctx context.Context, req Request) (Price, bool, error) {
	if c == nil {
		return Price{}, false, pkgerrors.New(pkgerrors.CodeDependency, "external quote provider not configured")
	}

	key := ""
	if c.cache != nil {
		key = c.cache.QuoteCacheKey(req.ServiceSlug, req.Country, req.VisaType)
		if cached, ok := c.fromCache(ctx, key); ok {
			return cached.Price, cached.Available, nil
		}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return Price{}, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal quote request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+quotePath, bytes.NewReader(payload))
	if err != nil {
		return Price{}, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build quote request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Price{}, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute quote request")
	}
	defer func() { _ = resp.Body.Close() }()

	var result cachedQuote
	switch resp.StatusCode {
	case http.StatusOK:
		var apiResp struct {
			Available      *bool           `json:"available"`
			Amount         decimal.Decimal `json:"amount"`
			ServiceFee     decimal.Decimal `json:"serviceFee"`
			Currency       string          `json:"currency"`
			ProcessingDays int             `json:"processingDays"`
			Reference      string          `json:"reference"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
			return Price{}, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode quote response")
		}
		available := apiResp.Available == nil || *apiResp.Available
		if available && !apiResp.Amount.IsPositive() {
			return Price{}, false, pkgerrors.New(pkgerrors.CodeDependency, "quote response carried no positive amount")
		}
		result = cachedQuote{
			Available: available,
			Price: Price{
				Amount:         apiResp.Amount.Round(2),
				ServiceFee:     apiResp.ServiceFee.Round(2),
				Currency:       strings.ToUpper(apiResp.Currency),
				ProcessingDays: apiResp.ProcessingDays,
				Reference:      apiResp.Reference,
			},
		}
	case http.StatusNoContent, http.StatusNotFound:
		result = cachedQuote{Available: false}
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return Price{}, false, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "quote request failed")
	}

	if c.cache != nil {
		c.toCache(ctx, key, result)
	}
	if !result.Available {
		return Price{}, false, nil
	}
	return result.Price, true, nil
}

func (c *Client) fromCache(ctx context.Context, key string) (cachedQuote, bool) {
	raw, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logg.WarnErr(ctx, "quote cache read failed", err)
		}
		return cachedQuote{}, false
	}
	var cached cachedQuote
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		c.logg.WarnErr(ctx, "quote cache entry unreadable", err)
		return cachedQuote{}, false
	}
	return cached, true
}

func (c *Client) toCache(ctx context.Context, key string, q cachedQuote) {
	raw, err := json.Marshal(q)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, raw, c.cacheTTL); err != nil {
		c.logg.WarnErr(ctx, "quote cache write failed", err)
	}
}
