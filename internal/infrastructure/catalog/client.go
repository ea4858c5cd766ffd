package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"streamcart/internal/core/domain"
	"streamcart/pkg/cache"
	apperrors "streamcart/pkg/errors"
	"streamcart/pkg/retry"
	"streamcart/pkg/tracing"
	"streamcart/pkg/validation"
)

// ClientOptions configures the catalog REST client.
type ClientOptions struct {
	BaseURL  string
	Token    string
	Timeout  time.Duration
	Retry    retry.Config
	CacheTTL time.Duration
}

// Client implements ports.CatalogClient against the platform REST API.
// Read requests are retried; pinned products are served from a short-lived
// cache that pin mutations invalidate.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	retry   retry.Config
	cache   *cache.Cache
	logger  *zap.SugaredLogger
}

// NewClient validates the endpoint and returns a ready client.
func NewClient(opts ClientOptions, logger *zap.SugaredLogger) (*Client, error) {
	if err := validation.ValidateHTTPURL(opts.BaseURL); err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Second
	}
	return &Client{
		baseURL: opts.BaseURL,
		token:   opts.Token,
		http:    &http.Client{Timeout: opts.Timeout},
		retry:   opts.Retry,
		cache:   cache.New(opts.CacheTTL),
		logger:  logger,
	}, nil
}

// Close releases the cache resources.
func (c *Client) Close() {
	c.cache.Close()
}

func (c *Client) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return retry.DoWithResult(ctx, c.retry, func() ([]domain.Product, error) {
		var products []domain.Product
		err := c.do(ctx, http.MethodGet, "/api/products", nil, &products)
		return products, err
	})
}

func (c *Client) GetProduct(ctx context.Context, id domain.ProductID) (*domain.Product, error) {
	return retry.DoWithResult(ctx, c.retry, func() (*domain.Product, error) {
		var product domain.Product
		err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/products/%s", id), nil, &product)
		if err != nil {
			return nil, err
		}
		return &product, nil
	})
}

func (c *Client) CreateProduct(ctx context.Context, p *domain.Product) (*domain.Product, error) {
	var created domain.Product
	if err := c.do(ctx, http.MethodPost, "/api/products", p, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdateProduct(ctx context.Context, p *domain.Product) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/api/products/%s", p.ID), p, nil)
}

func (c *Client) DeleteProduct(ctx context.Context, id domain.ProductID) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/products/%s", id), nil, nil)
}

func (c *Client) PinProduct(ctx context.Context, sellerID string, id domain.ProductID) error {
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/pins/%s/%s", sellerID, id), nil, nil)
	if err == nil {
		c.cache.Delete(pinsCacheKey(sellerID))
	}
	return err
}

func (c *Client) UnpinProduct(ctx context.Context, sellerID string, id domain.ProductID) error {
	err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/pins/%s/%s", sellerID, id), nil, nil)
	if err == nil {
		c.cache.Delete(pinsCacheKey(sellerID))
	}
	return err
}

func (c *Client) UnpinAll(ctx context.Context, sellerID string) error {
	err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/pins/%s", sellerID), nil, nil)
	if err == nil {
		c.cache.Delete(pinsCacheKey(sellerID))
	}
	return err
}

func (c *Client) PinnedProducts(ctx context.Context, sellerID string) ([]domain.PinnedProduct, error) {
	if cached, ok := c.cache.Get(pinsCacheKey(sellerID)); ok {
		return cached.([]domain.PinnedProduct), nil
	}

	pins, err := retry.DoWithResult(ctx, c.retry, func() ([]domain.PinnedProduct, error) {
		var pins []domain.PinnedProduct
		err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/pins/%s", sellerID), nil, &pins)
		return pins, err
	})
	if err != nil {
		return nil, err
	}
	c.cache.Set(pinsCacheKey(sellerID), pins)
	return pins, nil
}

func (c *Client) ListBroadcasts(ctx context.Context) ([]domain.Broadcast, error) {
	return retry.DoWithResult(ctx, c.retry, func() ([]domain.Broadcast, error) {
		var broadcasts []domain.Broadcast
		err := c.do(ctx, http.MethodGet, "/api/streams", nil, &broadcasts)
		return broadcasts, err
	})
}

func (c *Client) StartBroadcast(ctx context.Context, sellerID, title string) (*domain.Broadcast, error) {
	body := map[string]string{"seller_id": sellerID, "title": title}
	var broadcast domain.Broadcast
	if err := c.do(ctx, http.MethodPost, "/api/streams", body, &broadcast); err != nil {
		return nil, err
	}
	return &broadcast, nil
}

func (c *Client) EndBroadcast(ctx context.Context, id domain.BroadcastID) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/streams/%s", id), nil, nil)
}

// do runs one request with auth, tracing and response classification.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	if err := c.checkToken(); err != nil {
		return err
	}

	ctx, span := tracing.StartSpan(ctx, "catalog.request",
		attribute.String("http.method", method),
		attribute.String("http.path", path),
	)
	defer span.End()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "encode request body")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		tracing.RecordError(span, err)
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, fmt.Sprintf("%s %s", method, path))
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, path); err != nil {
		tracing.RecordError(span, err)
		c.logger.Warnw("catalog request failed",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
		)
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		tracing.RecordError(span, err)
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "decode response body")
	}
	return nil
}

// checkToken rejects requests up front when the bearer token has already
// expired, without validating its signature.
func (c *Client) checkToken() error {
	if c.token == "" {
		return nil
	}
	token, _, err := jwt.NewParser().ParseUnverified(c.token, jwt.MapClaims{})
	if err != nil {
		// opaque tokens pass through, the server decides
		return nil
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if exp.Before(time.Now()) {
		return apperrors.NewUnauthorized("access token expired")
	}
	return nil
}

func classifyStatus(status int, path string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperrors.NewUnauthorized("catalog request rejected")
	case status == http.StatusNotFound:
		return apperrors.NewNotFound(path)
	case status == http.StatusBadRequest:
		return apperrors.NewInvalidInput("catalog rejected the request body")
	case status >= 500:
		return apperrors.NewUnavailable(fmt.Sprintf("catalog returned %d", status))
	default:
		return apperrors.New(apperrors.ErrCodeInternal, fmt.Sprintf("unexpected status %d", status))
	}
}

func pinsCacheKey(sellerID string) string {
	return "pins:" + sellerID
}
