// Package client is a Go SDK for the agrichain HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/totegamma/agrichain/internal/domain"
)

const (
	defaultTimeout = 10 * time.Second
	userAgent      = "agrichain-client"
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status code: %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	client  *http.Client
	cache   *cache.Cache
	baseURL string
}

// New returns a client for the server at baseURL. The session cookie set by
// Login is kept in the client's jar.
func New(baseURL string) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cache:   cache.New(1*time.Minute, 5*time.Minute),
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
	c.client = &http.Client{
		Timeout:   defaultTimeout,
		Jar:       jar,
		Transport: c,
	}
	return c, nil
}

func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", userAgent)
	return http.DefaultTransport.RoundTrip(req)
}

func (c *Client) do(ctx context.Context, method, path string, body, response any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to perform request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var failure struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&failure)
		return &StatusError{StatusCode: resp.StatusCode, Message: failure.Error}
	}

	if response == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
		return fmt.Errorf("failed to decode response: %v", err)
	}
	return nil
}

type LoginResponse struct {
	Success  bool        `json:"success"`
	Role     domain.Role `json:"role"`
	Redirect string      `json:"redirect"`
}

// Login opens a session. An empty role logs in through the generic endpoint
// without a role check.
func (c *Client) Login(ctx context.Context, role domain.Role, username, password string) (LoginResponse, error) {
	path := "/api/login"
	if role != "" {
		path = "/auth/" + url.PathEscape(string(role))
	}

	var resp LoginResponse
	err := c.do(ctx, http.MethodPost, path, map[string]string{
		"username": username,
		"password": password,
	}, &resp)
	return resp, err
}

func (c *Client) Logout(ctx context.Context) error {
	c.cache.Flush()
	return c.do(ctx, http.MethodPost, "/api/logout", nil, nil)
}

func (c *Client) Whoami(ctx context.Context) (domain.SessionUser, error) {
	var resp struct {
		User domain.SessionUser `json:"user"`
	}
	err := c.do(ctx, http.MethodGet, "/auth/verify-session", nil, &resp)
	return resp.User, err
}

func (c *Client) Products(ctx context.Context) ([]domain.ProductView, error) {
	var products []domain.ProductView
	err := c.do(ctx, http.MethodGet, "/api/products", nil, &products)
	return products, err
}

// Product fetches one product by id, batch id or QR payload. Results are
// cached briefly.
func (c *Client) Product(ctx context.Context, id string) (domain.ProductView, error) {
	cacheKey := "product:" + id
	if x, found := c.cache.Get(cacheKey); found {
		return x.(domain.ProductView), nil
	}

	var product domain.ProductView
	if err := c.do(ctx, http.MethodGet, "/api/products/"+url.PathEscape(id), nil, &product); err != nil {
		return domain.ProductView{}, err
	}

	c.cache.Set(cacheKey, product, cache.DefaultExpiration)
	return product, nil
}

type RegisterProductRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Type        string   `json:"type,omitempty"`
	Image       string   `json:"image,omitempty"`
	Status      string   `json:"status,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	RetailPrice *float64 `json:"retailPrice,omitempty"`
}

func (c *Client) RegisterProduct(ctx context.Context, req RegisterProductRequest) (domain.Product, error) {
	var product domain.Product
	err := c.do(ctx, http.MethodPut, "/api/register-product", req, &product)
	return product, err
}

type RecordStepRequest struct {
	Action      string         `json:"action"`
	Description string         `json:"description,omitempty"`
	LocationID  *string        `json:"locationId,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
	Humidity    *float64       `json:"humidity,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Status      string         `json:"status,omitempty"`
}

func (c *Client) RecordStep(ctx context.Context, productID string, req RecordStepRequest) (domain.SupplyChainStep, error) {
	var step domain.SupplyChainStep
	err := c.do(ctx, http.MethodPost, "/api/products/"+url.PathEscape(productID)+"/steps", req, &step)
	if err == nil {
		c.cache.Delete("product:" + productID)
	}
	return step, err
}

type VerifyResponse struct {
	ID                string     `json:"id"`
	BatchID           string     `json:"batchId"`
	VerificationCount int64      `json:"verificationCount"`
	LastVerified      *time.Time `json:"lastVerified"`
}

// Verify records a public verification scan. It needs no session.
func (c *Client) Verify(ctx context.Context, id string) (VerifyResponse, error) {
	var resp VerifyResponse
	err := c.do(ctx, http.MethodPost, "/api/verify/"+url.PathEscape(id), nil, &resp)
	return resp, err
}
