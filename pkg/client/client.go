package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/platinummonkey/shopadmin/pkg/catalog"
	"github.com/platinummonkey/shopadmin/pkg/rbac"
)

// Error is a non-2xx response from the admin API
type Error struct {
	StatusCode int          `json:"-"`
	Message    string       `json:"message"`
	Code       string       `json:"code,omitempty"`
	Errors     []FieldError `json:"errors,omitempty"`
}

// FieldError is one field-level validation message
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("shopadmin api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("shopadmin api: status %d: %s", e.StatusCode, e.Message)
}

// Config configures a Client
type Config struct {
	BaseURL string
	Timeout time.Duration
	Retries int

	// Token is a static bearer token. Ignored when ClientCredentials is set.
	Token string

	// ClientCredentials fetches and refreshes tokens from the IdP
	ClientCredentials *clientcredentials.Config
}

// Client is a typed client for the shopadmin REST API
type Client struct {
	http *resty.Client
}

// New creates a Client
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	var rc *resty.Client
	if cfg.ClientCredentials != nil {
		rc = resty.NewWithClient(cfg.ClientCredentials.Client(ctx))
	} else {
		rc = resty.New()
		if cfg.Token != "" {
			rc.SetAuthToken(cfg.Token)
		}
	}

	rc.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})

	return &Client{http: rc}, nil
}

func (c *Client) do(ctx context.Context, method, path string, build func(*resty.Request), result interface{}) error {
	apiErr := &Error{}
	req := c.http.R().
		SetContext(ctx).
		SetError(apiErr)
	if build != nil {
		build(req)
	}
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	if resp.IsError() {
		apiErr.StatusCode = resp.StatusCode()
		return apiErr
	}
	return nil
}

func withID(id string) func(*resty.Request) {
	return func(r *resty.Request) { r.SetPathParam("id", id) }
}

// GetProduct fetches one product
func (c *Client) GetProduct(ctx context.Context, productID string) (*catalog.Product, error) {
	var p catalog.Product
	if err := c.do(ctx, http.MethodGet, "/api/products/{id}", withID(productID), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetAverageRating fetches a product's average rating
func (c *Client) GetAverageRating(ctx context.Context, productID string) (*catalog.AverageRating, error) {
	var avg catalog.AverageRating
	if err := c.do(ctx, http.MethodGet, "/api/products/{id}/ratings/average", withID(productID), &avg); err != nil {
		return nil, err
	}
	return &avg, nil
}

// CreateRating submits a rating for a product
func (c *Client) CreateRating(ctx context.Context, productID string, stars int, comment string) (*catalog.Rating, error) {
	var created catalog.Rating
	build := func(r *resty.Request) {
		r.SetPathParam("id", productID).
			SetHeader("Content-Type", "application/json").
			SetBody(catalog.Rating{Stars: stars, Comment: comment})
	}
	if err := c.do(ctx, http.MethodPost, "/api/products/{id}/ratings", build, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// GetRolePermissions fetches a role's permission matrix
func (c *Client) GetRolePermissions(ctx context.Context, roleID string) (*rbac.PermissionMatrix, error) {
	var m rbac.PermissionMatrix
	if err := c.do(ctx, http.MethodGet, "/api/roles/{id}/permissions", withID(roleID), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// CheckAccess asks whether a user may run commandID on functionID
func (c *Client) CheckAccess(ctx context.Context, userID, functionID, commandID string) (*rbac.AccessDecision, error) {
	var d rbac.AccessDecision
	build := func(r *resty.Request) {
		r.SetPathParam("id", userID).
			SetQueryParams(map[string]string{"functionId": functionID, "commandId": commandID})
	}
	if err := c.do(ctx, http.MethodGet, "/api/users/{id}/access", build, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
