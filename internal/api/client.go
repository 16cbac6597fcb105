package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/electra-analytics/electra/internal/client"
	"github.com/electra-analytics/electra/internal/models"
)

// Client reads from the backend through an authenticated round tripper.
type Client struct {
	http   *http.Client
	config client.Config
}

// NewClient creates a Client sending every request through rt, normally a *transport.Transport.
func NewClient(config client.Config, rt http.RoundTripper) *Client {
	return &Client{
		http: &http.Client{
			Transport: rt,
			Timeout:   config.Timeout,
		},
		config: config,
	}
}

// CurrentUser fetches the profile of the token holder.
func (c *Client) CurrentUser(ctx context.Context) (*models.User, error) {
	var user models.User
	if err := c.get(ctx, "/v1/auth/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ProductQuery filters and pages the products table.
type ProductQuery struct {
	Period    string
	CabinetID int64
	SortBy    string
	Order     string
	Page      int
	Limit     int
}

func (q ProductQuery) values() url.Values {
	v := url.Values{}
	v.Set("period", q.Period)
	if q.CabinetID != 0 {
		v.Set("cabinet_id", strconv.FormatInt(q.CabinetID, 10))
	}
	if q.SortBy != "" {
		v.Set("sort_by", q.SortBy)
	}
	if q.Order != "" {
		v.Set("order", q.Order)
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

// KPI fetches the headline figures for period, optionally for one cabinet.
func (c *Client) KPI(ctx context.Context, period string, cabinetID int64) (*models.KPI, error) {
	v := url.Values{}
	v.Set("period", period)
	if cabinetID != 0 {
		v.Set("cabinet_id", strconv.FormatInt(cabinetID, 10))
	}

	var kpi models.KPI
	if err := c.get(ctx, "/v1/dashboard/kpi", v, &kpi); err != nil {
		return nil, err
	}
	return &kpi, nil
}

// Products fetches a page of the products table.
func (c *Client) Products(ctx context.Context, q ProductQuery) (*models.ProductList, error) {
	var list models.ProductList
	if err := c.get(ctx, "/v1/dashboard/products", q.values(), &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.config.Endpoint(path)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return transportFailure(req, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return newStatusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
