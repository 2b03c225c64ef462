// Package catalog looks up products owned by the external catalog service.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"auction-service/internal/biddingerrors"
	model "auction-service/internal/models"
)

// Catalog resolves a product's sale window
type Catalog interface {
	GetProduct(ctx context.Context, productID string) (model.Product, error)
}

// StaticCatalog serves products registered at startup
type StaticCatalog struct {
	products map[string]model.Product
}

// NewStaticCatalog creates a catalog seeded with products
func NewStaticCatalog(products ...model.Product) *StaticCatalog {
	c := &StaticCatalog{products: make(map[string]model.Product, len(products))}
	for _, p := range products {
		c.products[p.ProductID] = p
	}
	return c
}

func (c *StaticCatalog) GetProduct(ctx context.Context, productID string) (model.Product, error) {
	if err := ctx.Err(); err != nil {
		return model.Product{}, err
	}
	p, ok := c.products[productID]
	if !ok {
		return model.Product{}, fmt.Errorf("get product %s: %w", productID, biddingerrors.ErrProductNotFound)
	}
	return p, nil
}

// HTTPCatalog queries the catalog service at GET {baseURL}/products/{id}
type HTTPCatalog struct {
	baseURL string
	client  *http.Client
}

// NewHTTPCatalog creates a client with a per-request timeout
func NewHTTPCatalog(baseURL string, timeout time.Duration) *HTTPCatalog {
	return &HTTPCatalog{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type productPayload struct {
	ProductID   string    `json:"product_id"`
	ReleaseDate time.Time `json:"release_date"`
	ExpiryDate  time.Time `json:"expiry_date"`
}

func (c *HTTPCatalog) GetProduct(ctx context.Context, productID string) (model.Product, error) {
	endpoint := fmt.Sprintf("%s/products/%s", c.baseURL, url.PathEscape(productID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return model.Product{}, fmt.Errorf("build catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return model.Product{}, fmt.Errorf("get product %s: %w: %w", productID, biddingerrors.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return model.Product{}, fmt.Errorf("get product %s: %w", productID, biddingerrors.ErrProductNotFound)
	case resp.StatusCode != http.StatusOK:
		return model.Product{}, fmt.Errorf("get product %s: %w - catalog returned %d", productID, biddingerrors.ErrServiceUnavailable, resp.StatusCode)
	}

	var payload productPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return model.Product{}, fmt.Errorf("decode product %s: %w", productID, err)
	}
	if payload.ProductID == "" {
		payload.ProductID = productID
	}
	return model.Product{
		ProductID:   payload.ProductID,
		ReleaseDate: payload.ReleaseDate.UTC(),
		ExpiryDate:  payload.ExpiryDate.UTC(),
	}, nil
}
