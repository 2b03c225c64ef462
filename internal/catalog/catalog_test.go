package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"auction-service/internal/biddingerrors"
	model "auction-service/internal/models"

	"github.com/stretchr/testify/require"
)

func TestStaticCatalog_GetProduct(t *testing.T) {
	t.Parallel()

	release := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	c := NewStaticCatalog(model.Product{ProductID: "p1", ReleaseDate: release, ExpiryDate: release.Add(24 * time.Hour)})

	p, err := c.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	require.True(t, release.Equal(p.ReleaseDate))

	_, err = c.GetProduct(context.Background(), "p2")
	require.ErrorIs(t, err, biddingerrors.ErrProductNotFound)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.GetProduct(cancelled, "p1")
	require.ErrorIs(t, err, context.Canceled)
}

func TestHTTPCatalog_GetProduct(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/products/p1":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"product_id":"p1","release_date":"2026-10-01T00:00:00Z","expiry_date":"2026-10-02T00:00:00Z"}`))
		case "/products/broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	c := NewHTTPCatalog(srv.URL+"/", time.Second)

	tests := []struct {
		name      string
		productID string
		wantErr   error
	}{
		{name: "found", productID: "p1"},
		{name: "not_found", productID: "p2", wantErr: biddingerrors.ErrProductNotFound},
		{name: "upstream_error", productID: "broken", wantErr: biddingerrors.ErrServiceUnavailable},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p, err := c.GetProduct(context.Background(), tc.productID)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "p1", p.ProductID)
			require.True(t, time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC).Equal(p.ExpiryDate))
		})
	}
}
