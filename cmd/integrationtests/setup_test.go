package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	bidding "auction-service/internal/biddingService"
	"auction-service/internal/catalog"
	"auction-service/internal/lifecycle"
	model "auction-service/internal/models"
	"auction-service/internal/notify"
	"auction-service/internal/repository"
	"auction-service/internal/server"
	"auction-service/services/bidding/helpers"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type store interface {
	repository.AuctionStore
	repository.BidLedger
}

// recordingPublisher keeps every published event
type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) ofType(t notify.EventType) []notify.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []notify.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// TestEnv is a fully wired service over a real store
type TestEnv struct {
	Router    *gin.Engine
	Service   *bidding.BiddingService
	Manager   *lifecycle.Manager
	Store     store
	Publisher *recordingPublisher
}

// stores returns the store implementations the API is exercised against
func stores(t *testing.T) map[string]func(t *testing.T) store {
	t.Helper()
	return map[string]func(t *testing.T) store{
		"memory": func(t *testing.T) store { return repository.NewMemoryRepo() },
		"sqlite": func(t *testing.T) store {
			repo, err := repository.OpenSQLite(filepath.Join(t.TempDir(), "auction.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = repo.Close() })
			return repo
		},
	}
}

// SetupTestEnv wires the router, service and lifecycle manager over repo,
// or over a fresh in-memory repository when repo is nil.
func SetupTestEnv(t *testing.T, repo store, products ...model.Product) *TestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if repo == nil {
		repo = repository.NewMemoryRepo()
	}

	pub := &recordingPublisher{}
	events := notify.Sequence(pub)
	manager := lifecycle.NewManager(repo, events, lifecycle.Options{BaseDelay: time.Millisecond})
	service := bidding.NewBiddingService(bidding.Deps{
		Store:     repo,
		Ledger:    repo,
		Publisher: events,
		Lifecycle: manager,
		Catalog:   catalog.NewStaticCatalog(products...),
	}, bidding.Options{MaxBidAttempts: 50, BaseDelay: time.Millisecond})

	return &TestEnv{
		Router:    server.SetupRouter(service),
		Service:   service,
		Manager:   manager,
		Store:     repo,
		Publisher: pub,
	}
}

// SetupTestRouter initializes the router with in-memory repository for integration testing.
func SetupTestRouter(t *testing.T) *gin.Engine {
	return SetupTestEnv(t, repository.NewMemoryRepo()).Router
}

// ExecuteRequest executes an HTTP request as userID and returns the response recorder.
func ExecuteRequest(t *testing.T, router *gin.Engine, method, url string, body []byte, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, url, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(helpers.UserIDHeader, userID)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// ExecuteRequestAndParse executes an HTTP request on the given router and parses the response
func ExecuteRequestAndParse(t *testing.T, router *gin.Engine, method, url string, body any, userID string) (map[string]any, *httptest.ResponseRecorder) {
	var reqBody []byte
	var err error

	switch v := body.(type) {
	case nil:
	case []byte:
		reqBody = v
	case string:
		reqBody = []byte(v)
	default:
		reqBody, err = json.Marshal(v)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
	}

	w := ExecuteRequest(t, router, method, url, reqBody, userID)

	var resp map[string]any
	if len(w.Body.Bytes()) > 0 {
		err := json.Unmarshal(w.Body.Bytes(), &resp)
		if err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}

		if w.Code == 201 {
			resp = resp["data"].(map[string]any)
		}
	}

	return resp, w
}

// CreateOpenAuction creates an auction accepting bids for the next hour
func CreateOpenAuction(t *testing.T, router *gin.Engine, productID string) string {
	t.Helper()
	start := time.Now().UTC().Add(-time.Second)
	body := map[string]any{
		"product_id": productID,
		"start_time": start,
		"end_time":   start.Add(time.Hour),
	}
	resp, w := ExecuteRequestAndParse(t, router, "POST", "/auctions", body, "seller1")
	require.Equal(t, 201, w.Code, w.Body.String())
	require.Equal(t, "active", resp["status"])
	return resp["auction_id"].(string)
}
