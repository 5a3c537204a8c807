package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/q4ZAr/kiln-mid-back/casper-delegation-scout/internal/domain"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const TestAPIKey = "test-cspr-cloud-key"

// FakeCSPRCloud serves the subset of the CSPR.cloud REST API the scout
// consumes, from in-memory fixtures.
type FakeCSPRCloud struct {
	Server *httptest.Server

	mu sync.Mutex
	// AuctionMetrics is returned as the data object of /auction-metrics.
	AuctionMetrics map[string]interface{}
	// ValidatorPages holds the validator list, one slice per page.
	ValidatorPages [][]map[string]interface{}
	// Performances maps public key to era to relative score.
	Performances map[string]map[int64]float64
	// TokenActions maps public key and contract package hash (see
	// TokenActionKey) to the action type ids recorded in the window.
	TokenActions map[string][]int
	// Fail maps a request path to the status code it should fail with.
	Fail map[string]int

	requests []string
}

func NewFakeCSPRCloud(t *testing.T) *FakeCSPRCloud {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &FakeCSPRCloud{
		AuctionMetrics: map[string]interface{}{},
		Performances:   map[string]map[int64]float64{},
		TokenActions:   map[string][]int{},
		Fail:           map[string]int{},
	}

	router := gin.New()
	router.Use(f.record, f.authorize, f.injectFailures)
	router.GET("/auction-metrics", f.auctionMetrics)
	router.GET("/validators", f.validators)
	router.GET("/validators/:public_key/relative-performances", f.relativePerformances)
	router.GET("/accounts/:public_key/ft-token-actions", f.tokenActions)

	f.Server = httptest.NewServer(router)
	t.Cleanup(f.Server.Close)

	return f
}

func TokenActionKey(publicKey, contractPackageHash string) string {
	return publicKey + "|" + contractPackageHash
}

func (f *FakeCSPRCloud) URL() string {
	return f.Server.URL
}

// Requests returns the request URIs received so far.
func (f *FakeCSPRCloud) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.requests))
	copy(out, f.requests)
	return out
}

// CountRequests returns how many requests were made to path.
func (f *FakeCSPRCloud) CountRequests(path string) int {
	n := 0
	for _, uri := range f.Requests() {
		if strings.SplitN(uri, "?", 2)[0] == path {
			n++
		}
	}
	return n
}

func (f *FakeCSPRCloud) record(c *gin.Context) {
	f.mu.Lock()
	f.requests = append(f.requests, c.Request.URL.RequestURI())
	f.mu.Unlock()
	c.Next()
}

func (f *FakeCSPRCloud) authorize(c *gin.Context) {
	if c.GetHeader("Authorization") != TestAPIKey {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid access key"})
		return
	}
	c.Next()
}

func (f *FakeCSPRCloud) injectFailures(c *gin.Context) {
	f.mu.Lock()
	status, ok := f.Fail[c.Request.URL.Path]
	f.mu.Unlock()
	if ok {
		c.AbortWithStatusJSON(status, gin.H{"error": "injected failure"})
		return
	}
	c.Next()
}

func (f *FakeCSPRCloud) auctionMetrics(c *gin.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"data": f.AuctionMetrics})
}

func (f *FakeCSPRCloud) validators(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page"})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	data := []map[string]interface{}{}
	if page <= len(f.ValidatorPages) {
		data = f.ValidatorPages[page-1]
	}

	items := 0
	for _, p := range f.ValidatorPages {
		items += len(p)
	}

	c.JSON(http.StatusOK, gin.H{
		"data":       data,
		"item_count": items,
		"page_count": len(f.ValidatorPages),
	})
}

func (f *FakeCSPRCloud) relativePerformances(c *gin.Context) {
	publicKey := c.Param("public_key")

	f.mu.Lock()
	defer f.mu.Unlock()

	data := []gin.H{}
	for _, raw := range strings.Split(c.Query("era_id"), ",") {
		era, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid era_id"})
			return
		}
		score, ok := f.Performances[publicKey][era]
		if !ok {
			continue
		}
		data = append(data, gin.H{"era_id": era, "public_key": publicKey, "score": score})
	}

	c.JSON(http.StatusOK, gin.H{"data": data, "item_count": len(data), "page_count": 1})
}

func (f *FakeCSPRCloud) tokenActions(c *gin.Context) {
	publicKey := c.Param("public_key")
	contract := c.Query("contract_package_hash")
	from, _ := strconv.ParseInt(c.Query("from_block_height"), 10, 64)

	f.mu.Lock()
	defer f.mu.Unlock()

	data := []gin.H{}
	for i, actionType := range f.TokenActions[TokenActionKey(publicKey, contract)] {
		data = append(data, gin.H{
			"deploy_hash":           "deploy-" + strconv.Itoa(i),
			"block_height":          from + int64(i),
			"contract_package_hash": contract,
			"ft_action_type_id":     actionType,
			"amount":                "1",
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": data, "item_count": len(data), "page_count": 1})
}

// NewValidator builds an API validator object that passes every bound of
// the default eligibility criteria once enriched with good history.
func NewValidator(publicKey string) map[string]interface{} {
	return map[string]interface{}{
		"public_key":        publicKey,
		"fee":               5,
		"rank":              25,
		"delegators_number": 300,
		"account_info": map[string]interface{}{
			"url":       "https://" + publicKey + ".example",
			"is_active": true,
		},
		"average_performance": map[string]interface{}{"score": 99.42},
		"network_share":       "1.5",
	}
}

// RecordFrom decodes an API validator object the way the client does.
func RecordFrom(t *testing.T, v map[string]interface{}) *domain.Record {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)

	var r domain.Record
	require.NoError(t, json.Unmarshal(raw, &r))
	return &r
}

// TestContext creates a test context with timeout
func TestContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// MockSnapshotRepository is a mock implementation of SnapshotRepository
type MockSnapshotRepository struct {
	mock.Mock
}

func (m *MockSnapshotRepository) SaveSnapshot(ctx context.Context, snapshot *domain.Snapshot) error {
	args := m.Called(ctx, snapshot)
	return args.Error(0)
}

func (m *MockSnapshotRepository) GetLatestRun(ctx context.Context) (*domain.RunSummary, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RunSummary), args.Error(1)
}

func (m *MockSnapshotRepository) FindCandidates(ctx context.Context, runID string) ([]*domain.Record, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Record), args.Error(1)
}
