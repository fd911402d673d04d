package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"catalog-ingest-service/internal/domain"
	"catalog-ingest-service/internal/ingest"
	"catalog-ingest-service/internal/normalize"
	"catalog-ingest-service/internal/source"
	"catalog-ingest-service/internal/store"
)

// MockIngester is a mock implementation of Ingester
type MockIngester struct {
	mock.Mock
}

func (m *MockIngester) Ingest(ctx context.Context, raw *domain.RawProduct) (ingest.Result, error) {
	args := m.Called(ctx, raw)
	return args.Get(0).(ingest.Result), args.Error(1)
}

func (m *MockIngester) Totals() ingest.RunStats {
	args := m.Called()
	return args.Get(0).(ingest.RunStats)
}

// MockCatalogReader is a mock implementation of store.CatalogReader
type MockCatalogReader struct {
	mock.Mock
}

func (m *MockCatalogReader) CountCatalog(ctx context.Context) (*store.CatalogCounts, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.CatalogCounts), args.Error(1)
}

func (m *MockCatalogReader) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Helper for setting up tests with a chi router and handler
func setupTestChiServer(t *testing.T, ing Ingester, catalog store.CatalogReader) *httptest.Server {
	handler := NewHTTPHandler(ing, catalog, zap.NewNop())
	router := chi.NewRouter()
	handler.RegisterRoutes(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func PtrTo[T any](v T) *T {
	return &v
}

func teePayload() domain.RawProduct {
	return domain.RawProduct{
		Title:    "Tee",
		Handle:   "tee-1",
		Type:     "Shirts",
		Tags:     []string{"New"},
		Price:    1500,
		Options:  []domain.RawOption{{Name: "Size", Position: 1}},
		Variants: []domain.RawVariant{{Option1: PtrTo("M"), SKU: PtrTo("TEE-M"), Price: 1500}},
	}
}

func postProduct(t *testing.T, server *httptest.Server, body []byte) *http.Response {
	res, err := http.Post(server.URL+"/api/v1/ingest/products", "application/json", bytes.NewBuffer(body))
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func TestHTTPHandler_IngestProduct_Created(t *testing.T) {
	mockIngester := new(MockIngester)
	server := setupTestChiServer(t, mockIngester, nil)

	mockIngester.On("Ingest", mock.Anything, mock.MatchedBy(func(raw *domain.RawProduct) bool {
		return raw.Handle == "tee-1" && len(raw.Variants) == 1 && raw.Variants[0].OptionValue(1) == "M"
	})).Return(ingest.Result{Outcome: ingest.OutcomeCreated, ProductID: 10, Categories: 2, Variants: 1}, nil).Once()

	reqBody, _ := json.Marshal(teePayload())
	res := postProduct(t, server, reqBody)

	require.Equal(t, http.StatusCreated, res.StatusCode)
	var response IngestResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&response))
	assert.Equal(t, IngestResponse{Outcome: "created", ProductID: 10, Categories: 2, Variants: 1}, response)

	mockIngester.AssertExpectations(t)
}

func TestHTTPHandler_IngestProduct_Skipped(t *testing.T) {
	mockIngester := new(MockIngester)
	server := setupTestChiServer(t, mockIngester, nil)

	mockIngester.On("Ingest", mock.Anything, mock.AnythingOfType("*domain.RawProduct")).
		Return(ingest.Result{Outcome: ingest.OutcomeSkipped}, nil).Once()

	reqBody, _ := json.Marshal(teePayload())
	res := postProduct(t, server, reqBody)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	var response IngestResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&response))
	assert.Equal(t, "skipped", response.Outcome)
	assert.Zero(t, response.ProductID)

	mockIngester.AssertExpectations(t)
}

func TestHTTPHandler_IngestProduct_InvalidPayload(t *testing.T) {
	tests := []struct {
		name     string
		body     []byte
		contains string
	}{
		{name: "malformed JSON", body: []byte(`{"title": "Tee",`), contains: "Invalid request payload"},
		{name: "missing handle", body: []byte(`{"title": "Tee", "price": 1500}`), contains: "Validation failed"},
		{name: "negative price", body: []byte(`{"title": "Tee", "handle": "tee-1", "price": -1}`), contains: "Validation failed"},
		{name: "option position out of range", body: []byte(`{"title": "Tee", "handle": "tee-1", "options": [{"name": "Size", "position": 4}]}`), contains: "Validation failed"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mockIngester := new(MockIngester)
			server := setupTestChiServer(t, mockIngester, nil)

			res := postProduct(t, server, tc.body)

			assert.Equal(t, http.StatusBadRequest, res.StatusCode)
			var errResp ErrorResponse
			require.NoError(t, json.NewDecoder(res.Body).Decode(&errResp))
			assert.Contains(t, errResp.Error, tc.contains)
			mockIngester.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
		})
	}
}

func TestHTTPHandler_IngestProduct_RejectedByNormalizer(t *testing.T) {
	mockIngester := new(MockIngester)
	server := setupTestChiServer(t, mockIngester, nil)

	srcErr := &source.SourceError{Ref: "tee-1", Err: fmt.Errorf("%w: nil record", normalize.ErrInvalidProduct)}
	mockIngester.On("Ingest", mock.Anything, mock.Anything).Return(ingest.Result{}, srcErr).Once()

	reqBody, _ := json.Marshal(teePayload())
	res := postProduct(t, server, reqBody)

	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	mockIngester.AssertExpectations(t)
}

func TestHTTPHandler_IngestProduct_StorageFailure(t *testing.T) {
	mockIngester := new(MockIngester)
	server := setupTestChiServer(t, mockIngester, nil)

	storageErr := &ingest.StorageError{Handle: "tee-1", Op: "variant insert", Err: store.ErrVariantSKUExists}
	mockIngester.On("Ingest", mock.Anything, mock.Anything).Return(ingest.Result{}, storageErr).Once()

	reqBody, _ := json.Marshal(teePayload())
	res := postProduct(t, server, reqBody)

	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	var errResp ErrorResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&errResp))
	assert.Equal(t, "Failed to ingest product", errResp.Error)
	mockIngester.AssertExpectations(t)
}

func TestHTTPHandler_GetStats(t *testing.T) {
	mockIngester := new(MockIngester)
	mockCatalog := new(MockCatalogReader)
	server := setupTestChiServer(t, mockIngester, mockCatalog)

	totals := ingest.RunStats{Seen: 3, Created: 2, Skipped: 1, Variants: 5, CategoriesCreated: 4}
	mockIngester.On("Totals").Return(totals).Once()
	mockCatalog.On("CountCatalog", mock.Anything).
		Return(&store.CatalogCounts{Products: 2, Categories: 4, Variants: 5}, nil).Once()

	res, err := http.Get(server.URL + "/api/v1/ingest/stats")
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	var response StatsResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&response))
	assert.Equal(t, totals, response.Ingest)
	require.NotNil(t, response.Catalog)
	assert.Equal(t, int64(2), response.Catalog.Products)

	mockIngester.AssertExpectations(t)
	mockCatalog.AssertExpectations(t)
}

func TestHTTPHandler_GetStats_CountFails(t *testing.T) {
	mockIngester := new(MockIngester)
	mockCatalog := new(MockCatalogReader)
	server := setupTestChiServer(t, mockIngester, mockCatalog)

	mockIngester.On("Totals").Return(ingest.RunStats{}).Once()
	mockCatalog.On("CountCatalog", mock.Anything).Return(nil, errors.New("connection refused")).Once()

	res, err := http.Get(server.URL + "/api/v1/ingest/stats")
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
}

func TestHTTPHandler_Healthz(t *testing.T) {
	mockCatalog := new(MockCatalogReader)
	server := setupTestChiServer(t, new(MockIngester), mockCatalog)

	mockCatalog.On("Ping", mock.Anything).Return(nil).Once()
	mockCatalog.On("Ping", mock.Anything).Return(errors.New("connection refused")).Once()

	res, err := http.Get(server.URL + "/api/v1/healthz")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(server.URL + "/api/v1/healthz")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)

	mockCatalog.AssertExpectations(t)
}
