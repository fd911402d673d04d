package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"catalog-ingest-service/internal/domain"
	"catalog-ingest-service/internal/ingest"
	"catalog-ingest-service/internal/normalize"
	"catalog-ingest-service/internal/store"
)

const (
	maxPayloadBytes = 4 << 20
	healthTimeout   = 2 * time.Second
)

// Ingester persists pushed product records.
type Ingester interface {
	Ingest(ctx context.Context, raw *domain.RawProduct) (ingest.Result, error)
	Totals() ingest.RunStats
}

// HTTPHandler holds dependencies for HTTP handlers.
type HTTPHandler struct {
	ingester Ingester
	catalog  store.CatalogReader
	validate *validator.Validate
	logger   *zap.Logger
}

// NewHTTPHandler creates a new HTTPHandler with dependencies.
func NewHTTPHandler(ing Ingester, catalog store.CatalogReader, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{
		ingester: ing,
		catalog:  catalog,
		validate: validator.New(),
		logger:   logger,
	}
}

// --- Helpers ---

// ErrorResponse defines the structure for JSON error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *HTTPHandler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, ErrorResponse{Error: message})
}

func (h *HTTPHandler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			h.logger.Error("Failed to encode JSON response", zap.Error(err))
		}
	}
}

// --- Ingest Handlers ---

// IngestResponse reports what happened to one pushed product.
type IngestResponse struct {
	Outcome    string `json:"outcome"`
	ProductID  int64  `json:"product_id,omitempty"`
	Categories int    `json:"categories,omitempty"`
	Variants   int    `json:"variants,omitempty"`
}

func (h *HTTPHandler) IngestProduct(w http.ResponseWriter, r *http.Request) {
	var raw domain.RawProduct
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPayloadBytes)).Decode(&raw); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.Struct(raw); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	res, err := h.ingester.Ingest(r.Context(), &raw)
	if err != nil {
		if errors.Is(err, normalize.ErrInvalidProduct) {
			h.respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("Ingest of pushed product failed", zap.String("handle", raw.Handle), zap.Error(err))
		h.respondWithError(w, http.StatusInternalServerError, "Failed to ingest product")
		return
	}

	response := IngestResponse{Outcome: res.Outcome.String()}
	if res.Outcome == ingest.OutcomeSkipped {
		h.respondWithJSON(w, http.StatusOK, response)
		return
	}
	response.ProductID = res.ProductID
	response.Categories = res.Categories
	response.Variants = res.Variants
	h.respondWithJSON(w, http.StatusCreated, response)
}

// StatsResponse pairs the process counters with the current table sizes.
type StatsResponse struct {
	Ingest  ingest.RunStats      `json:"ingest"`
	Catalog *store.CatalogCounts `json:"catalog,omitempty"`
}

func (h *HTTPHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	response := StatsResponse{Ingest: h.ingester.Totals()}
	counts, err := h.catalog.CountCatalog(r.Context())
	if err != nil {
		h.logger.Error("CountCatalog failed", zap.Error(err))
		h.respondWithError(w, http.StatusInternalServerError, "Failed to count catalog rows")
		return
	}
	response.Catalog = counts
	h.respondWithJSON(w, http.StatusOK, response)
}

func (h *HTTPHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	if err := h.catalog.Ping(ctx); err != nil {
		h.logger.Warn("Database ping failed", zap.Error(err))
		h.respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Route Registration ---

// RegisterRoutes sets up the HTTP routes for the service.
func (h *HTTPHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/healthz", h.Healthz)
		r.Route("/ingest", func(r chi.Router) {
			r.Post("/products", h.IngestProduct) // POST /api/v1/ingest/products
			r.Get("/stats", h.GetStats)          // GET /api/v1/ingest/stats
		})
	})
}
