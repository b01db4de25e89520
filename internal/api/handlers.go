package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/claimrelay/internal/correlation"
	"github.com/punchamoorthee/claimrelay/internal/domain"
	"github.com/punchamoorthee/claimrelay/internal/service"
	"github.com/punchamoorthee/claimrelay/internal/store"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claimrelay_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "claimrelay_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// StatusSource is the relay state exposed for debugging.
type StatusSource interface {
	Status(ctx context.Context) (service.Status, error)
}

// Exchanges gives read access to the correlation and response logs.
type Exchanges interface {
	Get(assetID string) (domain.CorrelationRecord, bool)
}

type Responses interface {
	Get(assetID string) (correlation.Response, bool)
}

type Handler struct {
	assets    store.AssetStore
	status    StatusSource
	exchanges Exchanges
	responses Responses
}

func NewHandler(assets store.AssetStore, status StatusSource, exchanges Exchanges, responses Responses) *Handler {
	return &Handler{assets: assets, status: status, exchanges: exchanges, responses: responses}
}

// NewRouter wires the read-only ops endpoints.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/status", h.StatusHandler).Methods(http.MethodGet)
	apiV1.HandleFunc("/assets", h.ListAssetsHandler).Methods(http.MethodGet)
	apiV1.HandleFunc("/assets/{id}", h.GetAssetHandler).Methods(http.MethodGet)
	return r
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	httpRequestsTotal.WithLabelValues("GET", "/health", "200").Inc()
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", "/status"))
	defer timer.ObserveDuration()

	st, err := h.status.Status(r.Context())
	if err != nil {
		httpRequestsTotal.WithLabelValues("GET", "/status", "500").Inc()
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	httpRequestsTotal.WithLabelValues("GET", "/status", "200").Inc()
	respondWithJSON(w, http.StatusOK, st)
}

func (h *Handler) ListAssetsHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", "/assets"))
	defer timer.ObserveDuration()

	assets, err := h.assets.List(r.Context())
	if err != nil {
		httpRequestsTotal.WithLabelValues("GET", "/assets", "500").Inc()
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if assets == nil {
		assets = []domain.Asset{}
	}
	httpRequestsTotal.WithLabelValues("GET", "/assets", "200").Inc()
	respondWithJSON(w, http.StatusOK, assets)
}

// AssetDetail is an asset with its current exchange and last response, if any.
type AssetDetail struct {
	domain.Asset
	Exchange *domain.CorrelationRecord `json:"exchange,omitempty"`
	Response *correlation.Response     `json:"response,omitempty"`
}

func (h *Handler) GetAssetHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", "/assets/{id}"))
	defer timer.ObserveDuration()

	id := mux.Vars(r)["id"]
	asset, err := h.assets.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrAssetNotFound) {
			httpRequestsTotal.WithLabelValues("GET", "/assets/{id}", "404").Inc()
			respondWithError(w, http.StatusNotFound, "Asset not found")
			return
		}
		httpRequestsTotal.WithLabelValues("GET", "/assets/{id}", "500").Inc()
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	detail := AssetDetail{Asset: *asset}
	if rec, ok := h.exchanges.Get(id); ok {
		detail.Exchange = &rec
	}
	if resp, ok := h.responses.Get(id); ok {
		detail.Response = &resp
	}
	httpRequestsTotal.WithLabelValues("GET", "/assets/{id}", "200").Inc()
	respondWithJSON(w, http.StatusOK, detail)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
