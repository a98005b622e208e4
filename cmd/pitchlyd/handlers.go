package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/pitchly/pitchly/pkg/billing"
	stripeprovider "github.com/pitchly/pitchly/pkg/billing/stripe"
	"github.com/pitchly/pitchly/pkg/proposals"
	"github.com/pitchly/pitchly/pkg/subscription"

	quotamw "github.com/pitchly/pitchly/middleware/http"
)

// userIDHeader carries the authenticated user id, set by the auth proxy in
// front of this service.
const userIDHeader = "X-User-ID"

func newRouter(
	cfg *config,
	logger zerolog.Logger,
	provider *stripeprovider.Provider,
	guard *subscription.Guard,
	service *proposals.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Method(http.MethodPost, "/webhooks/stripe", provider.WebhookHandler())

	quota := quotamw.Middleware(quotamw.Config{
		Guard:     guard,
		GetUserID: quotamw.FromHeader(userIDHeader),
	})

	r.With(quota).Post("/v1/proposals", handleProposalCreate(logger, service))
	r.Get("/v1/subscription", handleSubscriptionStatus(guard))
	r.Post("/v1/billing/checkout", handleCheckout(cfg, provider))
	r.Post("/v1/billing/portal", handlePortal(cfg, provider))

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

func handleProposalCreate(logger zerolog.Logger, service *proposals.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(userIDHeader)
		rec, ok := quotamw.RecordFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusInternalServerError, "quota record missing")
			return
		}

		var req proposals.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.ClientName == "" || req.ProjectBrief == "" {
			writeError(w, http.StatusBadRequest, "client_name and project_brief are required")
			return
		}

		prop, err := service.Draft(r.Context(), userID, rec, req)
		if err != nil {
			logger.Error().Err(err).Str("user_id", userID).Msg("proposal generation failed")
			writeError(w, http.StatusBadGateway, "proposal generation failed")
			return
		}

		writeJSON(w, http.StatusCreated, prop)
	}
}

func handleSubscriptionStatus(guard *subscription.Guard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(userIDHeader)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		rec, err := guard.Status(r.Context(), userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load subscription")
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"subscription": rec,
			"tier":         rec.EffectiveTier(),
			"limit":        rec.EffectiveLimit(),
			"remaining":    rec.Remaining(),
		})
	}
}

func handleCheckout(cfg *config, provider *stripeprovider.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(userIDHeader)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		var req struct {
			Tier subscription.Tier `json:"tier"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		url, err := provider.CheckoutURL(r.Context(), userID, req.Tier, cfg.CheckoutSuccessURL, cfg.CheckoutCancelURL)
		if err != nil {
			if errors.Is(err, billing.ErrTierNotConfigured) {
				writeError(w, http.StatusBadRequest, "unknown tier")
				return
			}
			writeError(w, http.StatusBadGateway, "failed to create checkout session")
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"url": url})
	}
}

func handlePortal(cfg *config, provider *stripeprovider.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(userIDHeader)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		url, err := provider.PortalURL(r.Context(), userID, cfg.PortalReturnURL)
		if err != nil {
			if errors.Is(err, billing.ErrCustomerNotFound) {
				writeError(w, http.StatusNotFound, "no billing account")
				return
			}
			writeError(w, http.StatusBadGateway, "failed to create portal session")
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"url": url})
	}
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
