package api

import (
	"net/http"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/punchamoorthee/referralops/internal/auth"
)

type RouterConfig struct {
	Tokens         *auth.Manager
	Limiter        *RateLimiter
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := mux.NewRouter()
	r.Use(RequestID, Tracing, Observe(cfg.Logger))

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	referrals := r.PathPrefix("/api/v1/referrals").Subrouter()
	authn := Authenticate(cfg.Tokens)

	// Session routes
	referrals.Handle("/code", authn(http.HandlerFunc(h.GetCodeHandler))).Methods(http.MethodGet)
	referrals.Handle("/stats", authn(http.HandlerFunc(h.GetStatsHandler))).Methods(http.MethodGet)

	// Internal callers (registration flow, payments hook)
	referrals.HandleFunc("/process", h.ProcessReferralHandler).Methods(http.MethodPost)
	referrals.HandleFunc("/transactions/completed", h.TransactionCompletedHandler).Methods(http.MethodPost)

	// Public
	validate := http.Handler(http.HandlerFunc(h.ValidateCodeHandler))
	if cfg.Limiter != nil {
		validate = cfg.Limiter.Middleware(validate)
	}
	referrals.Handle("/validate/{code}", validate).Methods(http.MethodGet)

	admin := referrals.PathPrefix("/admin").Subrouter()
	admin.Use(authn, RequireRole(auth.RoleAdmin))
	admin.HandleFunc("/rewards", h.ListRewardsHandler).Methods(http.MethodGet)
	admin.HandleFunc("/rewards/export", h.ExportRewardsHandler).Methods(http.MethodGet)
	admin.HandleFunc("/rewards/{id}/approve", h.ApproveRewardHandler).Methods(http.MethodPost)
	admin.HandleFunc("/campaigns", h.ListCampaignsHandler).Methods(http.MethodGet)
	admin.HandleFunc("/campaigns", h.CreateCampaignHandler).Methods(http.MethodPost)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", headerRequestID},
		ExposedHeaders: []string{headerRequestID, "Content-Disposition"},
		MaxAge:         300,
	})(r)
}
