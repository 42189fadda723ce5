package router

import (
	"net/http"
	"time"

	"donation-service/internal/handler"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func SetupRoutes(
	donationHandler *handler.DonationHandler,
	webhookHandler *handler.WebhookHandler,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/api/v1/donations/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Metrics
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/donations", func(r chi.Router) {
			r.Post("/", donationHandler.HandleCreateDonation)
			r.Get("/{id}", donationHandler.HandleGetDonation)
			r.Post("/{id}/confirm", donationHandler.HandleConfirmDonation)
			r.Post("/{id}/cancel", donationHandler.HandleCancelDonation)
			r.Get("/{id}/receipt", donationHandler.HandleGetReceipt)
		})

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/{id}/progress", donationHandler.HandleGetCampaignProgress)
		})

		// Admin operations: manual settlement and refunds.
		r.Route("/admin/donations", func(r chi.Router) {
			r.Post("/{id}/approve", donationHandler.HandleApproveDonation)
			r.Post("/{id}/reject", donationHandler.HandleRejectDonation)
			r.Post("/{id}/refund", donationHandler.HandleRefundDonation)
			r.Post("/recurring/process", donationHandler.HandleProcessRecurring)
		})

		r.Post("/admin/campaigns/{id}/recompute", donationHandler.HandleRecomputeCampaign)
		r.Get("/admin/webhooks/failures", webhookHandler.HandleListFailures)

		// Webhooks from payment providers.
		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/stripe", webhookHandler.HandleStripeWebhook)
			r.Post("/paypal", webhookHandler.HandlePayPalWebhook)
		})
	})

	return r
}

// LoggerMiddleware logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("user_agent", r.UserAgent()))
		})
	}
}
