package handler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	donationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "donations_created_total",
		Help: "Donations accepted into the pipeline, by payment method.",
	}, []string{"method"})

	donationsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "donations_rejected_total",
		Help: "Donation requests rejected by validation.",
	})

	webhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Webhook deliveries by provider and outcome.",
	}, []string{"provider", "outcome"})

	donationTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "donation_transitions_total",
		Help: "Applied donation status transitions, by target status.",
	}, []string{"to"})
)
