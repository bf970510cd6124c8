package authapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	loginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_logins_total",
		Help: "Login attempts by outcome.",
	}, []string{"outcome"})

	refreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_token_refreshes_total",
		Help: "Refresh-token rotations by outcome.",
	}, []string{"outcome"})

	registrationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aegis_registrations_total",
		Help: "Accounts registered.",
	})
)
