// Package router sets up HTTP routes for the report server.
package router

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	reportFeature "github.com/leapstack-labs/leapreport/internal/ui/features/report"
)

// SetupRoutes configures all routes for the report server.
func SetupRoutes(router chi.Router, cfg reportFeature.Config) error {
	router.Handle("/metrics", promhttp.Handler())

	if err := reportFeature.SetupRoutes(router, cfg); err != nil {
		return err
	}

	return nil
}
