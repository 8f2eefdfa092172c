package metrics

import (
	"context"
	"fmt"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// HTTPHandler returns an http.Handler that serves Prometheus metrics for the provided registry.
func HTTPHandler(reg *prom.Registry) http.Handler {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Flush exports a one-shot run's metrics: to a node-exporter textfile when
// path is set, and to a Pushgateway when gateway is set.
func Flush(ctx context.Context, reg *prom.Registry, path, gateway, job string) error {
	if reg == nil {
		return nil
	}
	if path != "" {
		if err := prom.WriteToTextfile(path, reg); err != nil {
			return fmt.Errorf("write metrics textfile: %w", err)
		}
	}
	if gateway != "" {
		if job == "" {
			job = "imgpub"
		}
		if err := push.New(gateway, job).Gatherer(reg).PushContext(ctx); err != nil {
			return fmt.Errorf("push metrics to %s: %w", gateway, err)
		}
	}
	return nil
}
