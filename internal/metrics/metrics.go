// Package metrics counts stream announcements with Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/markis/firehose/internal/events"
	"github.com/markis/firehose/internal/stream"
)

// Metrics holds the firehose collectors and the registry they live in.
type Metrics struct {
	FramesAnnounced *prometheus.CounterVec
	ListenerFaults  *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates the collectors in a fresh registry.
func New() *Metrics {
	m := &Metrics{
		FramesAnnounced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "firehose",
				Subsystem: "frames",
				Name:      "announced_total",
				Help:      "Total number of announcements by category",
			},
			[]string{"category"},
		),
		ListenerFaults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "firehose",
				Subsystem: "listeners",
				Name:      "faults_total",
				Help:      "Total number of listener panics recovered by the hub",
			},
			[]string{"category"},
		),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.FramesAnnounced,
		m.ListenerFaults,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Attach counts every fixed-category announcement made by p. Named events
// are already counted once under "event".
func (m *Metrics) Attach(p *stream.Parser) []*events.Subscription {
	subs := make([]*events.Subscription, 0, len(stream.Fixed))
	for _, category := range stream.Fixed {
		counter := m.FramesAnnounced.WithLabelValues(category.String())
		subs = append(subs, p.Subscribe(category, func(stream.Announcement) {
			counter.Inc()
		}))
	}
	return subs
}

// RecordFault is an events.FaultHandler counting recovered listener panics.
func (m *Metrics) RecordFault(category stream.Category, _ error) {
	m.ListenerFaults.WithLabelValues(category.String()).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}()

	log.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
