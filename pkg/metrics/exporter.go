package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Exporter exposes metrics via HTTP
type Exporter struct {
	addr      string
	collector *Collector
	server    *http.Server
	logger    *slog.Logger
}

// NewExporter creates a metrics exporter serving collector on addr.
func NewExporter(addr string, collector *Collector, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &Exporter{
		addr:      addr,
		collector: collector,
		logger:    logger.With("component", "metrics"),
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start listens on the configured address and serves in the background.
// It returns the bound address, which differs from the configured one when
// the port is 0.
func (e *Exporter) Start() (string, error) {
	ln, err := net.Listen("tcp", e.addr)
	if err != nil {
		return "", err
	}
	addr := ln.Addr().String()
	e.logger.Info("serving metrics", "addr", addr)

	go func() {
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("metrics server stopped", "error", err)
		}
	}()
	return addr, nil
}

// Stop stops the exporter
func (e *Exporter) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return e.server.Shutdown(ctx)
}
