/*
 * Copyright 2021 Google LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package admin serves the proxy's operational endpoints: prometheus
// metrics and readiness.
package admin

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// HealthCheck implements the health check logic exposed by the server.
// It is implemented by internal components of the proxy and returns
// an error if the component is unhealthy.
type HealthCheck func(ctx context.Context) error

// Server is the proxy's admin HTTP server.
type Server struct {
	logger       *log.Entry
	port         int16
	healthChecks []HealthCheck
}

// New returns a new admin Server.
func New(logger *log.Logger, port int16, healthChecks []HealthCheck) *Server {
	return &Server{
		logger:       logger.WithFields(log.Fields{"component": "AdminServer"}),
		port:         port,
		healthChecks: healthChecks,
	}
}

// Run starts the admin server in a background goroutine. The server is
// bounded by the provided context.
func (s *Server) Run(ctx context.Context) {
	address := fmt.Sprintf(":%d", s.port)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", s.handleReady)

	srv := &http.Server{Addr: address, Handler: mux}

	go func() {
		s.logger.Infof("starting admin server on %s", address)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.WithError(err).Warn("Admin server shutdown prematurely")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Warn("Admin server did not shut down properly")
		}
	}()
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	statusMessage := "OK"
	statusCode := http.StatusOK

	checksErrorGroup, ctx := errgroup.WithContext(r.Context())
	for i := range s.healthChecks {
		check := s.healthChecks[i]
		checksErrorGroup.Go(func() error {
			return check(ctx)
		})
	}

	if err := checksErrorGroup.Wait(); err != nil {
		statusCode = http.StatusInternalServerError
		statusMessage = err.Error()
	}

	w.WriteHeader(statusCode)
	if _, err := w.Write([]byte(statusMessage)); err != nil {
		s.logger.WithError(err).Warn("Failed to write /ready response")
	}
}
