/*
 * Copyright 2022 Google LLC
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

// Package sessionrouter pins client addresses to game-servers resolved from
// a handshake token. The token to game-server mapping lives in an external
// table that a background task mirrors into memory on a fixed interval, so
// the packet path never waits on the external store.
package sessionrouter

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"quilkin.dev/udp-proxy/pkg/cluster"
	"quilkin.dev/udp-proxy/pkg/filters"
	"quilkin.dev/udp-proxy/pkg/metrics"
	"quilkin.dev/udp-proxy/pkg/tokentable"
)

// Name is the registered name of the SessionRouter filter.
const Name = "quilkin.filters.session_router.v1alpha1.SessionRouter"

// DefaultRefreshInterval is how often the token map is refreshed from the
// external table.
const DefaultRefreshInterval = 10 * time.Second

var (
	sessionsEstablishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: metrics.Subsystem,
		Name:      "sessions_established_total",
		Help:      "Total number of client sessions pinned to an endpoint",
	})
	tokenMapRefreshFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: metrics.Subsystem,
		Name:      "token_map_refresh_failures_total",
		Help:      "Total number of failed token table scans",
	})
	tokenMapSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metrics.Namespace,
		Subsystem: metrics.Subsystem,
		Name:      "token_map_size",
		Help:      "Number of entries in the cached token map",
	})
)

// SessionRouter routes downstream packets to the game-server their
// handshake token resolved to.
//
// Each client source address is either unestablished or established. The
// first packet from an unestablished address must carry a handshake token
// that resolves against the cached token map; packets that cannot establish
// a session are dropped. Once established, an address stays pinned to its
// endpoint for the lifetime of the filter instance.
type SessionRouter struct {
	config  Config
	logger  *log.Entry
	scanner tokentable.Scanner

	// sessionMu guards sessions. Held only for single lookups/inserts,
	// never across the table scan.
	sessionMu sync.Mutex
	sessions  map[string]cluster.Endpoint

	// tokenMu guards tokens. The refresher replaces the map wholesale.
	tokenMu sync.Mutex
	tokens  map[string]string

	cancelRefresh context.CancelFunc
	refreshDone   chan struct{}
}

// New returns a SessionRouter and starts its background refresh task. The
// caller owns the returned filter and must Close it to stop the refresher.
func New(config Config, scanner tokentable.Scanner, logger *log.Logger, refreshInterval time.Duration) (*SessionRouter, error) {
	if scanner == nil {
		return nil, fmt.Errorf("no token table scanner provided to SessionRouter")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	if refreshInterval <= 0 {
		refreshInterval = DefaultRefreshInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	router := &SessionRouter{
		config: config,
		logger: logger.WithFields(log.Fields{
			"component": "SessionRouter",
			"table":     config.TableName,
		}),
		scanner:       scanner,
		sessions:      make(map[string]cluster.Endpoint),
		tokens:        make(map[string]string),
		cancelRefresh: cancel,
		refreshDone:   make(chan struct{}),
	}
	go router.runRefresh(ctx, refreshInterval)
	return router, nil
}

// Read implements filters.Filter.
func (f *SessionRouter) Read(ctx *filters.ReadContext) error {
	// Established addresses take the fast path: no parsing, no handshake.
	f.sessionMu.Lock()
	endpoint, established := f.sessions[ctx.Source]
	f.sessionMu.Unlock()
	if established {
		ctx.Destinations.Clear()
		ctx.Destinations.Push(endpoint)
		return nil
	}

	// A packet too short to carry a handshake cannot establish a session;
	// it is discarded, not buffered.
	needed := f.config.HandshakeBytes
	if len(ctx.Contents) < needed {
		f.logger.WithFields(log.Fields{"source": ctx.Source}).Debug("handshake too short, dropping packet")
		ctx.Destinations.Clear()
		return nil
	}

	token := base64.StdEncoding.EncodeToString(ctx.Contents[:needed])
	ctx.Contents = ctx.Contents[needed:]

	target, found := f.lookupToken(token)
	if !found {
		f.logger.WithFields(log.Fields{"token": token}).Debug("unknown token, dropping packet")
		ctx.Destinations.Clear()
		return nil
	}

	endpoint, err := cluster.ParseEndpoint(target)
	if err != nil {
		// An unparseable table entry is treated like a miss; the table
		// is external data, not this packet's fault.
		f.logger.WithFields(log.Fields{"token": token, "target": target}).
			Warn("token resolved to an invalid address, dropping packet")
		ctx.Destinations.Clear()
		return nil
	}

	f.sessionMu.Lock()
	f.sessions[ctx.Source] = endpoint
	f.sessionMu.Unlock()
	sessionsEstablishedTotal.Inc()

	f.logger.WithFields(log.Fields{
		"source":   ctx.Source,
		"endpoint": endpoint.Address(),
	}).Info("session established")

	ctx.Destinations.Clear()
	ctx.Destinations.Push(endpoint)
	return nil
}

// Write is a pass-through on the server to client path.
func (f *SessionRouter) Write(_ *filters.WriteContext) error {
	return nil
}

// Close stops the background refresh task and waits for it to exit.
func (f *SessionRouter) Close() error {
	f.cancelRefresh()
	<-f.refreshDone
	return nil
}

func (f *SessionRouter) lookupToken(token string) (string, bool) {
	f.tokenMu.Lock()
	defer f.tokenMu.Unlock()
	target, found := f.tokens[token]
	return target, found
}

// runRefresh scans the external table on a fixed interval and replaces the
// token map wholesale on success. A failed scan keeps the previous map and
// never terminates the loop.
func (f *SessionRouter) runRefresh(ctx context.Context, interval time.Duration) {
	defer close(f.refreshDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	f.refresh(ctx)
	for {
		select {
		case <-ticker.C:
			f.refresh(ctx)
		case <-ctx.Done():
			f.logger.Debug("Exiting token map refresh loop: context cancelled")
			return
		}
	}
}

func (f *SessionRouter) refresh(ctx context.Context) {
	records, err := f.scanner.Scan(ctx, f.config.TableName)
	if err != nil {
		tokenMapRefreshFailuresTotal.Inc()
		f.logger.WithError(err).Warn("failed to refresh token map")
		return
	}

	latest := make(map[string]string, len(records))
	for _, record := range records {
		latest[record.Token] = net.JoinHostPort(record.IPAddress, record.Port)
	}

	f.tokenMu.Lock()
	f.tokens = latest
	f.tokenMu.Unlock()
	tokenMapSize.Set(float64(len(latest)))

	f.logger.WithFields(log.Fields{"entries": len(latest)}).Debug("refreshed token map")
}

// Factory creates SessionRouter instances from configuration.
type Factory struct {
	scanner         tokentable.Scanner
	refreshInterval time.Duration
}

// NewFactory returns a factory for the SessionRouter filter. The provided
// scanner is shared by all filters the factory creates; a zero
// refreshInterval means DefaultRefreshInterval.
func NewFactory(scanner tokentable.Scanner, refreshInterval time.Duration) *Factory {
	return &Factory{scanner: scanner, refreshInterval: refreshInterval}
}

// Name implements filters.Factory.
func (f *Factory) Name() string {
	return Name
}

// Create implements filters.Factory.
func (f *Factory) Create(args filters.CreateFilterArgs) (filters.Filter, error) {
	config, err := parseConfig(args.Config)
	if err != nil {
		return nil, err
	}
	return New(config, f.scanner, args.Logger, f.refreshInterval)
}
