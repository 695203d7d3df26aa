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

// Package sourceiprouter routes downstream packets by matching the client's
// source address against an ordered list of CIDR-keyed routes.
package sourceiprouter

import (
	"fmt"
	"net/netip"

	log "github.com/sirupsen/logrus"

	"quilkin.dev/udp-proxy/pkg/cluster"
	"quilkin.dev/udp-proxy/pkg/filters"
)

// Name is the registered name of the SourceIpRouter filter.
const Name = "quilkin.filters.source_ip_router.v1alpha1.SourceIpRouter"

// SourceIpRouter rewrites a packet's destinations to a route's endpoint
// when the client's source IP matches any of the route's CIDR ranges.
// Unmatched packets pass through unchanged.
type SourceIpRouter struct {
	logger *log.Entry
	routes []Route
}

// Read implements filters.Filter.
func (f *SourceIpRouter) Read(ctx *filters.ReadContext) error {
	addrPort, err := netip.ParseAddrPort(ctx.Source)
	if err != nil {
		return fmt.Errorf("failed to parse source address %q: %w", ctx.Source, err)
	}
	src := addrPort.Addr()

	for _, route := range f.routes {
		if !routeMatches(route, src) {
			continue
		}

		// A bad route target is a configuration problem surfaced at
		// routing time; abort this packet rather than silently dropping it.
		endpoint, err := cluster.ParseEndpoint(route.Endpoint)
		if err != nil {
			return fmt.Errorf("route target %q: %w", route.Endpoint, err)
		}

		f.logger.WithFields(log.Fields{
			"source":   ctx.Source,
			"endpoint": route.Endpoint,
		}).Debug("matched route")

		ctx.Destinations.Clear()
		ctx.Destinations.Push(endpoint)

		// First match wins.
		return nil
	}

	f.logger.WithFields(log.Fields{"source": ctx.Source}).Debug("no route matched")
	return nil
}

// Write is a pass-through on the server to client path.
func (f *SourceIpRouter) Write(_ *filters.WriteContext) error {
	return nil
}

func routeMatches(route Route, src netip.Addr) bool {
	for _, cidr := range route.Sources {
		if cidr.Contains(src) {
			return true
		}
	}
	return false
}

// Factory creates SourceIpRouter instances from configuration.
type Factory struct{}

// NewFactory returns a factory for the SourceIpRouter filter.
func NewFactory() *Factory {
	return &Factory{}
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

	logger := args.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}

	return &SourceIpRouter{
		logger: logger.WithFields(log.Fields{"component": "SourceIpRouter"}),
		routes: config.Routes,
	}, nil
}
