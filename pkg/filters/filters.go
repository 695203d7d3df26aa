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

// Package filters defines the unit of composition through which the proxy's
// per-packet routing decisions are made. Filters run in a fixed,
// configuration-determined order; each one may narrow, replace or clear the
// packet's candidate destination list. A packet whose destination list ends
// up empty is not forwarded.
package filters

import (
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"quilkin.dev/udp-proxy/pkg/cluster"
)

// ReadContext carries a downstream packet (client to game-server) through
// the filter chain.
type ReadContext struct {
	// Source is the client's address in host:port form.
	Source string
	// Contents is the packet payload. Filters may mutate it, e.g. to
	// consume a handshake prefix.
	Contents []byte
	// Destinations is the candidate destination set for the packet,
	// initialized from the current cluster snapshot.
	Destinations *UpstreamEndpoints
}

// NewReadContext returns a ReadContext with the candidate set initialized
// from the provided endpoints.
func NewReadContext(source string, contents []byte, endpoints []cluster.Endpoint) *ReadContext {
	return &ReadContext{
		Source:       source,
		Contents:     contents,
		Destinations: NewUpstreamEndpoints(endpoints),
	}
}

// WriteContext carries an upstream packet (game-server to client) through
// the write-side filter chain.
type WriteContext struct {
	// Source is the upstream endpoint's address in host:port form.
	Source string
	// Dest is the client's address in host:port form.
	Dest string
	// Contents is the packet payload.
	Contents []byte
}

// Filter is a single stage of the packet pipeline.
//
// Read is invoked for downstream packets and Write for upstream packets.
// A returned error aborts processing of that packet only; it never stops
// the proxy.
type Filter interface {
	Read(ctx *ReadContext) error
	Write(ctx *WriteContext) error
}

// CreateFilterArgs holds the arguments a factory needs to build a filter.
type CreateFilterArgs struct {
	// Config is the filter's configuration as a JSON document. It may be
	// empty or "null" for filters that accept a default configuration.
	Config json.RawMessage
	// Logger is the logger filters should derive their own from.
	Logger *log.Logger
}

// Factory builds filter instances from configuration. A factory failing to
// create a filter is a configuration error: the filter is never
// instantiated and the chain it belongs to is not built.
type Factory interface {
	// Name returns the registered name of the filter this factory builds.
	Name() string
	// Create builds a filter from the provided arguments.
	Create(args CreateFilterArgs) (Filter, error)
}
