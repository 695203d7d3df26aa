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

package filters

import (
	"fmt"

	"quilkin.dev/udp-proxy/pkg/cluster"
)

// UpstreamEndpoints is a per-packet, mutable view over the endpoints that
// are currently eligible to receive the packet. It is not safe for
// concurrent use; each packet gets its own view.
type UpstreamEndpoints struct {
	endpoints []cluster.Endpoint
}

// NewUpstreamEndpoints returns a view over the provided endpoints.
func NewUpstreamEndpoints(endpoints []cluster.Endpoint) *UpstreamEndpoints {
	view := &UpstreamEndpoints{endpoints: make([]cluster.Endpoint, len(endpoints))}
	copy(view.endpoints, endpoints)
	return view
}

// Size returns the number of candidate endpoints in the view.
func (u *UpstreamEndpoints) Size() int {
	return len(u.endpoints)
}

// Keep collapses the view to the single endpoint at the provided index.
// The index must be less than Size at the time of the call. Collapsing is
// terminal for the packet: subsequent filters see exactly one candidate.
func (u *UpstreamEndpoints) Keep(index int) error {
	if index < 0 || index >= len(u.endpoints) {
		return fmt.Errorf("endpoint index %d out of range (have %d candidates)", index, len(u.endpoints))
	}
	u.endpoints = u.endpoints[index : index+1]
	return nil
}

// Clear removes all candidates from the view. A packet whose view is empty
// after the chain has run is dropped.
func (u *UpstreamEndpoints) Clear() {
	u.endpoints = u.endpoints[:0]
}

// Push appends an endpoint to the view.
func (u *UpstreamEndpoints) Push(endpoint cluster.Endpoint) {
	u.endpoints = append(u.endpoints, endpoint)
}

// Endpoints returns the current candidates.
func (u *UpstreamEndpoints) Endpoints() []cluster.Endpoint {
	return u.endpoints
}
