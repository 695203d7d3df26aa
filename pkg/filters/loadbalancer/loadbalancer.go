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

// Package loadbalancer distributes downstream packets over the candidate
// endpoints, either in round-robin order or at random.
package loadbalancer

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"quilkin.dev/udp-proxy/pkg/filters"
)

// Name is the registered name of the LoadBalancer filter.
const Name = "quilkin.extensions.filters.load_balancer.v1alpha1.LoadBalancer"

// endpointChooser chooses from a set of endpoints that the proxy is
// connected to.
type endpointChooser interface {
	// Choose collapses the candidate set to the next endpoint to use.
	Choose(endpoints *filters.UpstreamEndpoints) error
}

// roundRobinChooser chooses endpoints in round-robin order. The counter is
// shared across all packets handled by the owning filter instance.
type roundRobinChooser struct {
	next uint64
}

func (c *roundRobinChooser) Choose(endpoints *filters.UpstreamEndpoints) error {
	// Read the count first and compute the index against that same value
	// so that the selected index is always in range for the candidate set
	// the packet was handed.
	count := endpoints.Size()
	if count == 0 {
		return fmt.Errorf("no endpoints to choose from")
	}
	turn := atomic.AddUint64(&c.next, 1) - 1
	return endpoints.Keep(int(turn % uint64(count)))
}

// randomChooser chooses endpoints at random.
type randomChooser struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newRandomChooser() *randomChooser {
	return &randomChooser{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (c *randomChooser) Choose(endpoints *filters.UpstreamEndpoints) error {
	count := endpoints.Size()
	if count == 0 {
		return fmt.Errorf("no endpoints to choose from")
	}
	c.mu.Lock()
	index := c.rng.Intn(count)
	c.mu.Unlock()
	return endpoints.Keep(index)
}

// LoadBalancer load balances packets over the upstream endpoints.
type LoadBalancer struct {
	chooser endpointChooser
}

// Read collapses the packet's candidate set to the chosen endpoint.
func (f *LoadBalancer) Read(ctx *filters.ReadContext) error {
	return f.chooser.Choose(ctx.Destinations)
}

// Write is a pass-through on the server to client path.
func (f *LoadBalancer) Write(_ *filters.WriteContext) error {
	return nil
}

// Factory creates LoadBalancer instances from configuration.
type Factory struct{}

// NewFactory returns a factory for the LoadBalancer filter.
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

	var chooser endpointChooser
	switch config.Policy {
	case PolicyRoundRobin:
		chooser = &roundRobinChooser{}
	case PolicyRandom:
		chooser = newRandomChooser()
	default:
		return nil, fmt.Errorf("unknown load balancer policy %q", config.Policy)
	}

	return &LoadBalancer{chooser: chooser}, nil
}
