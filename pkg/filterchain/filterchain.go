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

// Package filterchain builds ordered filter chains from configuration and
// runs packets through them.
package filterchain

import (
	"encoding/json"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"

	"quilkin.dev/udp-proxy/pkg/filters"
)

// FilterConfig identifies a filter by name together with its configuration
// document.
type FilterConfig struct {
	Name   string                 `json:"name"`
	Config map[string]interface{} `json:"config,omitempty"`
}

type chainedFilter struct {
	name   string
	filter filters.Filter
}

// Chain is an ordered list of filters that packets flow through. The read
// path runs filters in declaration order; the write path runs them in
// reverse. A later filter sees only what the previous filter left in the
// packet's destination list.
type Chain struct {
	filters []chainedFilter
}

// New builds a chain from the provided configs, resolving each filter name
// through the registry. Any filter that fails to build fails the whole
// chain.
func New(registry *filters.Registry, configs []FilterConfig, logger *log.Logger) (*Chain, error) {
	chain := &Chain{}
	for _, config := range configs {
		factory, err := registry.Get(config.Name)
		if err != nil {
			chain.closeFilters()
			return nil, err
		}

		var raw json.RawMessage
		if config.Config != nil {
			raw, err = json.Marshal(config.Config)
			if err != nil {
				chain.closeFilters()
				return nil, fmt.Errorf("failed to marshal config for filter %q: %w", config.Name, err)
			}
		}

		filter, err := factory.Create(filters.CreateFilterArgs{Config: raw, Logger: logger})
		if err != nil {
			chain.closeFilters()
			return nil, fmt.Errorf("failed to create filter %q: %w", config.Name, err)
		}
		chain.filters = append(chain.filters, chainedFilter{name: config.Name, filter: filter})
	}
	return chain, nil
}

// Read runs a downstream packet through the chain. An error from any filter
// aborts processing of that packet.
func (c *Chain) Read(ctx *filters.ReadContext) error {
	for _, entry := range c.filters {
		if err := entry.filter.Read(ctx); err != nil {
			return fmt.Errorf("filter %q: %w", entry.name, err)
		}
	}
	return nil
}

// Write runs an upstream packet through the chain in reverse order.
func (c *Chain) Write(ctx *filters.WriteContext) error {
	for i := len(c.filters) - 1; i >= 0; i-- {
		entry := c.filters[i]
		if err := entry.filter.Write(ctx); err != nil {
			return fmt.Errorf("filter %q: %w", entry.name, err)
		}
	}
	return nil
}

// Len returns the number of filters in the chain.
func (c *Chain) Len() int {
	return len(c.filters)
}

// Close releases filters that hold background resources.
func (c *Chain) Close() error {
	return c.closeFilters()
}

func (c *Chain) closeFilters() error {
	var firstErr error
	for _, entry := range c.filters {
		closer, ok := entry.filter.(io.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close filter %q: %w", entry.name, err)
		}
	}
	return firstErr
}
