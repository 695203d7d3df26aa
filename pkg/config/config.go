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

// Package config holds the proxy's resource configuration document: the
// clusters to route to and the filter chain to route with.
package config

import (
	"encoding/json"
	"fmt"

	"sigs.k8s.io/yaml"

	"quilkin.dev/udp-proxy/pkg/cluster"
	"quilkin.dev/udp-proxy/pkg/filterchain"
)

// Config is the proxy's resource configuration.
type Config struct {
	Clusters []cluster.Cluster          `json:"clusters"`
	Filters  []filterchain.FilterConfig `json:"filters"`
}

// FromJSON parses a JSON configuration document.
func FromJSON(data []byte) (*Config, error) {
	config := &Config{}
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	for _, c := range config.Clusters {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	return config, nil
}

// FromYAML parses a YAML (or JSON) configuration document.
func FromYAML(data []byte) (*Config, error) {
	jsonBytes, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to convert config from YAML to JSON: %w", err)
	}
	return FromJSON(jsonBytes)
}
