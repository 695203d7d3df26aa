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

package loadbalancer

import (
	"encoding/json"
	"fmt"
)

// Policy represents how the LoadBalancer filter distributes packets across
// endpoints.
type Policy string

const (
	// PolicyRoundRobin sends packets to endpoints in turns.
	PolicyRoundRobin Policy = "ROUND_ROBIN"
	// PolicyRandom sends packets to endpoints chosen at random.
	PolicyRandom Policy = "RANDOM"
)

// Config represents configuration for the LoadBalancer filter.
type Config struct {
	Policy Policy `json:"policy"`
}

func parseConfig(raw json.RawMessage) (Config, error) {
	config := Config{Policy: PolicyRoundRobin}
	if len(raw) == 0 || string(raw) == "null" {
		return config, nil
	}
	if err := json.Unmarshal(raw, &config); err != nil {
		return Config{}, fmt.Errorf("failed to deserialize load balancer config: %w", err)
	}
	if config.Policy == "" {
		config.Policy = PolicyRoundRobin
	}
	return config, nil
}
