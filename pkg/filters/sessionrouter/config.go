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

package sessionrouter

import (
	"encoding/json"
	"fmt"
)

const (
	// DefaultHandshakeBytes is the number of leading payload bytes that
	// constitute the handshake token when none is configured.
	DefaultHandshakeBytes = 4
	// DefaultTableName is the token table polled when none is configured.
	DefaultTableName = "MyMatchmakingTable"
)

// Config represents configuration for the SessionRouter filter.
type Config struct {
	// HandshakeBytes is the number of leading payload bytes that
	// constitute the handshake token.
	HandshakeBytes int `json:"handshake_bytes"`
	// TableName is the identifier of the external token table to poll.
	TableName string `json:"table_name"`
}

func parseConfig(raw json.RawMessage) (Config, error) {
	config := Config{
		HandshakeBytes: DefaultHandshakeBytes,
		TableName:      DefaultTableName,
	}
	if len(raw) == 0 || string(raw) == "null" {
		return config, nil
	}
	if err := json.Unmarshal(raw, &config); err != nil {
		return Config{}, fmt.Errorf("failed to deserialize session router config: %w", err)
	}
	if config.HandshakeBytes < 0 {
		return Config{}, fmt.Errorf("handshake_bytes must not be negative, got %d", config.HandshakeBytes)
	}
	if config.HandshakeBytes == 0 {
		config.HandshakeBytes = DefaultHandshakeBytes
	}
	if config.TableName == "" {
		config.TableName = DefaultTableName
	}
	return config, nil
}
