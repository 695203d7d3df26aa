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

package sourceiprouter

import (
	"encoding/json"
	"fmt"
	"net/netip"
)

// Config represents configuration for the SourceIpRouter filter.
type Config struct {
	// Routes is the ordered list of routing rules. Routes are evaluated
	// top to bottom and the first match wins.
	Routes []Route `json:"routes"`
}

// Route is a single routing rule: if the source IP matches any of Sources,
// the packet is routed to Endpoint.
type Route struct {
	// Sources is one or more CIDR notations (e.g. 192.168.1.0/24).
	Sources []Cidr `json:"sources"`
	// Endpoint is the host:port address to route matching packets to.
	Endpoint string `json:"endpoint"`
}

// Cidr is a network/prefix pair with a containment predicate over an
// address. It serializes as its CIDR-notation string.
type Cidr struct {
	prefix netip.Prefix
}

// ParseCidr parses CIDR notation into a Cidr.
func ParseCidr(s string) (Cidr, error) {
	prefix, err := netip.ParsePrefix(s)
	if err != nil {
		return Cidr{}, fmt.Errorf("invalid CIDR %q: %w", s, err)
	}
	return Cidr{prefix: prefix}, nil
}

// Contains reports whether the address falls within the CIDR range.
// An IPv4-mapped IPv6 address is matched against an IPv4 network as its
// embedded IPv4 form; all other family mismatches never match.
func (c Cidr) Contains(addr netip.Addr) bool {
	if c.prefix.Addr().Is4() && addr.Is4In6() {
		addr = addr.Unmap()
	}
	return c.prefix.Contains(addr)
}

func (c Cidr) String() string {
	return c.prefix.String()
}

// MarshalJSON implements json.Marshaler.
func (c Cidr) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.prefix.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Cidr) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseCidr(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func parseConfig(raw json.RawMessage) (Config, error) {
	config := Config{}
	if len(raw) == 0 || string(raw) == "null" {
		return config, nil
	}
	if err := json.Unmarshal(raw, &config); err != nil {
		return Config{}, fmt.Errorf("failed to deserialize source ip router config: %w", err)
	}
	return config, nil
}
