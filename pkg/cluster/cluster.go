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

package cluster

import (
	"fmt"
	"net"
	"reflect"
	"strconv"
)

// Endpoint represents an upstream endpoint (e.g a game-server)
type Endpoint struct {
	// IP is the endpoint's IP address
	IP string `json:"ip"`
	// Port is the endpoint's port
	Port int `json:"port"`
	// Metadata contains any endpoint metadata
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Address returns the endpoint's address in host:port form.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.IP, strconv.Itoa(e.Port))
}

// Equal reports whether two endpoints have the same address and metadata.
func (e Endpoint) Equal(other Endpoint) bool {
	return e.IP == other.IP &&
		e.Port == other.Port &&
		reflect.DeepEqual(e.Metadata, other.Metadata)
}

// ParseEndpoint parses a host:port string into an Endpoint without metadata.
func ParseEndpoint(address string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint address %q: %w", address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("invalid endpoint port in %q", address)
	}
	return Endpoint{IP: host, Port: port}, nil
}

// Locality is a region/zone/sub-zone grouping key for endpoints.
type Locality struct {
	Region  string `json:"region"`
	Zone    string `json:"zone"`
	SubZone string `json:"sub_zone"`
}

// LocalityEndpoints groups the endpoints that share a locality. A nil
// Locality means the endpoints have no locality assigned.
type LocalityEndpoints struct {
	Locality  *Locality  `json:"locality,omitempty"`
	Endpoints []Endpoint `json:"endpoints"`
}

// Cluster represents a set of upstream endpoints grouped by locality.
type Cluster struct {
	// Name is the cluster's name
	Name string `json:"name"`
	// Localities contains the endpoint groups belonging to the cluster.
	Localities []LocalityEndpoints `json:"localities"`
}

// Validate checks the cluster's grouping invariants: localities appear at
// most once and no endpoint is duplicated within a locality group.
func (c Cluster) Validate() error {
	seenLocalities := make(map[Locality]struct{})
	seenNilLocality := false
	for _, group := range c.Localities {
		if group.Locality == nil {
			if seenNilLocality {
				return fmt.Errorf("cluster %q: duplicate unassigned locality group", c.Name)
			}
			seenNilLocality = true
		} else {
			if _, found := seenLocalities[*group.Locality]; found {
				return fmt.Errorf("cluster %q: duplicate locality %+v", c.Name, *group.Locality)
			}
			seenLocalities[*group.Locality] = struct{}{}
		}

		for i, ep := range group.Endpoints {
			for _, prev := range group.Endpoints[:i] {
				if ep.Equal(prev) {
					return fmt.Errorf(
						"cluster %q: duplicate endpoint %s within locality group", c.Name, ep.Address())
				}
			}
		}
	}
	return nil
}

// Get returns the endpoint group for the provided locality, if any.
// A nil locality looks up the unassigned group.
func (c Cluster) Get(locality *Locality) (LocalityEndpoints, bool) {
	for _, group := range c.Localities {
		if locality == nil && group.Locality == nil {
			return group, true
		}
		if locality != nil && group.Locality != nil && *group.Locality == *locality {
			return group, true
		}
	}
	return LocalityEndpoints{}, false
}

// Endpoints returns the cluster's endpoints flattened across all localities,
// in declaration order.
func (c Cluster) Endpoints() []Endpoint {
	var endpoints []Endpoint
	for _, group := range c.Localities {
		endpoints = append(endpoints, group.Endpoints...)
	}
	return endpoints
}
