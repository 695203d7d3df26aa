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
	"encoding/json"
	"fmt"

	envoycluster "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"
	envoycore "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	envoyendpoint "github.com/envoyproxy/go-control-plane/envoy/config/endpoint/v3"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ToEnvoyCluster converts the cluster to its envoy Cluster resource
// counterpart, as distributed over the control-plane protocol.
func ToEnvoyCluster(c Cluster) (*envoycluster.Cluster, error) {
	loadAssignment, err := makeLoadAssignment(c)
	if err != nil {
		return nil, fmt.Errorf("failed to create cluster resource: %w", err)
	}

	return &envoycluster.Cluster{
		Name: c.Name,
		ClusterDiscoveryType: &envoycluster.Cluster_Type{
			Type: envoycluster.Cluster_STATIC,
		},
		LoadAssignment: loadAssignment,
	}, nil
}

// FromEnvoyCluster converts an envoy Cluster resource back into the
// proxy's cluster model.
func FromEnvoyCluster(resource *envoycluster.Cluster) (Cluster, error) {
	c := Cluster{Name: resource.GetName()}

	for _, localityEndpoints := range resource.GetLoadAssignment().GetEndpoints() {
		group := LocalityEndpoints{}
		if locality := localityEndpoints.GetLocality(); locality != nil {
			group.Locality = &Locality{
				Region:  locality.GetRegion(),
				Zone:    locality.GetZone(),
				SubZone: locality.GetSubZone(),
			}
		}

		for _, lbEndpoint := range localityEndpoints.GetLbEndpoints() {
			socketAddress := lbEndpoint.GetEndpoint().GetAddress().GetSocketAddress()
			if socketAddress == nil {
				return Cluster{}, fmt.Errorf(
					"cluster %q: endpoint is missing a socket address", resource.GetName())
			}

			var metadata map[string]interface{}
			if filterMetadata := lbEndpoint.GetMetadata().GetFilterMetadata(); len(filterMetadata) > 0 {
				metadata = make(map[string]interface{}, len(filterMetadata))
				for key, value := range filterMetadata {
					metadata[key] = value.AsMap()
				}
			}

			group.Endpoints = append(group.Endpoints, Endpoint{
				IP:       socketAddress.GetAddress(),
				Port:     int(socketAddress.GetPortValue()),
				Metadata: metadata,
			})
		}

		c.Localities = append(c.Localities, group)
	}

	if err := c.Validate(); err != nil {
		return Cluster{}, err
	}
	return c, nil
}

func makeLoadAssignment(c Cluster) (*envoyendpoint.ClusterLoadAssignment, error) {
	var localityEndpoints []*envoyendpoint.LocalityLbEndpoints
	for _, group := range c.Localities {
		var locality *envoycore.Locality
		if group.Locality != nil {
			locality = &envoycore.Locality{
				Region:  group.Locality.Region,
				Zone:    group.Locality.Zone,
				SubZone: group.Locality.SubZone,
			}
		}

		var lbEndpoints []*envoyendpoint.LbEndpoint
		for _, ep := range group.Endpoints {
			metadata, err := parseMetadata(ep.Metadata)
			if err != nil {
				return nil, fmt.Errorf("failed to create Endpoint resource: %w", err)
			}
			lbEndpoints = append(lbEndpoints, &envoyendpoint.LbEndpoint{
				Metadata: &envoycore.Metadata{
					FilterMetadata: metadata,
				},
				HostIdentifier: &envoyendpoint.LbEndpoint_Endpoint{
					Endpoint: &envoyendpoint.Endpoint{
						Address: &envoycore.Address{
							Address: &envoycore.Address_SocketAddress{
								SocketAddress: &envoycore.SocketAddress{
									Protocol: envoycore.SocketAddress_UDP,
									Address:  ep.IP,
									PortSpecifier: &envoycore.SocketAddress_PortValue{
										PortValue: uint32(ep.Port),
									},
								},
							},
						},
					}},
			})
		}

		localityEndpoints = append(localityEndpoints, &envoyendpoint.LocalityLbEndpoints{
			Locality:    locality,
			LbEndpoints: lbEndpoints,
		})
	}

	return &envoyendpoint.ClusterLoadAssignment{
		ClusterName: c.Name,
		Endpoints:   localityEndpoints,
	}, nil
}

func parseMetadata(input map[string]interface{}) (map[string]*structpb.Struct, error) {
	output := make(map[string]*structpb.Struct)
	for key, value := range input {
		metadataBytes, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to parse metadata: %w", err)
		}

		protoValue := structpb.Struct{}
		if err := protojson.Unmarshal(metadataBytes, &protoValue); err != nil {
			return nil, err
		}
		output[key] = &protoValue
	}
	return output, nil
}
