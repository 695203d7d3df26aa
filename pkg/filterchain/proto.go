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

package filterchain

import (
	"fmt"

	envoylistener "github.com/envoyproxy/go-control-plane/envoy/config/listener/v3"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// The binary counterpart of a filter config is an envoy listener Filter
// whose typed_config carries the structured document as a protobuf Struct.
// The conversion is lossless for every config field, in both directions.

// ToProto converts a filter config to its envoy Filter counterpart.
func (fc FilterConfig) ToProto() (*envoylistener.Filter, error) {
	configStruct, err := structpb.NewStruct(fc.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to convert config for filter %q to protobuf: %w", fc.Name, err)
	}

	value, err := proto.Marshal(configStruct)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s filter to protobuf: %w", fc.Name, err)
	}

	return &envoylistener.Filter{
		Name: fc.Name,
		ConfigType: &envoylistener.Filter_TypedConfig{
			TypedConfig: &anypb.Any{
				TypeUrl: fc.Name,
				Value:   value,
			},
		},
	}, nil
}

// FilterConfigFromProto converts an envoy Filter back to a filter config.
func FilterConfigFromProto(filter *envoylistener.Filter) (FilterConfig, error) {
	fc := FilterConfig{Name: filter.GetName()}

	typedConfig := filter.GetTypedConfig()
	if typedConfig == nil || len(typedConfig.GetValue()) == 0 {
		return fc, nil
	}

	configStruct := &structpb.Struct{}
	if err := proto.Unmarshal(typedConfig.GetValue(), configStruct); err != nil {
		return FilterConfig{}, fmt.Errorf(
			"failed to unmarshal config for filter %q from protobuf: %w", fc.Name, err)
	}
	if fields := configStruct.AsMap(); len(fields) > 0 {
		fc.Config = fields
	}
	return fc, nil
}

// ChainConfigToProto converts an ordered list of filter configs to an envoy
// FilterChain.
func ChainConfigToProto(configs []FilterConfig) (*envoylistener.FilterChain, error) {
	envoyFilters := make([]*envoylistener.Filter, 0, len(configs))
	for _, config := range configs {
		filter, err := config.ToProto()
		if err != nil {
			return nil, err
		}
		envoyFilters = append(envoyFilters, filter)
	}
	return &envoylistener.FilterChain{Filters: envoyFilters}, nil
}

// ChainConfigFromProto converts an envoy FilterChain back to an ordered
// list of filter configs.
func ChainConfigFromProto(chain *envoylistener.FilterChain) ([]FilterConfig, error) {
	configs := make([]FilterConfig, 0, len(chain.GetFilters()))
	for _, filter := range chain.GetFilters() {
		config, err := FilterConfigFromProto(filter)
		if err != nil {
			return nil, err
		}
		configs = append(configs, config)
	}
	return configs, nil
}
