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
	"sync/atomic"
)

// Snapshot is an immutable view of the clusters known to the proxy at a
// point in time.
type Snapshot struct {
	clusters []Cluster
}

// Clusters returns the clusters in the snapshot.
func (s Snapshot) Clusters() []Cluster {
	return s.clusters
}

// Endpoints returns all endpoints across all clusters in the snapshot,
// in declaration order.
func (s Snapshot) Endpoints() []Endpoint {
	var endpoints []Endpoint
	for _, c := range s.clusters {
		endpoints = append(endpoints, c.Endpoints()...)
	}
	return endpoints
}

// Holder provides lock-free read access to the current cluster set.
// Updates replace the whole snapshot so that readers never observe a
// partially applied cluster update.
type Holder struct {
	value atomic.Value
}

// NewHolder returns a Holder containing an empty snapshot.
func NewHolder() *Holder {
	h := &Holder{}
	h.value.Store(Snapshot{})
	return h
}

// Load returns the current snapshot.
func (h *Holder) Load() Snapshot {
	return h.value.Load().(Snapshot)
}

// Store validates the provided clusters and swaps them in as the new
// snapshot. The previous snapshot remains visible to in-flight readers.
func (h *Holder) Store(clusters []Cluster) error {
	for _, c := range clusters {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	snapshot := Snapshot{clusters: make([]Cluster, len(clusters))}
	copy(snapshot.clusters, clusters)
	h.value.Store(snapshot)
	return nil
}
