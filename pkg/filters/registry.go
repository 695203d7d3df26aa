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

package filters

import (
	"fmt"
)

// Registry holds the set of filter factories available to the proxy.
// It is constructed explicitly at startup and passed to the component that
// builds filter chains; there is no process-global registration.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry containing the provided factories.
func NewRegistry(factories ...Factory) *Registry {
	r := &Registry{factories: make(map[string]Factory, len(factories))}
	for _, factory := range factories {
		r.factories[factory.Name()] = factory
	}
	return r
}

// Get returns the factory registered under the provided name.
func (r *Registry) Get(name string) (Factory, error) {
	factory, found := r.factories[name]
	if !found {
		return nil, fmt.Errorf("no filter registered under name %q", name)
	}
	return factory, nil
}
