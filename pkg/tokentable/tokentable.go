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

// Package tokentable provides access to the externally maintained table
// that maps handshake tokens to game-server addresses.
package tokentable

import (
	"context"
	"sync"
)

// Record is a single token table entry.
type Record struct {
	// Token is the opaque handshake token.
	Token string
	// IPAddress is the resolved game-server IP.
	IPAddress string
	// Port is the resolved game-server port, as a decimal string.
	Port string
}

// Scanner reads the full contents of a token table.
type Scanner interface {
	// Scan returns all records in the named table.
	Scan(ctx context.Context, table string) ([]Record, error)
}

// Static is an in-memory Scanner used in tests and local runs.
type Static struct {
	mu      sync.Mutex
	records []Record
	err     error
}

// NewStatic returns a Static scanner serving the provided records.
func NewStatic(records ...Record) *Static {
	return &Static{records: records}
}

// Scan implements Scanner.
func (s *Static) Scan(_ context.Context, _ string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	records := make([]Record, len(s.records))
	copy(records, s.records)
	return records, nil
}

// SetRecords replaces the records returned by subsequent scans.
func (s *Static) SetRecords(records []Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
}

// SetError makes subsequent scans fail with the provided error until it is
// cleared with a nil error.
func (s *Static) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}
