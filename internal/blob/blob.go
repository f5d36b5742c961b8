// Copyright 2024 DataLineage Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package blob stores dataset content. Stores are append-only: content at a
// location never changes once written, and Put never overwrites.
package blob

import (
	"context"
	"fmt"
	"strings"
)

// Store is a content store addressed by key.
type Store interface {
	// Put writes data under key and returns its location. created is false
	// when the key already held content, in which case nothing is written.
	Put(ctx context.Context, key string, data []byte) (location string, created bool, err error)
	// Get reads the content at location. Missing content is common.ErrNotFound.
	Get(ctx context.Context, location string) ([]byte, error)
	// Delete removes the content at location. Missing content is common.ErrNotFound.
	Delete(ctx context.Context, location string) error
}

const (
	SchemeFS  = "fs"
	SchemeGCS = "gs"
)

// splitLocation splits "scheme://path" into its parts.
func splitLocation(location string) (scheme, path string, err error) {
	scheme, path, ok := strings.Cut(location, "://")
	if !ok || scheme == "" || path == "" {
		return "", "", fmt.Errorf("malformed blob location %q", location)
	}
	return scheme, path, nil
}

// Scheme returns the scheme of a location, or "" when it is malformed.
func Scheme(location string) string {
	s, _, err := splitLocation(location)
	if err != nil {
		return ""
	}
	return s
}
