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

// Package cache provides the bounded caches used by the transformation engine.
//
// Design Principles:
// 1. Caches are optimizations only - every caller must produce the same result
// with caching disabled
// 2. Keys are derived from content, never from object identity
//
// Currently provides:
// - FIFO: bounded cache with first-in-first-out eviction (column statistics)
package cache

import "os"

// Disabled controls whether all caching mechanisms are disabled.
// Set via DATALINEAGE_CACHE=0 environment variable.
// When true:
// - FIFO.Get() always reports a miss
// - FIFO.Set() is a no-op
//
// This is useful for testing and debugging to verify logic works correctly
// without caching, and to isolate cache-related bugs.
var Disabled = os.Getenv("DATALINEAGE_CACHE") == "0"

// Invalidator is implemented by all caches that support full invalidation.
type Invalidator interface {
	// Invalidate clears all entries from the cache.
	Invalidate()
}
