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

package common

import (
	"path"
	"strings"
)

// NormalizeKey cleans an object key. Keys always use forward slashes, have no
// leading or trailing slash, and cannot climb above the store root.
func NormalizeKey(key string) string {
	key = strings.ReplaceAll(key, "\\", "/")
	key = path.Clean("/" + key)
	key = strings.TrimPrefix(key, "/")
	if key == "." {
		return ""
	}
	return key
}

// JoinKey joins key components, skipping empty ones.
func JoinKey(parts ...string) string {
	return NormalizeKey(path.Join(parts...))
}

// ShardKey spreads content-addressed keys over two directory levels
// (ab/cd/abcd...) so no single directory grows unbounded.
func ShardKey(hash string) string {
	hash = NormalizeKey(hash)
	if len(hash) < 4 || strings.Contains(hash, "/") {
		return hash
	}
	return hash[0:2] + "/" + hash[2:4] + "/" + hash
}
