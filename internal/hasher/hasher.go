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

// Package hasher computes the content digest used to address and deduplicate
// dataset versions.
package hasher

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"datalineage/internal/common"
)

// DigestSize is the length in bytes of a raw digest.
const DigestSize = sha256.Size

// Digest is a lowercase hex SHA-256 of a dataset's bytes.
type Digest string

// String returns the hex form.
func (d Digest) String() string { return string(d) }

// Short returns the first 12 characters, for display.
func (d Digest) Short() string {
	if len(d) <= 12 {
		return string(d)
	}
	return string(d[:12])
}

// Hasher computes content digests. The minimum content size is policy
// supplied by configuration.
type Hasher struct {
	minSize int
}

// New creates a Hasher rejecting content shorter than minSize bytes.
// Values below 1 are raised to 1: empty content is never hashed.
func New(minSize int) *Hasher {
	if minSize < 1 {
		minSize = 1
	}
	return &Hasher{minSize: minSize}
}

// MinSize returns the configured minimum content size.
func (h *Hasher) MinSize() int { return h.minSize }

// Hash returns the digest of content.
func (h *Hasher) Hash(content []byte) (Digest, error) {
	if len(content) < h.minSize {
		return "", &common.InvalidInputError{
			Field:  "content",
			Reason: fmt.Sprintf("%d bytes is below the minimum of %d", len(content), h.minSize),
		}
	}
	return Sum(content), nil
}

// Sum hashes content without any size policy.
func Sum(content []byte) Digest {
	sum := sha256.Sum256(content)
	return Digest(hex.EncodeToString(sum[:]))
}

// Verify reports whether content hashes to digest.
func Verify(content []byte, digest Digest) bool {
	got := Sum(content)
	return subtle.ConstantTimeCompare([]byte(got), []byte(digest)) == 1
}

// Valid reports whether s looks like a digest produced by this package.
func Valid(s string) bool {
	if len(s) != DigestSize*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
