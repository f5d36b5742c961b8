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

package util

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"
)

// KeyedLocker serializes work per key. Within a process it uses one slot per
// key; when a directory is configured it also takes an flock there so other
// processes sharing the catalog are excluded too.
type KeyedLocker struct {
	dir  string
	poll PollConfig

	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewKeyedLocker returns a locker. An empty dir keeps locking in-process.
func NewKeyedLocker(dir string, poll PollConfig) *KeyedLocker {
	return &KeyedLocker{dir: dir, poll: poll, slots: make(map[string]*slot)}
}

// LockDir returns the lock directory conventionally used for a catalog file.
func LockDir(catalogPath string) string {
	return catalogPath + ".locks"
}

// Lock blocks until key is held or ctx is done. The returned func releases it.
func (l *KeyedLocker) Lock(ctx context.Context, key string) (func(), error) {
	s := l.acquire(key)
	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, s, false)
		return nil, ctx.Err()
	}

	if l.dir == "" {
		return func() { l.release(key, s, true) }, nil
	}

	fl, err := l.lockFile(ctx, key)
	if err != nil {
		l.release(key, s, true)
		return nil, err
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			log.Warnf("[Lock] unlock %s: %v", key, err)
		}
		l.release(key, s, true)
	}, nil
}

func (l *KeyedLocker) acquire(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *KeyedLocker) release(key string, s *slot, held bool) {
	if held {
		<-s.ch
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *KeyedLocker) lockFile(ctx context.Context, key string) (*flock.Flock, error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	fl := flock.New(filepath.Join(l.dir, lockName(key)))

	var lockErr error
	err := PollUntil(ctx, l.poll, func() bool {
		locked, err := fl.TryLock()
		if err != nil {
			lockErr = err
			return true
		}
		return locked
	})
	if lockErr != nil {
		return nil, fmt.Errorf("lock %s: %w", key, lockErr)
	}
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	log.Debugf("[Lock] acquired %s", fl.Path())
	return fl, nil
}

// lockName maps an arbitrary key to a safe file name.
func lockName(key string) string {
	sum := blake3.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16]) + ".lock"
}
