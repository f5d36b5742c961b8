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

// Package util provides retry, polling and locking helpers shared by the CLI
// and the service layer.
package util

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"datalineage/internal/common"
)

// TransientRetryOptions returns retry options for calls into the service.
// Only transient storage failures are retried, with backoff (100ms, 200ms, 400ms).
func TransientRetryOptions(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Attempts(4),
		retry.Delay(100 * time.Millisecond),
		retry.MaxDelay(400 * time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsTransient),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	}
}

// Retry executes fn with retry logic.
// Returns the last error if all attempts fail.
func Retry(ctx context.Context, fn func() error, opts ...retry.Option) error {
	if len(opts) == 0 {
		opts = TransientRetryOptions(ctx)
	}
	return retry.Do(fn, opts...)
}

// RetryWithResult executes fn with retry logic and returns the result.
func RetryWithResult[T any](ctx context.Context, fn func() (T, error), opts ...retry.Option) (T, error) {
	if len(opts) == 0 {
		opts = TransientRetryOptions(ctx)
	}
	return retry.DoWithData(fn, opts...)
}

// Common retry predicates

// IsTransient reports whether retrying the failed call is sensible.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, common.ErrTransient) || IsDatabaseLocked(err)
}

// IsDatabaseLocked returns true if the error indicates a database lock.
func IsDatabaseLocked(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "database is locked")
}
