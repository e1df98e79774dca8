/*
 * Copyright 2025 Carver Automation Corporation.
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

package session

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

type acquireMode int

const (
	acquireNonBlocking acquireMode = iota
	acquireBounded
	acquireUnbounded
)

// AcquirePolicy controls how long a caller waits for a device lock.
type AcquirePolicy struct {
	mode acquireMode
	wait time.Duration
}

// NonBlocking fails immediately when the device is held.
func NonBlocking() AcquirePolicy {
	return AcquirePolicy{mode: acquireNonBlocking}
}

// WaitFor waits up to d. A non-positive d behaves like NonBlocking.
func WaitFor(d time.Duration) AcquirePolicy {
	if d <= 0 {
		return NonBlocking()
	}

	return AcquirePolicy{mode: acquireBounded, wait: d}
}

// WaitForever waits until the lock is free or ctx ends.
func WaitForever() AcquirePolicy {
	return AcquirePolicy{mode: acquireUnbounded}
}

func (p AcquirePolicy) String() string {
	switch p.mode {
	case acquireBounded:
		return "wait " + p.wait.String()
	case acquireUnbounded:
		return "wait forever"
	default:
		return "non-blocking"
	}
}

func (p AcquirePolicy) acquire(ctx context.Context, sem *semaphore.Weighted, deviceID string) error {
	switch p.mode {
	case acquireBounded:
		waitCtx, cancel := context.WithTimeout(ctx, p.wait)
		defer cancel()

		if err := sem.Acquire(waitCtx, 1); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			return fmt.Errorf("%w: %s not free within %s", ErrDeviceBusy, deviceID, p.wait)
		}

		return nil
	case acquireUnbounded:
		return sem.Acquire(ctx, 1)
	default:
		if !sem.TryAcquire(1) {
			return fmt.Errorf("%w: %s", ErrDeviceBusy, deviceID)
		}

		return nil
	}
}
