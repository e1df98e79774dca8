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

package capture

import (
	"context"
	"sync"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// Minimum sizes, start code included, below which a parameter set is taken
// to be a fragment cut by a read boundary.
const (
	minSPSSize = 10
	minPPSSize = 6
)

// ReconnectCache holds what a late joiner needs to start decoding: the
// parameter sets, locked once both are seen, and the most recent keyframe.
type ReconnectCache struct {
	mu       sync.RWMutex
	sps      []byte
	pps      []byte
	keyframe []byte
	locked   bool
	lockedCh chan struct{}
	width    int
	height   int
}

func NewReconnectCache() *ReconnectCache {
	return &ReconnectCache{lockedCh: make(chan struct{})}
}

// Locked reports whether the parameter sets are final.
func (c *ReconnectCache) Locked() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.locked
}

// Dimensions returns the coded size parsed from the locked SPS, or zeros.
func (c *ReconnectCache) Dimensions() (int, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.width, c.height
}

// Observe runs both passes over the units of one packet or read.
func (c *ReconnectCache) Observe(units []NALUnit) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.captureParameterSets(units)
	c.trackKeyframe(units)
}

func (c *ReconnectCache) captureParameterSets(units []NALUnit) {
	if c.locked {
		return
	}

	for _, u := range units {
		switch u.Type {
		case h264.NALUTypeSPS:
			if c.sps == nil && len(u.Data) >= minSPSSize {
				c.sps = append([]byte(nil), u.Data...)
			}
		case h264.NALUTypePPS:
			if c.pps == nil && len(u.Data) >= minPPSSize {
				c.pps = append([]byte(nil), u.Data...)
			}
		}
	}

	if c.sps == nil || c.pps == nil {
		return
	}

	c.locked = true
	close(c.lockedCh)

	var sps h264.SPS
	if err := sps.Unmarshal(NALUnit{Data: c.sps}.payload()); err == nil {
		c.width, c.height = sps.Width(), sps.Height()
	}
}

// trackKeyframe replaces the cached keyframe with the complete IDR slices
// of this batch, if it has any.
func (c *ReconnectCache) trackKeyframe(units []NALUnit) {
	var frame []byte

	for _, u := range units {
		if u.Type == h264.NALUTypeIDR && u.Complete {
			frame = append(frame, u.Data...)
		}
	}

	if frame != nil {
		c.keyframe = frame
	}
}

// InitSegment returns [SPS][PPS][latest keyframe] once the parameter sets
// are locked.
func (c *ReconnectCache) InitSegment() ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.locked {
		return nil, false
	}

	seg := make([]byte, 0, len(c.sps)+len(c.pps)+len(c.keyframe))
	seg = append(seg, c.sps...)
	seg = append(seg, c.pps...)
	seg = append(seg, c.keyframe...)

	return seg, true
}

// WaitInit polls for the init segment up to retries times, delay apart.
// A receive on abort ends the wait with ErrSessionStopped; abort may be nil.
func (c *ReconnectCache) WaitInit(ctx context.Context, retries int, delay time.Duration, abort <-chan struct{}) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		if seg, ok := c.InitSegment(); ok {
			return seg, nil
		}

		if attempt >= retries {
			return nil, ErrInitializationTimeout
		}

		timer := time.NewTimer(delay)

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-abort:
			timer.Stop()
			return nil, ErrSessionStopped
		case <-c.lockedCh:
			timer.Stop()
		case <-timer.C:
		}
	}
}
