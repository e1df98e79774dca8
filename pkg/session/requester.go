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

import "context"

// ChunkingRequester forwards every chunk produced by the wrapped requester
// to a sink. Each chunk is a cancellation checkpoint: once the token is
// canceled further chunks are dropped, while the in-flight request itself
// runs to completion.
type ChunkingRequester struct {
	inner Requester
	sink  ChunkFunc
	token *CancelToken
}

func NewChunkingRequester(inner Requester, sink ChunkFunc, token *CancelToken) *ChunkingRequester {
	return &ChunkingRequester{inner: inner, sink: sink, token: token}
}

func (c *ChunkingRequester) Request(ctx context.Context, messages []Message, onChunk ChunkFunc) (Message, error) {
	return c.inner.Request(ctx, messages, func(chunk string) {
		if c.token != nil && c.token.Canceled() {
			return
		}

		if c.sink != nil {
			c.sink(chunk)
		}

		if onChunk != nil {
			onChunk(chunk)
		}
	})
}
