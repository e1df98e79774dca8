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

package chat

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/carverauto/devicelink/pkg/logger"
	"github.com/carverauto/devicelink/pkg/session"
)

var ErrInvalidBaseURL = errors.New("invalid model base url")

// Factory builds chat requesters and conversations for the session manager.
type Factory struct {
	client *http.Client
	logger logger.Logger
}

var _ session.Factory = (*Factory)(nil)

func NewFactory(client *http.Client, log logger.Logger) *Factory {
	return &Factory{client: client, logger: log}
}

func (f *Factory) NewRequester(cfg session.ModelConfig) (session.Requester, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, cfg.BaseURL)
	}

	return NewRequester(cfg, f.client, f.logger), nil
}

func (f *Factory) NewAutomation(
	cfg session.Configuration, requester session.Requester, takeover session.TakeoverFunc,
) (session.Automation, error) {
	return NewConversation(cfg, requester, takeover, f.logger), nil
}
