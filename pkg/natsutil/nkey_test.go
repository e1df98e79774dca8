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

package natsutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nkeys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/devicelink/pkg/logger"
)

func writeUserSeed(t *testing.T) (seedFile, pub string) {
	t.Helper()

	kp, err := nkeys.CreateUser()
	require.NoError(t, err)

	seed, err := kp.Seed()
	require.NoError(t, err)

	pub, err = kp.PublicKey()
	require.NoError(t, err)

	seedFile = filepath.Join(t.TempDir(), "user.nk")
	require.NoError(t, os.WriteFile(seedFile, append(seed, '\n'), 0o600))

	return seedFile, pub
}

func runNKeyServer(t *testing.T, pub string) *server.Server {
	t.Helper()

	srv, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		Nkeys:     []*server.NkeyUser{{Nkey: pub}},
	})
	require.NoError(t, err)

	go srv.Start()

	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		t.Fatalf("embedded NATS server not ready for connections")
	}

	require.Eventually(t, srv.JetStreamEnabled, 5*time.Second, 50*time.Millisecond)

	t.Cleanup(srv.Shutdown)

	return srv
}

func TestNKeyOption_RejectsBadSeed(t *testing.T) {
	_, err := NKeyOption(filepath.Join(t.TempDir(), "missing.nk"))
	require.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.nk")
	require.NoError(t, os.WriteFile(bad, []byte("not a seed\n"), 0o600))

	_, err = NKeyOption(bad)
	require.Error(t, err)

	account, err := nkeys.CreateAccount()
	require.NoError(t, err)

	accountSeed, err := account.Seed()
	require.NoError(t, err)

	wrongKind := filepath.Join(t.TempDir(), "account.nk")
	require.NoError(t, os.WriteFile(wrongKind, accountSeed, 0o600))

	_, err = NKeyOption(wrongKind)
	require.ErrorIs(t, err, nkeys.ErrInvalidUserSeed)
}

func TestConnectWithEventPublisher_NKeyAuth(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	seedFile, pub := writeUserSeed(t)
	srv := runNKeyServer(t, pub)

	anonymous := &Config{URL: srv.ClientURL()}
	require.NoError(t, anonymous.Validate())

	_, _, err := ConnectWithEventPublisher(ctx, anonymous, logger.NewTestLogger())
	require.Error(t, err)

	cfg := &Config{URL: srv.ClientURL(), NKeySeedFile: seedFile}
	require.NoError(t, cfg.Validate())

	publisher, nc, err := ConnectWithEventPublisher(ctx, cfg, logger.NewTestLogger())
	require.NoError(t, err)

	t.Cleanup(nc.Close)

	assert.True(t, nc.IsConnected())
	assert.Equal(t, "devicelink-events", publisher.Stream())
}
