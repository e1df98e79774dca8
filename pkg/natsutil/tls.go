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
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	ErrMTLSRequired    = errors.New("mtls cert, key and ca files are required")
	ErrCAParsingFailed = errors.New("failed to parse CA certificate")
	ErrStreamRequired  = errors.New("nats stream name is required")
	ErrURLRequired     = errors.New("nats url is required")
)

// TLSFiles locates the client certificate material. Relative paths are
// resolved against CertDir.
type TLSFiles struct {
	CertDir    string `json:"cert_dir,omitempty"`
	CertFile   string `json:"cert_file"`
	KeyFile    string `json:"key_file"`
	CAFile     string `json:"ca_file"`
	ServerName string `json:"server_name,omitempty"`
}

// Config is the NATS section of the application config.
type Config struct {
	URL           string    `json:"url"`
	Stream        string    `json:"stream"`
	SubjectPrefix string    `json:"subject_prefix,omitempty"`
	TLS           *TLSFiles `json:"tls,omitempty"`
	NKeySeedFile  string    `json:"nkey_seed_file,omitempty"`
}

// Validate fills the default stream name.
func (c *Config) Validate() error {
	if c.URL == "" {
		return ErrURLRequired
	}

	if c.Stream == "" {
		c.Stream = "devicelink-events"
	}

	if c.TLS != nil && (c.TLS.CertFile == "" || c.TLS.KeyFile == "" || c.TLS.CAFile == "") {
		return ErrMTLSRequired
	}

	return nil
}

func (t *TLSFiles) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || t.CertDir == "" {
		return path
	}

	return filepath.Join(t.CertDir, path)
}

// TLSConfig builds a tls.Config for connecting to NATS using mTLS.
func TLSConfig(files *TLSFiles) (*tls.Config, error) {
	if files == nil || files.CertFile == "" || files.KeyFile == "" || files.CAFile == "" {
		return nil, ErrMTLSRequired
	}

	cert, err := tls.LoadX509KeyPair(files.resolve(files.CertFile), files.resolve(files.KeyFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	caCert, err := os.ReadFile(files.resolve(files.CAFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caCert) {
		return nil, ErrCAParsingFailed
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      caPool,
		ServerName:   files.ServerName,
		MinVersion:   tls.VersionTLS13,
	}, nil
}
