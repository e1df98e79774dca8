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

package viewer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carverauto/devicelink/pkg/capture"
	"github.com/carverauto/devicelink/pkg/logger"
)

// Binary message kinds. Each media message is [kind u8][pts u64 BE][payload].
const (
	KindInit byte = iota
	KindConfig
	KindData
	KindKeyframe
)

const (
	headerSize          = 9
	defaultViewerBuffer = 256
	defaultWriteTimeout = 5 * time.Second
)

// Message is a JSON control message sent over the viewer socket.
type Message struct {
	Type      string            `json:"type"` // "metadata", "error"
	DeviceID  string            `json:"device_id,omitempty"`
	Metadata  *capture.Metadata `json:"metadata,omitempty"`
	Error     string            `json:"error,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// EncodePacket frames pkt as a binary viewer message.
func EncodePacket(pkt capture.Packet) []byte {
	out := make([]byte, headerSize+len(pkt.Data))
	out[0] = packetKind(pkt)
	binary.BigEndian.PutUint64(out[1:headerSize], pkt.PTS)
	copy(out[headerSize:], pkt.Data)

	return out
}

func packetKind(pkt capture.Packet) byte {
	switch {
	case pkt.Type == capture.PacketInit:
		return KindInit
	case pkt.Type == capture.PacketConfig:
		return KindConfig
	case pkt.Keyframe:
		return KindKeyframe
	default:
		return KindData
	}
}

// Handler serves the live stream of one device per websocket connection.
type Handler struct {
	pool         *StreamPool
	upgrader     websocket.Upgrader
	buffer       int
	writeTimeout time.Duration
	logger       logger.Logger
}

type HandlerOption func(*Handler)

// WithAllowedOrigins restricts websocket upgrades to the given origins.
func WithAllowedOrigins(origins ...string) HandlerOption {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}

	return func(h *Handler) {
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			_, ok := allowed[origin]

			return ok
		}
	}
}

// WithViewerBuffer sets how many packets a viewer may lag before it is dropped.
func WithViewerBuffer(n int) HandlerOption {
	return func(h *Handler) {
		h.buffer = n
	}
}

func NewHandler(pool *StreamPool, log logger.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		pool: pool,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 << 10,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		buffer:       defaultViewerBuffer,
		writeTimeout: defaultWriteTimeout,
		logger:       log,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		writeError(w, "device_id parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Str("origin", r.Header.Get("Origin")).
			Msg("Failed to upgrade to WebSocket")

		return
	}

	defer func() {
		_ = conn.Close()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.readClient(conn, cancel)

	if err := h.stream(ctx, conn, deviceID); err != nil {
		h.logger.Info().
			Err(err).
			Str("device", deviceID).
			Str("remote_addr", r.RemoteAddr).
			Msg("Viewer stream ended")

		if sendErr := h.sendError(conn, deviceID, err); sendErr != nil {
			h.logger.Debug().Err(sendErr).Str("device", deviceID).Msg("Failed to send error message")
		}
	}
}

// stream returns a non-nil error only when the viewer should be told why.
func (h *Handler) stream(ctx context.Context, conn *websocket.Conn, deviceID string) error {
	sess, err := h.pool.Open(ctx, deviceID)
	if err != nil {
		return err
	}

	sub, err := sess.Hub().Subscribe(ctx, h.buffer)
	if err != nil {
		return err
	}
	defer sub.Close()

	meta := sess.Metadata()
	if err := h.writeJSON(conn, Message{Type: "metadata", DeviceID: deviceID, Metadata: &meta}); err != nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case pkt, ok := <-sub.Packets():
			if !ok {
				return sub.Err()
			}

			_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))

			if err := conn.WriteMessage(websocket.BinaryMessage, EncodePacket(pkt)); err != nil {
				h.logger.Debug().Err(err).Str("device", deviceID).Msg("Viewer write failed")
				return nil
			}
		}
	}
}

// readClient drains control frames and cancels the stream once the peer goes away.
func (h *Handler) readClient(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("Viewer closed unexpectedly")
			}

			return
		}
	}
}

func (h *Handler) writeJSON(conn *websocket.Conn, msg Message) error {
	msg.Timestamp = time.Now()

	_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))

	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write JSON message: %w", err)
	}

	return nil
}

func (h *Handler) sendError(conn *websocket.Conn, deviceID string, err error) error {
	return h.writeJSON(conn, Message{Type: "error", DeviceID: deviceID, Error: err.Error()})
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	_ = json.NewEncoder(w).Encode(map[string]interface{}{"message": message, "status": statusCode})
}
