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
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

// Codec tags sent in the stream header.
const (
	CodecH264 uint32 = 0x68323634
	CodecH265 uint32 = 0x68323635
	CodecAV1  uint32 = 0x00617631
)

// Frame header PTS flags.
const (
	PTSConfig   uint64 = 1 << 63
	PTSKeyframe uint64 = 1 << 62
)

const (
	deviceNameLength = 64
	maxPacketSize    = 32 << 20
	readBufferSize   = 256 << 10
)

var codecIDs = map[string]uint32{
	"h264": CodecH264,
	"h265": CodecH265,
	"av1":  CodecAV1,
}

// CodecID maps a codec name to its tag, defaulting to h264.
func CodecID(name string) uint32 {
	if id, ok := codecIDs[name]; ok {
		return id
	}

	return CodecH264
}

func knownCodec(id uint32) bool {
	return id == CodecH264 || id == CodecH265 || id == CodecAV1
}

// StreamOptions selects which header fields the helper sends.
type StreamOptions struct {
	Codec          string `json:"video_codec"`
	SendDummyByte  bool   `json:"send_dummy_byte"`
	SendDeviceMeta bool   `json:"send_device_meta"`
	SendCodecMeta  bool   `json:"send_codec_meta"`
	SendFrameMeta  bool   `json:"send_frame_meta"`
}

func DefaultStreamOptions() StreamOptions {
	return StreamOptions{
		Codec:          "h264",
		SendDummyByte:  true,
		SendDeviceMeta: true,
		SendCodecMeta:  true,
		SendFrameMeta:  true,
	}
}

// Metadata is the decoded stream header.
type Metadata struct {
	DeviceName string `json:"deviceName,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	Codec      uint32 `json:"codec"`
}

type PacketType string

const (
	PacketConfig PacketType = "configuration"
	PacketData   PacketType = "data"
)

// Packet is one framed unit from the helper.
type Packet struct {
	Type     PacketType `json:"type"`
	Data     []byte     `json:"data"`
	Keyframe bool       `json:"keyframe,omitempty"`
	PTS      uint64     `json:"pts,omitempty"`
}

// StreamReader decodes the helper's byte stream. Reads are buffered so
// fields split across socket reads are reassembled.
type StreamReader struct {
	r            *bufio.Reader
	opts         StreamOptions
	meta         *Metadata
	dummySkipped bool
	scratch      [8]byte
}

func NewStreamReader(r io.Reader, opts StreamOptions) *StreamReader {
	return &StreamReader{
		r:    bufio.NewReaderSize(r, readBufferSize),
		opts: opts,
	}
}

func (s *StreamReader) readExactly(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return nil, err
	}

	return buf, nil
}

func (s *StreamReader) readU16() (uint16, error) {
	if _, err := io.ReadFull(s.r, s.scratch[:2]); err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint16(s.scratch[:2]), nil
}

func (s *StreamReader) readU32() (uint32, error) {
	if _, err := io.ReadFull(s.r, s.scratch[:4]); err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint32(s.scratch[:4]), nil
}

func (s *StreamReader) readU64() (uint64, error) {
	if _, err := io.ReadFull(s.r, s.scratch[:8]); err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint64(s.scratch[:8]), nil
}

func handshakeErr(field string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: reading %s: %w", ErrHandshakeIncomplete, field, err)
	}

	return fmt.Errorf("reading %s: %w", field, err)
}

// ReadMetadata decodes the header once and caches it.
func (s *StreamReader) ReadMetadata() (Metadata, error) {
	if s.meta != nil {
		return *s.meta, nil
	}

	if s.opts.SendDummyByte && !s.dummySkipped {
		if _, err := s.readExactly(1); err != nil {
			return Metadata{}, handshakeErr("dummy byte", err)
		}

		s.dummySkipped = true
	}

	meta := Metadata{Codec: CodecID(s.opts.Codec)}

	if s.opts.SendDeviceMeta {
		raw, err := s.readExactly(deviceNameLength)
		if err != nil {
			return Metadata{}, handshakeErr("device name", err)
		}

		if i := bytes.IndexByte(raw, 0); i >= 0 {
			raw = raw[:i]
		}

		meta.DeviceName = string(bytes.ToValidUTF8(raw, []byte("�")))
	}

	switch {
	case s.opts.SendCodecMeta:
		tag, err := s.readU32()
		if err != nil {
			return Metadata{}, handshakeErr("codec", err)
		}

		if knownCodec(tag) {
			meta.Codec = tag

			w, err := s.readU32()
			if err != nil {
				return Metadata{}, handshakeErr("width", err)
			}

			h, err := s.readU32()
			if err != nil {
				return Metadata{}, handshakeErr("height", err)
			}

			meta.Width, meta.Height = int(w), int(h)
		} else {
			// older helpers send packed u16 dimensions in place of the tag
			meta.Width = int((tag >> 16) & 0xFFFF)
			meta.Height = int(tag & 0xFFFF)
		}
	case s.opts.SendDeviceMeta:
		w, err := s.readU16()
		if err != nil {
			return Metadata{}, handshakeErr("width", err)
		}

		h, err := s.readU16()
		if err != nil {
			return Metadata{}, handshakeErr("height", err)
		}

		meta.Width, meta.Height = int(w), int(h)
	}

	s.meta = &meta

	return meta, nil
}

// ReadPacket decodes the next framed packet, reading the header first if
// it has not been consumed yet.
func (s *StreamReader) ReadPacket() (Packet, error) {
	if !s.opts.SendFrameMeta {
		return Packet{}, ErrFrameMetaDisabled
	}

	if s.meta == nil {
		if _, err := s.ReadMetadata(); err != nil {
			return Packet{}, err
		}
	}

	pts, err := s.readU64()
	if err != nil {
		return Packet{}, err
	}

	length, err := s.readU32()
	if err != nil {
		return Packet{}, err
	}

	if length > maxPacketSize {
		return Packet{}, fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, length)
	}

	payload, err := s.readExactly(int(length))
	if err != nil {
		return Packet{}, err
	}

	return classifyPacket(pts, payload), nil
}

func classifyPacket(pts uint64, payload []byte) Packet {
	if pts == PTSConfig {
		return Packet{Type: PacketConfig, Data: payload}
	}

	if pts&PTSKeyframe != 0 {
		return Packet{Type: PacketData, Data: payload, Keyframe: true, PTS: pts &^ PTSKeyframe}
	}

	return Packet{Type: PacketData, Data: payload, PTS: pts}
}

// Read exposes the buffered raw stream for unframed ingestion.
func (s *StreamReader) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

// ServerVersion is the helper build the launch arguments target.
const ServerVersion = "3.3.3"

// ServerArgs builds the `adb shell` argument list that launches the helper.
func ServerArgs(cfg *Config) []string {
	return []string{
		"CLASSPATH=" + RemoteServerPath,
		"app_process",
		"/",
		"com.genymobile.scrcpy.Server",
		ServerVersion,
		"max_size=" + strconv.Itoa(cfg.MaxSize),
		"video_bit_rate=" + strconv.Itoa(cfg.BitRate),
		"max_fps=" + strconv.Itoa(cfg.MaxFPS),
		"tunnel_forward=true",
		"audio=false",
		"control=false",
		"cleanup=false",
		"video_codec=" + cfg.Stream.Codec,
		"send_frame_meta=" + strconv.FormatBool(cfg.Stream.SendFrameMeta),
		"send_device_meta=" + strconv.FormatBool(cfg.Stream.SendDeviceMeta),
		"send_codec_meta=" + strconv.FormatBool(cfg.Stream.SendCodecMeta),
		"send_dummy_byte=" + strconv.FormatBool(cfg.Stream.SendDummyByte),
		"video_codec_options=i-frame-interval=" + strconv.Itoa(cfg.KeyframeInterval),
	}
}
