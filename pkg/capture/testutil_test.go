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
	"bytes"
	"encoding/binary"
)

var (
	testSPS = []byte{0, 0, 0, 1, 0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50}      // 12 bytes
	testPPS = []byte{0, 0, 0, 1, 0x68, 0xeb, 0xe3, 0xcb}                              // 8 bytes
	testIDR = []byte{0, 0, 0, 1, 0x65, 0x88, 0x84, 0x00, 0x33, 0xff, 0xfe, 0xf6, 0xf0} // type 5
	testP   = []byte{0, 0, 0, 1, 0x41, 0x9a, 0x22, 0x4c}                              // type 1
)

func concat(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

type handshake struct {
	dummy      bool
	name       string
	codecMeta  []byte
	deviceSize []byte
}

func (h handshake) bytes() []byte {
	var b bytes.Buffer

	if h.dummy {
		b.WriteByte(0)
	}

	if h.name != "" {
		name := make([]byte, deviceNameLength)
		copy(name, h.name)
		b.Write(name)
	}

	b.Write(h.codecMeta)
	b.Write(h.deviceSize)

	return b.Bytes()
}

func u32s(vals ...uint32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.BigEndian.PutUint32(out[i*4:], v)
	}

	return out
}

func frame(pts uint64, payload []byte) []byte {
	out := make([]byte, 12+len(payload))
	binary.BigEndian.PutUint64(out, pts)
	binary.BigEndian.PutUint32(out[8:], uint32(len(payload)))
	copy(out[12:], payload)

	return out
}

func fullHandshake() []byte {
	return handshake{
		dummy:     true,
		name:      "Pixel 7",
		codecMeta: u32s(CodecH264, 1080, 2400),
	}.bytes()
}
