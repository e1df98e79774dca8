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
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// NALUnit is one Annex-B unit. Data includes the leading start code and may
// alias the scanned buffer.
type NALUnit struct {
	Data []byte
	Type h264.NALUType
	// Complete is false when the unit ran into the end of a buffer that may
	// continue in a later read.
	Complete bool
}

// findStartCode returns the offset and length of the next 3 or 4 byte start
// code at or after from, or -1.
func findStartCode(buf []byte, from int) (int, int) {
	for i := from; i+2 < len(buf); i++ {
		if buf[i] != 0 || buf[i+1] != 0 || buf[i+2] != 1 {
			continue
		}

		if i > from && buf[i-1] == 0 {
			return i - 1, 4
		}

		return i, 3
	}

	return -1, 0
}

// SplitAnnexB splits buf at start codes. Each unit runs to the next start
// code or the end of buf; final marks the buffer end as a unit boundary.
// Bytes before the first start code are ignored.
func SplitAnnexB(buf []byte, final bool) []NALUnit {
	var units []NALUnit

	pos, scLen := findStartCode(buf, 0)
	for pos >= 0 {
		body := pos + scLen
		next, nextLen := findStartCode(buf, body)

		end := len(buf)
		if next >= 0 {
			end = next
		}

		unit := NALUnit{
			Data:     buf[pos:end],
			Complete: next >= 0 || final,
		}

		if body < end {
			unit.Type = h264.NALUType(buf[body] & 0x1F)
		}

		units = append(units, unit)
		pos, scLen = next, nextLen
	}

	return units
}

// payload strips the start code.
func (u NALUnit) payload() []byte {
	_, scLen := findStartCode(u.Data, 0)
	if scLen == 0 {
		return u.Data
	}

	return u.Data[scLen:]
}

// Assembler reassembles units split across successive reads of an unframed
// stream. Only complete units are emitted; they never alias input buffers.
type Assembler struct {
	pending []byte
}

// Push appends a read and returns the units it completed.
func (a *Assembler) Push(chunk []byte) []NALUnit {
	a.pending = append(a.pending, chunk...)

	units := SplitAnnexB(a.pending, false)
	if len(units) == 0 {
		// keep a possible partial start code
		if n := len(a.pending); n > 3 {
			a.pending = append(a.pending[:0], a.pending[n-3:]...)
		}

		return nil
	}

	complete := units[:len(units)-1]
	out := make([]NALUnit, len(complete))

	for i, u := range complete {
		out[i] = NALUnit{
			Data:     append([]byte(nil), u.Data...),
			Type:     u.Type,
			Complete: true,
		}
	}

	a.pending = append([]byte(nil), units[len(units)-1].Data...)

	return out
}

// Flush returns the trailing unit once the stream has ended.
func (a *Assembler) Flush() []NALUnit {
	units := SplitAnnexB(a.pending, true)
	a.pending = nil

	return units
}
