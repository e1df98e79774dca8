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
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitAnnexB(t *testing.T) {
	threeByte := []byte{0, 0, 1, 0x68, 0xee, 0x3c, 0x80}
	buf := concat([]byte{0xff, 0xfe}, testSPS, threeByte, testIDR)

	units := SplitAnnexB(buf, false)
	require.Len(t, units, 3)

	assert.Equal(t, h264.NALUTypeSPS, units[0].Type)
	assert.Equal(t, testSPS, units[0].Data)
	assert.True(t, units[0].Complete)

	assert.Equal(t, h264.NALUTypePPS, units[1].Type)
	assert.Equal(t, threeByte, units[1].Data)

	assert.Equal(t, h264.NALUTypeIDR, units[2].Type)
	assert.False(t, units[2].Complete)

	final := SplitAnnexB(buf, true)
	assert.True(t, final[2].Complete)
}

func TestSplitAnnexBWithoutStartCode(t *testing.T) {
	assert.Empty(t, SplitAnnexB([]byte{1, 2, 3, 4}, true))
	assert.Empty(t, SplitAnnexB(nil, true))
}

func TestAssemblerAcrossReads(t *testing.T) {
	stream := concat(testSPS, testPPS, testIDR, testP)

	var (
		asm   Assembler
		units []NALUnit
	)

	// split inside the PPS start code and inside the IDR payload
	cuts := []int{6, 14, 15, 22, len(stream)}
	prev := 0

	for _, cut := range cuts {
		units = append(units, asm.Push(stream[prev:cut])...)
		prev = cut
	}

	require.Len(t, units, 3)
	assert.Equal(t, testSPS, units[0].Data)
	assert.Equal(t, testPPS, units[1].Data)
	assert.Equal(t, testIDR, units[2].Data)

	for _, u := range units {
		assert.True(t, u.Complete)
	}

	tail := asm.Flush()
	require.Len(t, tail, 1)
	assert.Equal(t, testP, tail[0].Data)
	assert.Equal(t, h264.NALUTypeNonIDR, tail[0].Type)
}

func TestAssemblerDiscardsLeadingGarbage(t *testing.T) {
	var asm Assembler

	assert.Empty(t, asm.Push([]byte{9, 9, 9, 9, 9, 0, 0}))
	units := asm.Push(concat([]byte{0, 1, 0x67, 1, 2, 3, 4, 5, 6}, testPPS))

	require.Len(t, units, 1)
	assert.Equal(t, []byte{0, 0, 0, 1, 0x67, 1, 2, 3, 4, 5, 6}, units[0].Data)
}
