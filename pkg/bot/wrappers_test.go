// Copyright 2024--2026 The usbnvme-identify Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// you may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bot

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeCBW(t *testing.T) {
	cdb := []byte{0xe6, 0x06, 0x00, 0x01}
	buffer, err := EncodeCBW(0xdeadbeef, 4096, DeviceToHost, cdb)
	require.NoError(t, err)
	require.Len(t, buffer, CbwLength)

	assert.Equal(t, CbwSignature, binary.LittleEndian.Uint32(buffer[0:4]))
	assert.Equal(t, uint32(0xdeadbeef), binary.LittleEndian.Uint32(buffer[4:8]))
	assert.Equal(t, uint32(4096), binary.LittleEndian.Uint32(buffer[8:12]))
	assert.Equal(t, uint8(0x80), buffer[12])
	assert.Equal(t, uint8(0), buffer[13])
	assert.Equal(t, uint8(4), buffer[14])
	assert.Equal(t, cdb, buffer[15:19])
}

func TestEncodeCBWZeroPadsCdb(t *testing.T) {
	buffer, err := EncodeCBW(1, 512, DeviceToHost, []byte{0x12})
	require.NoError(t, err)
	require.Len(t, buffer, CbwLength)

	assert.Equal(t, uint8(1), buffer[14])
	assert.Equal(t, uint8(0x12), buffer[15])
	for i := 16; i < CbwLength; i++ {
		assert.Equal(t, uint8(0), buffer[i], "cdb byte %d not zero-padded", i)
	}
}

func TestEncodeCBWEmptyCdb(t *testing.T) {
	buffer, err := EncodeCBW(7, 0, HostToDevice, nil)
	require.NoError(t, err)
	require.Len(t, buffer, CbwLength)
	assert.Equal(t, uint8(0), buffer[12])
	assert.Equal(t, uint8(0), buffer[14])
}

func TestEncodeCBWCdbTooLong(t *testing.T) {
	cdb := make([]byte, MaxCdbLength+1)
	buffer, err := EncodeCBW(1, 4096, DeviceToHost, cdb)
	require.ErrorIs(t, err, ErrCdbTooLong)
	assert.Nil(t, buffer)
}

func TestDecodeCSW(t *testing.T) {
	buffer := make([]byte, CswLength)
	binary.LittleEndian.PutUint32(buffer[0:4], CswSignature)
	binary.LittleEndian.PutUint32(buffer[4:8], 0xdeadbeef)
	binary.LittleEndian.PutUint32(buffer[8:12], 13)
	buffer[12] = 0x01

	csw, err := DecodeCSW(buffer)
	require.NoError(t, err)
	assert.Equal(t, CswSignature, csw.Signature)
	assert.Equal(t, uint32(0xdeadbeef), csw.Tag)
	assert.Equal(t, uint32(13), csw.DataResidue)
	assert.Equal(t, uint8(0x01), csw.Status)
}

func TestDecodeCSWWrongLength(t *testing.T) {
	for _, size := range []int{0, 1, 12, 14, 31} {
		csw, err := DecodeCSW(make([]byte, size))
		assert.ErrorIs(t, err, ErrMalformedStatus, "size %d", size)
		assert.Nil(t, csw)
	}
}

func TestDecodeCSWBadSignature(t *testing.T) {
	buffer := make([]byte, CswLength)
	binary.LittleEndian.PutUint32(buffer[0:4], 0x12345678)
	csw, err := DecodeCSW(buffer)
	require.ErrorIs(t, err, ErrBadCswSignature)
	assert.Nil(t, csw)
}

func TestCBWTagRoundTrip(t *testing.T) {
	const tag = uint32(0x5eed1234)
	buffer, err := EncodeCBW(tag, 4096, DeviceToHost, []byte{0xe6, 0x06, 0x00, 0x01})
	require.NoError(t, err)

	// The device is expected to echo the tag back in the status wrapper.
	echo := make([]byte, CswLength)
	binary.LittleEndian.PutUint32(echo[0:4], CswSignature)
	copy(echo[4:8], buffer[4:8])
	csw, err := DecodeCSW(echo)
	require.NoError(t, err)
	assert.Equal(t, tag, csw.Tag)
}
