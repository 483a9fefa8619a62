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

// Package bot implements the USB Mass Storage Bulk-Only Transport framing
// structures: the 31-byte Command Block Wrapper sent on the bulk-OUT endpoint
// and the 13-byte Command Status Wrapper read back after the data phase.
package bot

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/lunixbochs/struc"
)

const (
	// CbwSignature identifies a valid Command Block Wrapper ("USBC" little-endian).
	CbwSignature uint32 = 0x43425355
	// CswSignature identifies a valid Command Status Wrapper ("USBS" little-endian).
	CswSignature uint32 = 0x53425355

	// CbwLength is the fixed on-wire size of a Command Block Wrapper.
	CbwLength = 31
	// CswLength is the fixed on-wire size of a Command Status Wrapper.
	CswLength = 13

	// MaxCdbLength is the size of the zero-padded CDB field inside the CBW.
	MaxCdbLength = 16
)

var (
	ErrCdbTooLong      = errors.New("cdb exceeds 16 bytes")
	ErrMalformedStatus = errors.New("malformed command status wrapper")
	ErrBadCswSignature = errors.New("bad command status wrapper signature")
)

// Direction is the data-phase direction carried in the CBW flags byte.
type Direction uint8

const (
	HostToDevice Direction = 0x00
	DeviceToHost Direction = 0x80
)

// CommandBlockWrapper is the 31-byte frame sent host to device.
// USB Mass Storage Class Bulk-Only Transport rev 1.0, section 5.1.
type CommandBlockWrapper struct {
	Signature          uint32    `struc:"uint32,little"`
	Tag                uint32    `struc:"uint32,little"`
	DataTransferLength uint32    `struc:"uint32,little"`
	Flags              uint8     `struc:"uint8"`
	Lun                uint8     `struc:"uint8"`
	CdbLength          uint8     `struc:"uint8"`
	Cdb                [16]uint8 `struc:"[16]uint8"`
}

func (cbw *CommandBlockWrapper) String() string {
	return fmt.Sprintf("cbw tag: %#08x, length: %d, flags: %#02x, lun: %d, cdb: % x",
		cbw.Tag, cbw.DataTransferLength, cbw.Flags, cbw.Lun, cbw.Cdb[:cbw.CdbLength])
}

// EncodeCBW builds the 31-byte wrapper around cdb. The cdb field is always
// zero-padded to 16 bytes; only the first CdbLength bytes are meaningful to
// the device.
func EncodeCBW(tag uint32, dataLength uint32, direction Direction, cdb []byte) ([]byte, error) {
	if len(cdb) > MaxCdbLength {
		return nil, fmt.Errorf("%w: got %d bytes", ErrCdbTooLong, len(cdb))
	}
	cbw := &CommandBlockWrapper{
		Signature:          CbwSignature,
		Tag:                tag,
		DataTransferLength: dataLength,
		Flags:              uint8(direction),
		Lun:                0,
		CdbLength:          uint8(len(cdb)),
	}
	copy(cbw.Cdb[:], cdb)

	var buffer bytes.Buffer
	if err := struc.Pack(&buffer, cbw); err != nil {
		return nil, fmt.Errorf("failed to pack cbw: %w", err)
	}
	return buffer.Bytes(), nil
}

// CommandStatusWrapper is the 13-byte frame read from the device after the
// data phase. The transport requires it to be drained even when its contents
// are not acted upon, otherwise the endpoint state machine desynchronizes.
type CommandStatusWrapper struct {
	Signature   uint32 `struc:"uint32,little"`
	Tag         uint32 `struc:"uint32,little"`
	DataResidue uint32 `struc:"uint32,little"`
	Status      uint8  `struc:"uint8"`
}

func (csw *CommandStatusWrapper) String() string {
	return fmt.Sprintf("csw tag: %#08x, residue: %d, status: %#02x",
		csw.Tag, csw.DataResidue, csw.Status)
}

// DecodeCSW parses buffer as a Command Status Wrapper. The buffer must be
// exactly 13 bytes and carry the expected signature; tag and status content
// are left to the caller.
func DecodeCSW(buffer []byte) (*CommandStatusWrapper, error) {
	if len(buffer) != CswLength {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedStatus, len(buffer), CswLength)
	}
	csw := &CommandStatusWrapper{}
	if err := struc.Unpack(bytes.NewReader(buffer), csw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedStatus, err)
	}
	if csw.Signature != CswSignature {
		return nil, fmt.Errorf("%w: got %#08x, want %#08x", ErrBadCswSignature, csw.Signature, CswSignature)
	}
	return csw, nil
}
