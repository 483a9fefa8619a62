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

// Package nvme decodes the NVMe Identify Controller data structure returned
// by the bridge passthrough and maps PCI vendor identifiers to controller
// vendor names.
package nvme

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/lunixbochs/struc"
)

// IdentityPrefixLength covers the identity fields at the head of the
// 4096-byte Identify Controller structure: vid, ssvid, sn, mn and fr.
// NVM Express 1.4, Figure 251.
const IdentityPrefixLength = 72

var ErrIdentityTooShort = errors.New("identify controller buffer too short")

// idCtrlIdentity is the wire layout of the first 72 bytes of the Identify
// Controller structure.
type idCtrlIdentity struct {
	VID   uint16    `struc:"uint16,little"`
	SSVID uint16    `struc:"uint16,little"`
	Sn    [20]uint8 `struc:"[20]uint8"`
	Mn    [40]uint8 `struc:"[40]uint8"`
	Fr    [8]uint8  `struc:"[8]uint8"`
}

// ControllerIdentity is the decoded identity of the physical NVMe controller.
type ControllerIdentity struct {
	PCIVendorID          uint16 `json:"vid"`
	PCISubsystemVendorID uint16 `json:"ssvid"`
	SerialNumber         string `json:"serial"`
	ModelNumber          string `json:"model"`
	FirmwareRevision     string `json:"firmware"`
}

func (identity *ControllerIdentity) String() string {
	return fmt.Sprintf("model: %q, serial: %q, firmware: %q, vid: %#04x, ssvid: %#04x",
		identity.ModelNumber, identity.SerialNumber, identity.FirmwareRevision,
		identity.PCIVendorID, identity.PCISubsystemVendorID)
}

// Blocked reports whether the bridge firmware withheld the real identity.
// An all-zeroes or all-ones vendor id is not a valid PCI vendor.
func (identity *ControllerIdentity) Blocked() bool {
	return identity.PCIVendorID == 0x0000 || identity.PCIVendorID == 0xffff
}

// DecodeIdentifyController parses the identity fields out of buffer. The
// buffer must hold at least the 72-byte identity prefix; the string fields
// are decoded leniently, dropping bytes outside the printable ASCII range.
func DecodeIdentifyController(buffer []byte) (*ControllerIdentity, error) {
	if len(buffer) < IdentityPrefixLength {
		return nil, fmt.Errorf("%w: got %d bytes, want at least %d",
			ErrIdentityTooShort, len(buffer), IdentityPrefixLength)
	}
	raw := &idCtrlIdentity{}
	if err := struc.Unpack(bytes.NewReader(buffer[:IdentityPrefixLength]), raw); err != nil {
		return nil, fmt.Errorf("failed to unpack identify controller structure: %w", err)
	}
	return &ControllerIdentity{
		PCIVendorID:          raw.VID,
		PCISubsystemVendorID: raw.SSVID,
		SerialNumber:         trimAscii(raw.Sn[:]),
		ModelNumber:          trimAscii(raw.Mn[:]),
		FirmwareRevision:     trimAscii(raw.Fr[:]),
	}, nil
}

// trimAscii decodes b as ASCII, discards non-printable bytes and strips the
// space/NUL padding the spec mandates for identify string fields.
func trimAscii(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		if c >= 0x20 && c < 0x7f {
			sb.WriteByte(c)
		}
	}
	return strings.TrimSpace(sb.String())
}
