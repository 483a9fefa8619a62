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

// Package asmedia encodes the ASMedia vendor-specific NVMe passthrough
// command descriptor blocks understood by the ASM2362/ASM2364 USB-to-NVMe
// bridge family.
package asmedia

import "github.com/asmutils/usbnvme-identify/pkg/usbdev"

const (
	// PassthroughOpcode is the ASMedia vendor opcode that forwards an
	// embedded NVMe admin command to the controller behind the bridge.
	PassthroughOpcode = 0xe6

	nvmeAdminIdentify = 0x06

	// cnsIdentifyController selects the Identify Controller data structure.
	cnsIdentifyController = 0x01
)

// IdentifyDataLength is the size of the NVMe Identify Controller data
// structure returned in the data phase.
const IdentifyDataLength = 4096

// encodeCdb builds the 4-byte passthrough envelope. Other NVMe admin
// commands would extend bytes 1-15; only Identify Controller is supported.
func encodeCdb(nvmeOpcode, subSelector, cns uint8) []byte {
	return []byte{PassthroughOpcode, nvmeOpcode, subSelector, cns}
}

// IdentifyControllerCDB returns the fixed CDB issuing an NVMe Identify
// Controller (opcode 0x06, CNS 1) through the bridge.
func IdentifyControllerCDB() []byte {
	return encodeCdb(nvmeAdminIdentify, 0x00, cnsIdentifyController)
}

// SupportedBridges lists the USB vendor/product identities of the bridge
// chips that implement the 0xe6 passthrough.
func SupportedBridges() []usbdev.DeviceID {
	return []usbdev.DeviceID{
		{VID: 0x174c, PID: 0x2362, Name: "ASMedia ASM2362"},
		{VID: 0x174c, PID: 0x2364, Name: "ASMedia ASM2364"},
	}
}
