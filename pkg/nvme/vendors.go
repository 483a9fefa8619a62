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

package nvme

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// VendorTable maps PCI vendor identifiers to controller vendor names.
// Lookups are informational only; an unmapped id is never an error.
type VendorTable map[uint16]string

// DefaultVendorTable returns the built-in table of known NVMe controller
// vendors.
func DefaultVendorTable() VendorTable {
	return VendorTable{
		0x1987: "Phison",
		0x144d: "Samsung",
		0x15b7: "SanDisk/Western Digital",
		0x1e0f: "Kioxia",
		0x1c5c: "SK Hynix",
		0x126f: "Silicon Motion",
		0x1179: "Toshiba",
		0x2646: "Kingston",
		0x1dee: "Biwin",
		0x1e4b: "Maxio",
		0x1d97: "Shenzhen Longsys",
		0x025e: "Solidigm",
		0x8086: "Intel",
		0x1344: "Micron",
		0x1cc1: "ADATA",
		0xc0a9: "Micron",
		0x1d79: "Transcend",
	}
}

// Name resolves vid to a vendor name, or "Unknown".
func (table VendorTable) Name(vid uint16) string {
	if name, ok := table[vid]; ok {
		return name
	}
	return "Unknown"
}

// Merge overlays other on top of table. Entries in other win.
func (table VendorTable) Merge(other VendorTable) {
	for vid, name := range other {
		table[vid] = name
	}
}

func trimStringFromHashtag(s string) string {
	if idx := strings.Index(s, "#"); idx != -1 {
		return s[:idx]
	}
	return s
}

// ParseVendorFile reads vendor overrides from filename. Each line holds a
// hexadecimal vendor id followed by the vendor name, e.g.:
//
//	0x1f40 Netac    # comment
//
// Unparseable lines are logged and skipped rather than failing the load.
func ParseVendorFile(filename string) (VendorTable, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	table := VendorTable{}
	scanner := bufio.NewScanner(file)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(trimStringFromHashtag(scanner.Text()))
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			logrus.Warnf("%s:%d: expected '<vid> <name>', got %q. skipping", filename, lineno, line)
			continue
		}
		vid, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(fields[0]), "0x"), 16, 16)
		if err != nil {
			logrus.WithError(err).Warnf("%s:%d: bad vendor id %q. skipping", filename, lineno, fields[0])
			continue
		}
		table[uint16(vid)] = strings.Join(fields[1:], " ")
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return table, nil
}
