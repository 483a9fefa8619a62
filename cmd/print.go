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

package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

type outputFormat int

const (
	// JSON output format
	JSON outputFormat = iota
	// HUMAN readable output format
	HUMAN
)

func print(v interface{}, format outputFormat) error {
	switch format {
	case JSON:
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(out))
	default:
		fmt.Fprintf(os.Stdout, "%v\n", v)
	}
	return nil
}

// hexDump renders buf as rows of 16 hex bytes followed by their
// printable ASCII form, the way `hexdump -C` does.
func hexDump(buf []byte) string {
	var b strings.Builder
	for offset := 0; offset < len(buf); offset += 16 {
		end := offset + 16
		if end > len(buf) {
			end = len(buf)
		}
		row := buf[offset:end]

		fmt.Fprintf(&b, "%08x  ", offset)
		for i := 0; i < 16; i++ {
			if i < len(row) {
				fmt.Fprintf(&b, "%02x ", row[i])
			} else {
				b.WriteString("   ")
			}
			if i == 7 {
				b.WriteByte(' ')
			}
		}
		b.WriteString(" |")
		for _, c := range row {
			if c < 0x20 || c > 0x7e {
				c = '.'
			}
			b.WriteByte(c)
		}
		b.WriteString("|\n")
	}
	return b.String()
}
