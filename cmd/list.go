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
	"fmt"
	"os"

	"github.com/asmutils/usbnvme-identify/pkg/asmedia"
	"github.com/asmutils/usbnvme-identify/pkg/usbdev"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newListCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:               "list",
		Short:             "List attached USB devices and flag supported bridges",
		Long:              ``,
		SilenceUsage:      true,
		DisableAutoGenTag: true,
		RunE:              listCmdFunc,
	}

	cmd.Flags().BoolP("all", "a", false, "list every attached device, not only supported bridges")
	viper.BindPFlag("list.all", cmd.Flags().Lookup("all"))

	cmd.Flags().BoolP("json", "j", false, "emit the device list as JSON")
	viper.BindPFlag("list.json", cmd.Flags().Lookup("json"))

	return cmd
}

func listCmdFunc(cmd *cobra.Command, args []string) error {
	attached, err := usbdev.ListAttached(asmedia.SupportedBridges(), viper.GetBool("list.all"))
	if err != nil {
		return err
	}

	if viper.GetBool("list.json") {
		return print(attached, JSON)
	}
	if len(attached) == 0 {
		fmt.Fprintln(os.Stdout, "no supported bridges attached")
		return nil
	}
	for _, dev := range attached {
		marker := " "
		if dev.Supported {
			marker = "*"
		}
		fmt.Fprintf(os.Stdout, "%s bus %03d addr %03d  %s  %s\n", marker, dev.Bus, dev.Address, dev.ID, dev.Description)
	}
	return nil
}
