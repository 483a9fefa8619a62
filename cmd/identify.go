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
	"context"
	"fmt"
	"os"

	"github.com/asmutils/usbnvme-identify/pkg/asmedia"
	"github.com/asmutils/usbnvme-identify/pkg/nvme"
	"github.com/asmutils/usbnvme-identify/pkg/session"
	"github.com/asmutils/usbnvme-identify/pkg/usbdev"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newIdentifyCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:               "identify",
		Short:             "Identify the NVMe controller behind an attached bridge",
		Long:              ``,
		SilenceUsage:      true,
		DisableAutoGenTag: true,
		RunE:              identifyCmdFunc,
	}

	cmd.Flags().BoolP("json", "j", false, "emit the report as JSON")
	viper.BindPFlag("identify.json", cmd.Flags().Lookup("json"))

	cmd.Flags().DurationP("timeout", "t", session.DefaultTransferTimeout, "per-transfer timeout")
	viper.BindPFlag("identify.timeout", cmd.Flags().Lookup("timeout"))

	cmd.Flags().BoolP("verbose", "v", false, "log wire-level traffic")
	viper.BindPFlag("identify.verbose", cmd.Flags().Lookup("verbose"))

	cmd.Flags().String("vendor-file", "", "vendor name overrides, one \"0x<vid> <name>\" per line")
	viper.BindPFlag("vendorFile", cmd.Flags().Lookup("vendor-file"))
	cmd.MarkFlagFilename("vendor-file")

	return cmd
}

func identifyCmdFunc(cmd *cobra.Command, args []string) error {
	logrus.SetOutput(os.Stderr)
	if viper.GetBool("identify.verbose") {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if os.Geteuid() != 0 {
		return &session.Error{
			Kind: session.PermissionDenied,
			Msg:  "raw usb access requires root privileges, rerun with sudo",
		}
	}

	vendors := nvme.DefaultVendorTable()
	if vendorFile := viper.GetString("vendorFile"); vendorFile != "" {
		overrides, err := nvme.ParseVendorFile(vendorFile)
		if err != nil {
			return err
		}
		vendors.Merge(overrides)
	}

	opener := usbdev.NewOpener()
	defer opener.Close()

	sess := session.New(opener, asmedia.SupportedBridges(), vendors, viper.GetDuration("identify.timeout"))
	report, err := sess.Run(context.Background())
	if err != nil {
		return err
	}

	if viper.GetBool("identify.json") {
		return print(report, JSON)
	}
	printReport(report)
	return nil
}

func printReport(report *session.Report) {
	fmt.Fprintf(os.Stdout, "Bridge:    %s\n", report.Bridge)
	fmt.Fprintf(os.Stdout, "Model:     %s\n", report.Identity.ModelNumber)
	fmt.Fprintf(os.Stdout, "Serial:    %s\n", report.Identity.SerialNumber)
	fmt.Fprintf(os.Stdout, "Firmware:  %s\n", report.Identity.FirmwareRevision)
	fmt.Fprintf(os.Stdout, "Vendor:    %s (vid %#04x, ssvid %#04x)\n",
		report.VendorName, report.Identity.PCIVendorID, report.Identity.PCISubsystemVendorID)
	fmt.Fprintf(os.Stdout, "\n%s\n", hexDump(report.Raw))
	fmt.Fprintln(os.Stdout, "Note: the bridge was detached from its native driver. Unplug and replug the enclosure to remount it.")
}
