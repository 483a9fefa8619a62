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
	"os/signal"
	"syscall"
	"time"

	"github.com/asmutils/usbnvme-identify/model"
	"github.com/asmutils/usbnvme-identify/pkg/logging"
	"github.com/asmutils/usbnvme-identify/pkg/session"
	"github.com/asmutils/usbnvme-identify/pkg/usbdev"
	"github.com/asmutils/usbnvme-identify/service"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServeCmd() *cobra.Command {

	var cmd = &cobra.Command{
		Use:               "serve",
		Short:             "Periodically identify attached bridges and expose the results",
		Long:              ``,
		DisableAutoGenTag: true,
		RunE:              serveCmdFunc,
	}

	// configure logging
	cmd.Flags().String("logging.filename", "", "filename to write log to")
	viper.BindPFlag("logging.filename", cmd.Flags().Lookup("logging.filename"))
	cmd.MarkFlagFilename("logging.filename", "log")

	cmd.Flags().Duration("logging.maxage", 96*time.Hour, "Time to wait until old logs are purged")
	viper.BindPFlag("logging.maxage", cmd.Flags().Lookup("logging.maxage"))

	cmd.Flags().Int("logging.maxSize", 100, "Maximum size in megabytes of the log file before it gets rotated. (defaults to 100MB).")
	viper.BindPFlag("logging.maxSize", cmd.Flags().Lookup("logging.maxSize"))

	cmd.Flags().Bool("logging.reportcaller", true, "Report func name and line number on log entry")
	viper.BindPFlag("logging.reportcaller", cmd.Flags().Lookup("logging.reportcaller"))

	cmd.Flags().String("logging.level", "debug", "Log level we support")
	viper.BindPFlag("logging.level", cmd.Flags().Lookup("logging.level"))

	cmd.Flags().String("debug.endpoint", "0.0.0.0:6060", "ip:port to expose debug and metric information")
	viper.BindPFlag("debug.endpoint", cmd.Flags().Lookup("debug.endpoint"))

	cmd.Flags().Bool("debug.enablepprof", true, "Enable runtime profiling data via HTTP server. http://<endpoint>/debug/pprof/")
	viper.BindPFlag("debug.enablepprof", cmd.Flags().Lookup("debug.enablepprof"))

	cmd.Flags().Bool("debug.metrics", true, "Expose prometheus metrics on http://<endpoint>/metrics")
	viper.BindPFlag("debug.metrics", cmd.Flags().Lookup("debug.metrics"))

	cmd.Flags().Duration("pollingInterval", 30*time.Second, "Polling interval for re-identifying the attached bridge.")
	viper.BindPFlag("pollingInterval", cmd.Flags().Lookup("pollingInterval"))

	cmd.Flags().Duration("transferTimeout", session.DefaultTransferTimeout, "Per bulk transfer timeout.")
	viper.BindPFlag("transferTimeout", cmd.Flags().Lookup("transferTimeout"))

	cmd.Flags().String("vendorFile", "", "Vendor name overrides, one \"0x<vid> <name>\" per line. Watched for changes.")
	viper.BindPFlag("vendorFile", cmd.Flags().Lookup("vendorFile"))
	cmd.MarkFlagFilename("vendorFile")

	return cmd
}

func serveCmdFunc(cmd *cobra.Command, args []string) error {
	appConfig, err := model.LoadFromViper()
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "usbnvme-identify configuration: %#v\n", *appConfig)

	logging.SetupLoggingWithConsoleTimeStamp(appConfig.Logging)
	logrus.Infof("******************** %s started ********************", os.Args[0])

	opener := usbdev.NewOpener()
	defer opener.Close()

	svc := service.NewService(context.Background(), appConfig, opener)
	if err := svc.Start(); err != nil {
		logrus.WithError(err).Errorf("failed to start service")
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	logrus.Infof("caught signal %s. shutting down", sig)
	return svc.Stop()
}
