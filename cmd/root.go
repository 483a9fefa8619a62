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
	"errors"
	"fmt"
	"os"
	"path"
	"runtime/debug"
	"strings"

	"github.com/asmutils/usbnvme-identify/pkg/docutils"
	"github.com/asmutils/usbnvme-identify/pkg/session"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	applicationName string
	cfgFile         string
)

func init() {
	cobra.OnInitialize(initConfig)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	viperLoadConfig(cfgFile)
}

func init() {
	applicationName = path.Base(os.Args[0])
}

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "usbnvme-identify",
		Short:             "Identify NVMe controllers behind ASMedia USB bridges",
		Long:              ``,
		DisableAutoGenTag: true,
	}
	cmd.AddCommand(
		docutils.NewGenCmd(applicationName),
		newServeCmd(),
		newIdentifyCmd(),
		newListCmd(),
	)

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/usbnvme-identify/usbnvme-identify.yaml)")
	cmd.MarkFlagFilename("config", "yaml", "yml")

	return cmd
}

// Execute adds all child commands to the root command sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	defer func() {
		if err := recover(); err != nil {
			logrus.Errorf("start got panic: %s\n%s", err, debug.Stack())
			os.Exit(-2)
		}
	}()

	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		var sessionErr *session.Error
		if errors.As(err, &sessionErr) {
			os.Exit(sessionErr.Kind.ExitCode())
		}
		os.Exit(-1)
	}
}

func viperLoadConfig(configFile string) {
	if configFile != "" { // enable ability to specify config file via flag
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigType("yaml")
		viper.SetConfigName("usbnvme-identify")       // name of config file (without extension)
		viper.AddConfigPath("./etc/usbnvme-identify") // adding home directory as first search path
		viper.AddConfigPath("/etc/usbnvme-identify/") // path to look for the config file in 3rd search path
		viper.AutomaticEnv()                          // read in environment variables that match
		viper.SetEnvPrefix("uni")
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	}

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Printf("%v\n", err)
		}
	}
}
