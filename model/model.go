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

package model

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/asmutils/usbnvme-identify/pkg/logging"
)

type DebugInfo struct {
	Endpoint    string `yaml:"endpoint,omitempty"`
	EnablePprof bool   `yaml:"enablepprof,omitempty"`
	Metrics     bool   `yaml:"metrics,omitempty"`
}

// AppConfig is the application configuration assembled from config file,
// environment and flags.
type AppConfig struct {
	Logging         logging.Config `yaml:"logging,omitempty"`
	Debug           DebugInfo      `yaml:"debug,omitempty"`
	TransferTimeout time.Duration  `yaml:"transferTimeout,omitempty"`
	PollingInterval time.Duration  `yaml:"pollingInterval,omitempty"`
	VendorFile      string         `yaml:"vendorFile,omitempty"`
}

// LoadFromViper builds an AppConfig from the currently bound viper keys.
func LoadFromViper() (*AppConfig, error) {
	appConfig := &AppConfig{
		Logging: logging.Config{
			Filename:     viper.GetString("logging.filename"),
			MaxAge:       viper.GetDuration("logging.maxage"),
			MaxSize:      viper.GetInt("logging.maxSize"),
			ReportCaller: viper.GetBool("logging.reportcaller"),
			Level:        viper.GetString("logging.level"),
		},
		Debug: DebugInfo{
			Endpoint:    viper.GetString("debug.endpoint"),
			EnablePprof: viper.GetBool("debug.enablepprof"),
			Metrics:     viper.GetBool("debug.metrics"),
		},
		TransferTimeout: viper.GetDuration("transferTimeout"),
		PollingInterval: viper.GetDuration("pollingInterval"),
		VendorFile:      viper.GetString("vendorFile"),
	}
	if err := appConfig.Logging.IsValid(); err != nil {
		return nil, err
	}
	if appConfig.PollingInterval < time.Second {
		return nil, fmt.Errorf("pollingInterval must be at least one second, got %s", appConfig.PollingInterval)
	}
	return appConfig, nil
}
