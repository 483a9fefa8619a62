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

package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asmutils/usbnvme-identify/model"
	"github.com/asmutils/usbnvme-identify/pkg/nvme"
	"github.com/asmutils/usbnvme-identify/pkg/session"
	"github.com/asmutils/usbnvme-identify/pkg/usbdev"
)

type runnerMock struct{}

var runMock func(ctx context.Context) (*session.Report, error)

func (r *runnerMock) Run(ctx context.Context) (*session.Report, error) {
	return runMock(ctx)
}

func newTestService(t *testing.T, cfg *model.AppConfig) *service {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s := &service{
		cfg:     cfg,
		log:     logrus.WithFields(logrus.Fields{}),
		wg:      &sync.WaitGroup{},
		vendors: nvme.DefaultVendorTable(),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.newRunner = func(nvme.VendorTable) runner { return &runnerMock{} }
	return s
}

func TestReloadVendorsWithOverrides(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "vendors.conf")
	require.NoError(t, os.WriteFile(filename, []byte("0x1f40 Netac\n0x144d Samsung Electronics\n"), 0644))

	s := newTestService(t, &model.AppConfig{VendorFile: filename})
	s.reloadVendors()

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, "Netac", s.vendors.Name(0x1f40))
	assert.Equal(t, "Samsung Electronics", s.vendors.Name(0x144d), "override wins over builtin")
	assert.Equal(t, "Phison", s.vendors.Name(0x1987), "builtins survive a reload")
}

func TestReloadVendorsMissingFileKeepsDefaults(t *testing.T) {
	s := newTestService(t, &model.AppConfig{VendorFile: filepath.Join(t.TempDir(), "nope.conf")})
	s.reloadVendors()

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, "Samsung", s.vendors.Name(0x144d))
}

func TestRunOnceSuccess(t *testing.T) {
	s := newTestService(t, &model.AppConfig{PollingInterval: time.Second})
	runMock = func(ctx context.Context) (*session.Report, error) {
		return &session.Report{
			Bridge:     usbdev.DeviceID{VID: 0x174c, PID: 0x2362, Name: "ASMedia ASM2362"},
			Identity:   &nvme.ControllerIdentity{PCIVendorID: 0x144d, ModelNumber: "Samsung SSD 990 PRO 1TB"},
			VendorName: "Samsung",
			Raw:        make([]byte, session.RawPrefixLength),
		}, nil
	}
	s.runOnce()
}

func TestRunOnceFailure(t *testing.T) {
	s := newTestService(t, &model.AppConfig{PollingInterval: time.Second})
	runMock = func(ctx context.Context) (*session.Report, error) {
		return nil, &session.Error{Kind: session.TransportError, Msg: "bulk-out write failed"}
	}
	s.runOnce()
}

func TestVendorFileWatchPicksUpChanges(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "vendors.conf")
	require.NoError(t, os.WriteFile(filename, []byte("0x1f40 Netac\n"), 0644))

	s := newTestService(t, &model.AppConfig{VendorFile: filename})
	s.reloadVendors()
	require.NoError(t, s.watchVendorFile())

	require.NoError(t, os.WriteFile(filename, []byte("0x1f40 Netac Technology\n"), 0644))
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.vendors.Name(0x1f40) == "Netac Technology"
	}, 3*time.Second, 50*time.Millisecond)

	s.cancel()
	s.wg.Wait()
}
