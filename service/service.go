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

// Package service runs the long-lived serve mode: periodic identify sessions
// against the attached bridge, a prometheus/pprof debug endpoint and a
// watcher reloading the vendor name override file.
package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/asmutils/usbnvme-identify/model"
	"github.com/asmutils/usbnvme-identify/pkg/asmedia"
	"github.com/asmutils/usbnvme-identify/pkg/metrics"
	"github.com/asmutils/usbnvme-identify/pkg/nvme"
	"github.com/asmutils/usbnvme-identify/pkg/session"
	"github.com/asmutils/usbnvme-identify/pkg/usbdev"
)

type Service interface {
	Start() error
	Stop() error
}

// runner is one identify round trip; satisfied by *session.Session.
type runner interface {
	Run(ctx context.Context) (*session.Report, error)
}

type service struct {
	cfg        *model.AppConfig
	opener     usbdev.Opener
	ctx        context.Context
	cancel     context.CancelFunc
	log        *logrus.Entry
	wg         *sync.WaitGroup
	httpServer *http.Server

	mu        sync.Mutex
	vendors   nvme.VendorTable
	newRunner func(vendors nvme.VendorTable) runner
}

func NewService(ctx context.Context, cfg *model.AppConfig, opener usbdev.Opener) Service {
	s := &service{
		cfg:     cfg,
		opener:  opener,
		log:     logrus.WithFields(logrus.Fields{}),
		wg:      &sync.WaitGroup{},
		vendors: nvme.DefaultVendorTable(),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.newRunner = func(vendors nvme.VendorTable) runner {
		return session.New(opener, asmedia.SupportedBridges(), vendors, cfg.TransferTimeout)
	}
	return s
}

func (s *service) Start() error {
	s.reloadVendors()
	if s.cfg.VendorFile != "" {
		if err := s.watchVendorFile(); err != nil {
			// recoverable: overrides stay at their last loaded state
			s.log.WithError(err).Warnf("vendor file watch unavailable")
		}
	}
	s.startDebugServer()
	if err := s.waitForBridge(); err != nil {
		return err
	}
	s.wg.Add(1)
	go s.pollLoop()
	return nil
}

func (s *service) Stop() error {
	s.cancel()
	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}
	s.wg.Wait()
	return nil
}

// waitForBridge blocks until a supported bridge is attached, bounded to a
// few enumeration attempts. This is enumeration patience at startup, not a
// transfer retry: sessions themselves never retry.
func (s *service) waitForBridge() error {
	return retry.Do(func() error {
		attached, err := usbdev.ListAttached(asmedia.SupportedBridges(), false)
		if err != nil {
			return err
		}
		if len(attached) == 0 {
			return usbdev.ErrNoDevice
		}
		s.log.Infof("bridge attached: %s", attached[0].ID)
		return nil
	}, retry.DelayType(retry.BackOffDelay), retry.Attempts(5), retry.Delay(time.Second))
}

func (s *service) pollLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollingInterval)
	defer ticker.Stop()

	s.runOnce()
	for {
		select {
		case <-ticker.C:
			s.runOnce()
		case <-s.ctx.Done():
			s.log.Infof("poll loop stopped")
			return
		}
	}
}

func (s *service) runOnce() {
	s.mu.Lock()
	vendors := s.vendors
	s.mu.Unlock()

	log := s.log.WithField("session", uuid.New().String())
	start := time.Now()
	report, err := s.newRunner(vendors).Run(s.ctx)
	recordOutcome(report, err, time.Since(start))
	if err != nil {
		log.WithError(err).Errorf("identify session failed")
		return
	}
	log.Infof("identified %s behind %s", report.Identity.ModelNumber, report.Bridge)
}

func recordOutcome(report *session.Report, err error, elapsed time.Duration) {
	if err != nil {
		kind := "unknown"
		var serr *session.Error
		if errors.As(err, &serr) {
			kind = serr.Kind.String()
		}
		metrics.Metrics.SessionsTotal.WithLabelValues("failure").Inc()
		metrics.Metrics.SessionFailuresTotal.WithLabelValues(kind).Inc()
		return
	}
	metrics.Metrics.SessionsTotal.WithLabelValues("success").Inc()
	metrics.Metrics.SessionDurationSeconds.WithLabelValues(report.Bridge.Name).Observe(elapsed.Seconds())
	metrics.Metrics.BridgeInfo.Reset()
	metrics.Metrics.BridgeInfo.WithLabelValues(
		report.Bridge.Name,
		report.VendorName,
		report.Identity.ModelNumber,
		report.Identity.SerialNumber,
		report.Identity.FirmwareRevision,
	).Set(1)
}

// reloadVendors rebuilds the vendor table from the built-in defaults plus
// the override file, if configured. Parse problems keep the defaults.
func (s *service) reloadVendors() {
	table := nvme.DefaultVendorTable()
	if s.cfg.VendorFile != "" {
		overrides, err := nvme.ParseVendorFile(s.cfg.VendorFile)
		if err != nil {
			s.log.WithError(err).Warnf("failed to load vendor overrides from %q", s.cfg.VendorFile)
		} else {
			table.Merge(overrides)
			s.log.Infof("loaded %d vendor overrides from %q", len(overrides), s.cfg.VendorFile)
		}
	}
	s.mu.Lock()
	s.vendors = table
	s.mu.Unlock()
	metrics.Metrics.VendorTableEntries.Set(float64(len(table)))
}

func (s *service) watchVendorFile() error {
	watcher := &FileWatcher{}
	events, err := watcher.Watch(s.ctx, s.cfg.VendorFile)
	if err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				s.log.Debugf("vendor file event: %s %s", event.Op, event.Name)
				s.reloadVendors()
			case <-s.ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (s *service) startDebugServer() {
	if s.cfg.Debug.Endpoint == "" {
		return
	}
	mux := http.NewServeMux()
	if s.cfg.Debug.Metrics {
		mux.Handle("/metrics", promhttp.Handler())
	}
	if s.cfg.Debug.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	s.httpServer = &http.Server{Addr: s.cfg.Debug.Endpoint, Handler: mux}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Infof("debug endpoint listening on %s", s.cfg.Debug.Endpoint)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Errorf("debug endpoint failed")
		}
	}()
}
