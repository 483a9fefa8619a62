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

package metrics

import "github.com/prometheus/client_golang/prometheus"

// AppMetrics a collection of metrics our application will expose
type AppMetrics struct {
	// SessionsTotal counts completed identify sessions by outcome.
	SessionsTotal *prometheus.CounterVec
	// SessionFailuresTotal counts failed sessions by failure kind.
	SessionFailuresTotal *prometheus.CounterVec
	// SessionDurationSeconds is the time a full identify round trip took.
	SessionDurationSeconds *prometheus.HistogramVec
	// BridgeInfo exposes the identity decoded from the attached bridge as
	// constant labels with a gauge value of 1.
	BridgeInfo *prometheus.GaugeVec
	// VendorTableEntries is the number of entries in the active vendor
	// name table, including file overrides.
	VendorTableEntries prometheus.Gauge
}

var Metrics AppMetrics

func init() {
	Metrics.SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usbnvme_identify_sessions_total",
			Help: "Number of identify sessions run, by outcome.",
		},
		[]string{"outcome"},
	)
	Metrics.SessionFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usbnvme_identify_session_failures_total",
			Help: "Number of failed identify sessions, by failure kind.",
		},
		[]string{"kind"},
	)
	Metrics.SessionDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "usbnvme",
			Name:      "identify_session_duration_seconds",
			Help:      "Time a full identify round trip took.",
		},
		[]string{"bridge"},
	)
	Metrics.BridgeInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "usbnvme_bridge_info",
			Help: "Identity of the NVMe controller behind the attached bridge.",
		},
		[]string{"bridge", "vendor", "model", "serial", "firmware"},
	)
	Metrics.VendorTableEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "usbnvme_vendor_table_entries",
			Help: "Number of entries in the active vendor name table.",
		},
	)

	// Metrics have to be registered to be exposed:
	prometheus.MustRegister(Metrics.SessionsTotal)
	prometheus.MustRegister(Metrics.SessionFailuresTotal)
	prometheus.MustRegister(Metrics.SessionDurationSeconds)
	prometheus.MustRegister(Metrics.BridgeInfo)
	prometheus.MustRegister(Metrics.VendorTableEntries)
}
