// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package frame

import (
	"io"

	"gvisor.dev/vmcore/pkg/prometheus"
)

var (
	framesMetric = &prometheus.Metric{
		Name: "frames",
		Type: prometheus.TypeGauge,
		Help: "Frames in the user pool, by state.",
	}
	swapSlotsMetric = &prometheus.Metric{
		Name: "swap_slots",
		Type: prometheus.TypeGauge,
		Help: "Swap slots, by state.",
	}
	fillsMetric = &prometheus.Metric{
		Name: "page_fills_total",
		Type: prometheus.TypeCounter,
		Help: "Pages made resident, by source.",
	}
	writeBacksMetric = &prometheus.Metric{
		Name: "page_writebacks_total",
		Type: prometheus.TypeCounter,
		Help: "Pages written back, by destination.",
	}
	cacheHitsMetric = &prometheus.Metric{
		Name: "readonly_cache_hits_total",
		Type: prometheus.TypeCounter,
		Help: "Read-only file pages mapped onto an existing frame.",
	}
	evictionsMetric = &prometheus.Metric{
		Name: "evictions_total",
		Type: prometheus.TypeCounter,
		Help: "Frames reclaimed by the clock.",
	}
)

// MetricsPrefix is prepended to the names of exported metrics.
const MetricsPrefix = "vm_"

// Snapshot returns the table's statistics as a metric snapshot.
func (s Stats) Snapshot() *prometheus.Snapshot {
	state := func(v string) map[string]string { return map[string]string{"state": v} }
	source := func(v string) map[string]string { return map[string]string{"source": v} }
	return prometheus.NewSnapshot().Add(
		prometheus.LabeledIntData(framesMetric, state("free"), int64(s.Frames-s.Resident)),
		prometheus.LabeledIntData(framesMetric, state("resident"), int64(s.Resident)),
		prometheus.LabeledIntData(framesMetric, state("pinned"), int64(s.Pinned)),
		prometheus.LabeledIntData(framesMetric, state("shared"), int64(s.Shared)),
		prometheus.LabeledIntData(framesMetric, state("cached"), int64(s.Cached)),
		prometheus.LabeledIntData(swapSlotsMetric, state("free"), int64(s.SwapSlots-s.SwapInUse)),
		prometheus.LabeledIntData(swapSlotsMetric, state("used"), int64(s.SwapInUse)),
		prometheus.LabeledIntData(fillsMetric, source("zero"), int64(s.ZeroFills)),
		prometheus.LabeledIntData(fillsMetric, source("kernel"), int64(s.KernelCopies)),
		prometheus.LabeledIntData(fillsMetric, source("file"), int64(s.FileReads)),
		prometheus.LabeledIntData(fillsMetric, source("swap"), int64(s.SwapIns)),
		prometheus.LabeledIntData(writeBacksMetric, map[string]string{"destination": "file"}, int64(s.FileWrites)),
		prometheus.LabeledIntData(writeBacksMetric, map[string]string{"destination": "swap"}, int64(s.SwapOuts)),
		prometheus.NewIntData(cacheHitsMetric, int64(s.CacheHits)),
		prometheus.NewIntData(evictionsMetric, int64(s.Evictions)),
	)
}

// WriteMetrics writes the table's statistics to w in the Prometheus text
// format.
func (t *Table) WriteMetrics(w io.Writer, labels map[string]string) error {
	_, err := prometheus.Write(w, prometheus.ExportOptions{
		ExporterPrefix: MetricsPrefix,
		ExtraLabels:    labels,
	}, t.Stats().Snapshot())
	return err
}
