// Copyright 2022 The gVisor Authors.
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

// Package prometheus contains Prometheus-compliant metric data structures and
// exports them in the Prometheus text exposition format, documented at:
// https://prometheus.io/docs/instrumenting/exposition_formats/
package prometheus

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// timeNow is the time.Now() function. Can be mocked in tests.
var timeNow = time.Now

// Type is a Prometheus metric type.
type Type int

// List of supported Prometheus metric types.
const (
	TypeUntyped = Type(iota)
	TypeGauge
	TypeCounter
)

// dtoType returns the wire type of t.
func (t Type) dtoType() (dto.MetricType, error) {
	switch t {
	case TypeUntyped:
		return dto.MetricType_UNTYPED, nil
	case TypeGauge:
		return dto.MetricType_GAUGE, nil
	case TypeCounter:
		return dto.MetricType_COUNTER, nil
	default:
		return 0, fmt.Errorf("unknown metric type %d", int(t))
	}
}

// Metric is a Prometheus metric metadata.
type Metric struct {
	// Name is the Prometheus metric name.
	Name string `json:"name"`

	// Type is the type of the metric.
	Type Type `json:"type"`

	// Help is an optional helpful string explaining what the metric is about.
	Help string `json:"help"`
}

// Data is an observation of the value of a single metric at a certain point in time.
type Data struct {
	// Metric is the metric for which the value is being reported.
	Metric *Metric `json:"metric"`

	// Labels is a key-value pair representing the labels set on this metric.
	// This may be merged with other labels during export.
	Labels map[string]string `json:"labels,omitempty"`

	// Value is the observed value.
	Value int64 `json:"val"`
}

// NewIntData returns a new Data struct with the given metric and value.
func NewIntData(metric *Metric, val int64) *Data {
	return &Data{Metric: metric, Value: val}
}

// LabeledIntData returns a new Data struct with the given metric, labels, and value.
func LabeledIntData(metric *Metric, labels map[string]string, val int64) *Data {
	return &Data{Metric: metric, Labels: labels, Value: val}
}

// Snapshot is a snapshot of the values of all the metrics at a certain point in time.
type Snapshot struct {
	// When is the timestamp at which the snapshot was taken.
	// Note that Prometheus ultimately encodes timestamps as millisecond-precision int64s from epoch.
	When time.Time `json:"when,omitempty"`

	// Data is the whole snapshot data.
	// Each Data must be a unique combination of (Metric, Labels) within a Snapshot.
	Data []*Data `json:"data,omitempty"`
}

// NewSnapshot returns a new Snapshot at the current time.
func NewSnapshot() *Snapshot {
	return &Snapshot{When: timeNow()}
}

// Add data point(s) to the snapshot.
// Returns itself for chainability.
func (s *Snapshot) Add(data ...*Data) *Snapshot {
	s.Data = append(s.Data, data...)
	return s
}

// ExportOptions contains options that control how metric data is exported in Prometheus format.
type ExportOptions struct {
	// CommentHeader is prepended as a comment before any metric data is exported.
	CommentHeader string

	// ExporterPrefix is prepended to all metric names.
	ExporterPrefix string

	// ExtraLabels is added as labels for all metric values.
	ExtraLabels map[string]string
}

// labelPairs merges and orders the labels of a data point.
func labelPairs(extra, labels map[string]string) []*dto.LabelPair {
	merged := make(map[string]string, len(extra)+len(labels))
	for k, v := range extra {
		merged[k] = v
	}
	for k, v := range labels {
		merged[k] = v
	}
	names := make([]string, 0, len(merged))
	for k := range merged {
		names = append(names, k)
	}
	sort.Strings(names)
	pairs := make([]*dto.LabelPair, 0, len(names))
	for _, k := range names {
		pairs = append(pairs, &dto.LabelPair{Name: proto.String(k), Value: proto.String(merged[k])})
	}
	return pairs
}

// families groups the snapshot's data points into metric families, ordered by
// name.
func (s *Snapshot) families(options ExportOptions) ([]*dto.MetricFamily, error) {
	byName := make(map[string]*dto.MetricFamily)
	var names []string
	when := s.When.UnixMilli()
	for _, d := range s.Data {
		name := options.ExporterPrefix + d.Metric.Name
		mf, ok := byName[name]
		if !ok {
			typ, err := d.Metric.Type.dtoType()
			if err != nil {
				return nil, fmt.Errorf("metric %s: %w", name, err)
			}
			mf = &dto.MetricFamily{
				Name: proto.String(name),
				Type: typ.Enum(),
			}
			if d.Metric.Help != "" {
				mf.Help = proto.String(d.Metric.Help)
			}
			byName[name] = mf
			names = append(names, name)
		} else if mf.GetType() != mustType(d.Metric.Type) {
			return nil, fmt.Errorf("metric %s reported with conflicting types", name)
		}
		m := &dto.Metric{
			Label:       labelPairs(options.ExtraLabels, d.Labels),
			TimestampMs: proto.Int64(when),
		}
		val := proto.Float64(float64(d.Value))
		switch d.Metric.Type {
		case TypeGauge:
			m.Gauge = &dto.Gauge{Value: val}
		case TypeCounter:
			m.Counter = &dto.Counter{Value: val}
		default:
			m.Untyped = &dto.Untyped{Value: val}
		}
		mf.Metric = append(mf.Metric, m)
	}
	sort.Strings(names)
	out := make([]*dto.MetricFamily, 0, len(names))
	for _, name := range names {
		out = append(out, byName[name])
	}
	return out, nil
}

func mustType(t Type) dto.MetricType {
	typ, err := t.dtoType()
	if err != nil {
		panic(err)
	}
	return typ
}

// countingWriter implements io.Writer, and counts the number of bytes written to it.
type countingWriter struct {
	w       *bufio.Writer
	written int
}

// Write implements io.Writer.Write.
func (w *countingWriter) Write(b []byte) (int, error) {
	written, err := w.w.Write(b)
	w.written += written
	return written, err
}

// Written returns the number of bytes written to the underlying writer (minus buffered writes).
func (w *countingWriter) Written() int {
	return w.written - w.w.Buffered()
}

// Write writes the snapshot to the writer in the text exposition format.
// It returns the number of bytes written.
func Write(w io.Writer, options ExportOptions, snapshot *Snapshot) (int, error) {
	families, err := snapshot.families(options)
	if err != nil {
		return 0, err
	}
	cw := &countingWriter{w: bufio.NewWriter(w)}
	if options.CommentHeader != "" {
		for _, commentLine := range strings.Split(options.CommentHeader, "\n") {
			if _, err := fmt.Fprintf(cw, "# %s\n", commentLine); err != nil {
				return cw.Written(), err
			}
		}
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(cw, mf); err != nil {
			return cw.Written(), err
		}
	}
	if err := cw.w.Flush(); err != nil {
		return cw.Written(), err
	}
	return cw.Written(), nil
}
