// Copyright 2025 the original author or authors.
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

package osmhistory

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"m4o.io/osmhistory/model"
)

const metricsNamespace = "osmhistory"

// Outcomes of a submitted edit.
const (
	ResultCommitted = "committed"
	ResultConflict  = "conflict"
	ResultRejected  = "rejected"
	ResultFailed    = "failed"
)

// Query labels of the query duration histogram.
const (
	QueryBBox    = "bbox"
	QueryTag     = "tag"
	QueryResolve = "resolve"
	QueryHistory = "history"
)

type metrics struct {
	edits        *prometheus.CounterVec
	retries      prometheus.Counter
	queryLatency *prometheus.HistogramVec
}

// newMetrics creates the store metrics, registered with reg unless it is
// nil.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		edits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "edits_total",
				Help:      "Number of submitted element edits by result",
			},
			[]string{"result"},
		),
		retries: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "txn_retries_total",
				Help:      "Number of transactions run again after losing a commit race",
			},
		),
		queryLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "query_seconds",
				Help:      "Duration of read queries in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
			},
			[]string{"query"},
		),
	}
}

func (m *metrics) recordEdits(n int, err error) {
	m.edits.WithLabelValues(result(err)).Add(float64(n))
}

func result(err error) string {
	switch {
	case err == nil:
		return ResultCommitted
	case errors.Is(err, model.ErrConflict):
		return ResultConflict
	case errors.Is(err, model.ErrInvalid),
		errors.Is(err, model.ErrReferential),
		errors.Is(err, model.ErrNotFound),
		errors.Is(err, model.ErrDeleted),
		errors.Is(err, model.ErrAlreadyClosed):
		return ResultRejected
	default:
		return ResultFailed
	}
}
