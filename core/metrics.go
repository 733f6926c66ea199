/* Copyright 2019 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	passesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_recompositions_total",
		Help: "Composition passes by result.",
	}, []string{"result"})

	passSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "strata_recompose_seconds",
		Help:    "Duration of composition passes.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	})

	scopesRun = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_scopes_executed_total",
		Help: "Restart group bodies executed.",
	})

	opsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_changes_total",
		Help: "Ops sent to appliers, by kind.",
	}, []string{"op"})
)
