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

package snapshot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	appliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_snapshot_applies_total",
		Help: "Snapshot applies by result.",
	}, []string{"result"})

	writesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_snapshot_writes_total",
		Help: "State writes that changed a value.",
	})

	notificationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_snapshot_notifications_total",
		Help: "Apply notifications sent.",
	})

	openSnapshots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "strata_snapshot_open",
		Help: "Open snapshots, including the global snapshot.",
	})
)
