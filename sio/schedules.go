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

package sio

import (
	"context"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/hashicorp/go-hclog"
)

// Schedule sends an event each time a cron expression fires.
type Schedule struct {
	Conf *ScheduleConf

	expr *cronexpr.Expression
}

// NewSchedule parses the schedule's cron expression.
func NewSchedule(conf *ScheduleConf) (*Schedule, error) {
	expr, err := cronexpr.Parse(conf.Cron)
	if err != nil {
		return nil, &ConfError{Field: "schedules", Reason: conf.Name + ": " + err.Error()}
	}
	return &Schedule{
		Conf: conf,
		expr: expr,
	}, nil
}

// Next returns the next firing time after t, or the zero time if
// there is none.
func (s *Schedule) Next(t time.Time) time.Time {
	return s.expr.Next(t)
}

// Run calls emit at each firing time until ctx is done or the
// expression has no more times.
func (s *Schedule) Run(ctx context.Context, logger hclog.Logger, emit func(context.Context, interface{}) error) error {
	for {
		now := time.Now()
		next := s.Next(now)
		if next.IsZero() {
			logger.Debug("schedule exhausted", "schedule", s.Conf.Name)
			return nil
		}
		t := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		logger.Debug("schedule firing", "schedule", s.Conf.Name)
		if err := emit(ctx, s.Conf.Event()); err != nil {
			logger.Warn("schedule event failed", "schedule", s.Conf.Name, "error", err)
		}
	}
}
