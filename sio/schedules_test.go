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
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
)

func TestScheduleNext(t *testing.T) {
	s, err := NewSchedule(&ScheduleConf{Name: "noon", Cron: "0 12 * * *", State: "x"})
	if err != nil {
		t.Fatal(err)
	}
	from := time.Date(2019, 3, 1, 10, 30, 0, 0, time.UTC)
	want := time.Date(2019, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := s.Next(from); !got.Equal(want) {
		t.Fatal(got)
	}
	want = want.Add(24 * time.Hour)
	if got := s.Next(from.Add(2 * time.Hour)); !got.Equal(want) {
		t.Fatal(got)
	}
}

func TestScheduleBadCron(t *testing.T) {
	_, err := NewSchedule(&ScheduleConf{Name: "bad", Cron: "whenever", State: "x"})
	var ce *ConfError
	if !errors.As(err, &ce) {
		t.Fatalf("wanted a ConfError, not %v", err)
	}
}

func TestScheduleRun(t *testing.T) {
	// Seven fields: every second.
	s, err := NewSchedule(&ScheduleConf{
		Name:  "tick",
		Cron:  "* * * * * * *",
		Op:    "inc",
		State: "ticks",
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan interface{}, 4)
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, hclog.NewNullLogger(), func(ctx context.Context, x interface{}) error {
			select {
			case events <- x:
			default:
			}
			return nil
		})
	}()

	select {
	case x := <-events:
		m := x.(map[string]interface{})
		if m["op"] != "inc" || m["state"] != "ticks" {
			t.Fatal(m)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no event")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}
