// Copyright 2026 The Ratchet Authors
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

package model

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule expresses when natural triggers fire for a workflow: either one
// of the well-known partition units or a standard cron expression.
//
// Well-known units partition time. An instance parameter names the start of
// its partition, and the natural trigger for a partition fires once the
// partition has ended (plus the workflow's offset), when its data is
// complete. Cron schedules have no partition width; their parameter is the
// firing instant itself, to minute precision.
type Schedule string

const (
	ScheduleHourly  Schedule = "@hourly"
	ScheduleDaily   Schedule = "@daily"
	ScheduleWeekly  Schedule = "@weekly"
	ScheduleMonthly Schedule = "@monthly"
	ScheduleYearly  Schedule = "@yearly"
)

// All schedule math happens in UTC. Weeks start on Monday.

// IsWellKnown reports whether the schedule is one of the unit aliases.
func (s Schedule) IsWellKnown() bool {
	switch s {
	case ScheduleHourly, ScheduleDaily, ScheduleWeekly, ScheduleMonthly, ScheduleYearly:
		return true
	}
	return false
}

// Validate checks that the schedule is a unit alias or a parseable cron
// expression.
func (s Schedule) Validate() error {
	if s == "" {
		return fmt.Errorf("schedule is empty")
	}
	if s.IsWellKnown() {
		return nil
	}
	if _, err := cron.ParseStandard(string(s)); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", string(s), err)
	}
	return nil
}

// InitialPartition returns the first partition to trigger for a workflow
// registered at now: the partition in progress for unit schedules, the next
// firing instant for cron schedules.
func (s Schedule) InitialPartition(now time.Time) (time.Time, error) {
	now = now.UTC()
	if s.IsWellKnown() {
		return s.truncate(now), nil
	}
	sched, err := cron.ParseStandard(string(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid schedule %q: %w", string(s), err)
	}
	return sched.Next(now).UTC(), nil
}

// NextPartition returns the partition following the given one.
func (s Schedule) NextPartition(partition time.Time) (time.Time, error) {
	partition = partition.UTC()
	if s.IsWellKnown() {
		return s.addUnit(s.truncate(partition)), nil
	}
	sched, err := cron.ParseStandard(string(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid schedule %q: %w", string(s), err)
	}
	return sched.Next(partition).UTC(), nil
}

// FireTime returns the instant the natural trigger for a partition becomes
// due, before the workflow offset is applied. Unit partitions fire when the
// partition ends; cron partitions fire at the partition instant.
func (s Schedule) FireTime(partition time.Time) (time.Time, error) {
	if s.IsWellKnown() {
		return s.addUnit(s.truncate(partition.UTC())), nil
	}
	return partition.UTC(), nil
}

// AlignedParameter renders the canonical instance parameter for a partition.
func (s Schedule) AlignedParameter(partition time.Time) string {
	partition = partition.UTC()
	switch s {
	case ScheduleHourly:
		return partition.Format("2006-01-02T15")
	case ScheduleDaily, ScheduleWeekly:
		return partition.Format("2006-01-02")
	case ScheduleMonthly:
		return partition.Format("2006-01")
	case ScheduleYearly:
		return partition.Format("2006")
	default:
		return partition.Format("2006-01-02T15:04")
	}
}

func (s Schedule) truncate(t time.Time) time.Time {
	switch s {
	case ScheduleHourly:
		return t.Truncate(time.Hour)
	case ScheduleDaily:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case ScheduleWeekly:
		// Back up to Monday.
		days := (int(t.Weekday()) + 6) % 7
		monday := t.AddDate(0, 0, -days)
		return time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, time.UTC)
	case ScheduleMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case ScheduleYearly:
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	default:
		return t
	}
}

func (s Schedule) addUnit(t time.Time) time.Time {
	switch s {
	case ScheduleHourly:
		return t.Add(time.Hour)
	case ScheduleDaily:
		return t.AddDate(0, 0, 1)
	case ScheduleWeekly:
		return t.AddDate(0, 0, 7)
	case ScheduleMonthly:
		return t.AddDate(0, 1, 0)
	case ScheduleYearly:
		return t.AddDate(1, 0, 0)
	default:
		return t
	}
}
