// Package schedule computes firing times for scheduled events. Both the
// engine's dispatcher and the gateway's scheduler API go through it so the
// two sides agree on what a cron spec means.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flowgrid/flowgrid/common/models"
)

// parser accepts standard five-field cron specs plus @descriptors.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks a schedule's cron spec and timezone.
func Validate(s *models.Schedule) error {
	if s == nil {
		return nil
	}
	if s.Cron != "" {
		if _, err := parser.Parse(s.Cron); err != nil {
			return fmt.Errorf("invalid cron spec %q: %w", s.Cron, err)
		}
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
		}
	}
	if s.StartTime != nil && s.EndTime != nil && s.EndTime.Before(*s.StartTime) {
		return fmt.Errorf("schedule ends before it starts")
	}
	return nil
}

// Next returns the next firing time strictly after from, or nil when the
// schedule is one-shot or exhausted. The cron spec evaluates in the
// schedule's timezone, falling back to defaultTZ, then UTC.
func Next(s *models.Schedule, from time.Time, defaultTZ string) (*time.Time, error) {
	if s == nil || s.Cron == "" {
		return nil, nil
	}

	sched, err := parser.Parse(s.Cron)
	if err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", s.Cron, err)
	}

	loc := time.UTC
	tz := s.Timezone
	if tz == "" {
		tz = defaultTZ
	}
	if tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
	}

	at := from
	if s.StartTime != nil && at.Before(*s.StartTime) {
		// Next() is exclusive, so step just behind the window start.
		at = s.StartTime.Add(-time.Second)
	}

	next := sched.Next(at.In(loc))
	if next.IsZero() {
		return nil, nil
	}
	if s.EndTime != nil && next.After(*s.EndTime) {
		return nil, nil
	}
	utc := next.UTC()
	return &utc, nil
}
