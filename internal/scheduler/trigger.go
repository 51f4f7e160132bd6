package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Trigger decides when a job fires. The two variants, Interval and Cron,
// are validated when the job is registered so a bad schedule fails at
// AddJob time, not at first fire.
type Trigger interface {
	Next(after time.Time) time.Time
	Describe() string
}

type Interval struct {
	Every time.Duration
}

func NewInterval(every time.Duration) (Interval, error) {
	if every <= 0 {
		return Interval{}, fmt.Errorf("interval must be positive, got %s", every)
	}

	return Interval{Every: every}, nil
}

func (i Interval) Next(after time.Time) time.Time {
	return after.Add(i.Every)
}

func (i Interval) Describe() string {
	return fmt.Sprintf("interval[every %s]", i.Every)
}

type Cron struct {
	Spec     string
	schedule cron.Schedule
}

// NewCron parses a standard five-field cron spec (minute hour day month weekday).
func NewCron(spec string) (Cron, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return Cron{}, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}

	return Cron{Spec: spec, schedule: schedule}, nil
}

func (c Cron) Next(after time.Time) time.Time {
	return c.schedule.Next(after)
}

func (c Cron) Describe() string {
	return fmt.Sprintf("cron[%s]", c.Spec)
}
