package cron

import (
	"context"
	"time"

	"github.com/forgerun/core/internal/config"
)

// JobType identifies the handler for a cron job.
type JobType string

const (
	JobTypePlan    JobType = "plan"
	JobTypeWebhook JobType = "webhook"
)

// Schedule represents a parsed schedule.
type Schedule struct {
	Kind     string
	CronExpr string
	Every    time.Duration
	At       time.Time
	Timezone string
}

// Job represents a scheduled job.
type Job struct {
	ID       string
	Name     string
	Type     JobType
	Enabled  bool
	Schedule Schedule

	Plan    *config.CronPlanConfig
	Webhook *config.CronWebhookConfig
	Retry   config.CronRetryConfig

	NextRun    time.Time
	LastRun    time.Time
	LastError  string
	RetryCount int
}

// PlanRunner submits a cron job's plan to the engine.
type PlanRunner interface {
	Run(ctx context.Context, job *Job) error
}

// PlanRunnerFunc adapts a function to a PlanRunner.
type PlanRunnerFunc func(ctx context.Context, job *Job) error

// Run executes the plan runner function.
func (f PlanRunnerFunc) Run(ctx context.Context, job *Job) error {
	return f(ctx, job)
}
