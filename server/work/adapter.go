package work

import (
	"fmt"

	"github.com/campuskit/sentinel/server/cron"
	"github.com/campuskit/sentinel/server/models"
	"github.com/go-co-op/gocron"
	"github.com/pkg/errors"
)

const MAX_CONCURRENCY = 1

type WorkerPoolAdapter struct {
	cronScheduler *gocron.Scheduler
	pool          *WorkerPool
	reaper        *stuckJobsReaper
}

func NewWorkerAdapter(timeZoneArg string) *WorkerPoolAdapter {
	return &WorkerPoolAdapter{
		cronScheduler: cron.NewCronScheduler(timeZoneArg),
		pool:          NewWorkerPool(MAX_CONCURRENCY),
		reaper:        newStuckJobsReaper(),
	}
}

// Start starts the cron scheduler & worker pool
func (adapter *WorkerPoolAdapter) Start() {
	logg.Info("Starting cron scheduler & worker pool")
	adapter.cronScheduler.StartAsync()
	adapter.pool.start()
	adapter.reaper.start()
}

// Stop stops the cron scheduler & worker pool
func (adapter *WorkerPoolAdapter) Stop() {
	logg.Info("Stopping cron scheduler & worker pool")
	adapter.cronScheduler.Stop()
	adapter.reaper.stop()
	adapter.pool.stop()
}

// Register binds a name to a handler.
func (adapter *WorkerPoolAdapter) Register(name string, handler Handler) error {
	return adapter.pool.registerHandler(name, handler)
}

// Perform sends a new job to the queue, to be executed as soon as a worker is available
func (adapter *WorkerPoolAdapter) Perform(job JobParams) error {
	logg.Infof("Enqueuing job: %v", job.Name)

	err := adapter.pool.enqueue(job)
	if errors.Is(err, models.ErrDuplicateJob) {
		logg.Warnf("Duplicate job already in queue for: %v", job.Name)
		return nil
	}

	if err != nil {
		return errors.Wrapf(err, "error enqueuing job %v", job.Name)
	}

	return nil
}

// PeriodicallyPerform adds a job to the queue (to be executed)
// periodically, based on the 'cronExpression' provided
func (adapter *WorkerPoolAdapter) PeriodicallyPerform(cronExpression string, job JobParams) error {
	_, err := adapter.cronScheduler.Cron(cronExpression).Tag(job.Name).
		Do(
			func(job JobParams) {
				err := adapter.Perform(job)
				if err != nil {
					logg.Error(err)
				}
			},
			job,
		)
	if err != nil {
		return fmt.Errorf("unable to schedule %v: %v", job.Name, err)
	}

	return nil
}

func (adapter *WorkerPoolAdapter) RemovePeriodicJob(jobName string) {
	adapter.cronScheduler.RemoveByTag(jobName)
}
