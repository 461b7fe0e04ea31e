package jobs

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	cron "github.com/robfig/cron"
	"github.com/sirupsen/logrus"
)

type Job interface {
	Name() string
	Run()
}

type CronJob interface {
	Schedule() string
	Job
}

// TaskExecutor runs jobs on cron schedules. A job is never run twice at the same time.
type TaskExecutor struct {
	cron        *cron.Cron
	jobs        []Job
	cronJobs    []CronJob
	runningJobs mapset.Set[string]
	mu          sync.Mutex
}

// NewTaskExecutor creates an executor. Plain jobs run every second.
func NewTaskExecutor(jobs []Job, cronJobs []CronJob) *TaskExecutor {
	return &TaskExecutor{
		cron:        cron.New(),
		jobs:        jobs,
		cronJobs:    cronJobs,
		runningJobs: mapset.NewThreadUnsafeSet[string](),
	}
}

// Run the jobs in its own goroutine inside the cron.
func (t *TaskExecutor) Run() error {
	for _, job := range t.cronJobs {
		if err := t.cron.AddFunc(job.Schedule(), func() { t.runOnce(job) }); err != nil {
			logrus.Errorf("failed to add task %s to cron: %v", job.Name(), err)
			return err
		}
	}

	for _, job := range t.jobs {
		if err := t.cron.AddFunc("@every 1s", func() { t.runOnce(job) }); err != nil {
			logrus.Errorf("failed to add task %s to cron: %v", job.Name(), err)
			return err
		}
	}

	t.cron.Start()
	return nil
}

func (t *TaskExecutor) Stop() {
	logrus.Infof("stopping all tasks")
	t.cron.Stop()
}

// runOnce skips the run when the previous one has not finished.
func (t *TaskExecutor) runOnce(job Job) {
	t.mu.Lock()
	if !t.runningJobs.Add(job.Name()) {
		t.mu.Unlock()
		logrus.Warnf("task %s is already running", job.Name())
		return
	}
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.runningJobs.Remove(job.Name())
	}()

	job.Run()
}
