package coordinator

// watchdog.go holds the background sweep that expires overdue jobs and
// retries queued jobs that could not be matched at submission time.

import (
	"time"

	"github.com/oib/AITBC-sub002/types"
)

// threadedWatchdog periodically expires jobs past their deadline and nudges
// unassigned queued jobs back through matchmaking.
func (c *Coordinator) threadedWatchdog() {
	if c.tg.Add() != nil {
		return
	}
	defer c.tg.Done()

	for {
		select {
		case <-c.tg.StopChan():
			return
		case <-time.After(types.WatchdogInterval):
		}
		c.managedSweep()
	}
}

// managedSweep runs one watchdog pass.
func (c *Coordinator) managedSweep() {
	now := types.CurrentTimestamp()

	jobs, err := c.store.JobsInStates(types.JobAssigned, types.JobRunning)
	if err != nil {
		c.log.Println("WARN: watchdog scan failed:", err)
		return
	}
	for _, job := range jobs {
		if job.Deadline == 0 || job.Deadline > now {
			continue
		}
		c.managedExpire(job.ID)
	}

	queued, err := c.store.JobsInStates(types.JobQueued)
	if err != nil {
		return
	}
	for _, job := range queued {
		if job.Deadline != 0 && job.Deadline <= now {
			c.managedExpire(job.ID)
			continue
		}
		go c.managedAssign(job.ID)
	}
}

// managedExpire moves an overdue job to EXPIRED, refunds its escrow, and
// penalizes the miner that sat on it.
func (c *Coordinator) managedExpire(jobID string) {
	l := c.managedJobLock(jobID)
	l.Lock()
	defer l.Unlock()

	job, ok, err := c.store.Job(jobID)
	if err != nil || !ok {
		return
	}
	now := types.CurrentTimestamp()
	if job.Status.Terminal() || job.Deadline == 0 || job.Deadline > now {
		return
	}

	miner := job.AssignedMiner
	job.AssignedMiner = ""
	job.FinishedAt = now
	if err := setStatus(&job, types.JobExpired); err != nil {
		return
	}
	if err := c.store.RefundJob(job); err != nil {
		c.log.Println("WARN: could not refund expired job", job.ID, ":", err)
		return
	}
	c.audit(job.ID, "job_expired", "deadline passed")
	c.publishJobEvent(job)
	if miner != "" {
		c.hub.Feedback(job.ID, miner, types.OutcomeFailed, 0, FailCodeDeadline)
	}
}
