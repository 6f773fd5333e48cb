package host

import "time"

// doDBJob enqueues fn on the DBWorker and blocks for its result. Every other
// component that needs to touch the process application or the store goes
// through this call, so the application itself is only ever observed from
// one goroutine at a time (spec §4.2, §5).
func (h *Host) doDBJob(fn func() (interface{}, error)) (interface{}, error) {
	job := dbJob{fn: fn, result: make(chan dbResult, 1)}
	select {
	case h.dbJobs <- job:
	case <-h.stopCh:
		return nil, errHostStopped
	}

	select {
	case r := <-job.result:
		return r.value, r.err
	case <-h.stopCh:
		return nil, errHostStopped
	}
}

// runDBWorker is the single serialized-access worker (spec §4.2). Failures
// running a job are captured on the job itself, not logged here, and
// re-raised to the caller; the worker keeps running regardless.
func (h *Host) runDBWorker() {
	defer h.wg.Done()
	for {
		h.metrics.setQueueDepth("db_jobs", len(h.dbJobs))
		select {
		case job := <-h.dbJobs:
			start := time.Now()
			value, err := job.fn()
			h.metrics.observeDBJob(time.Since(start))
			job.result <- dbResult{value: value, err: err}
		case <-h.stopCh:
			return
		}
	}
}
