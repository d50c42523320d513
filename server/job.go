package server

import (
	"context"
	"sync"
)

// RunningJob is a background task that can be asked to stop and awaited.
// The zero value is a job that has already finished, so callers can stop
// optional components without checking whether they were started.
type RunningJob struct {
	stop   chan struct{}
	closed chan struct{}
	once   *sync.Once
}

// RequestStop may be called any number of times.
func (job RunningJob) RequestStop() {
	if job.stop == nil {
		return
	}
	job.once.Do(func() { close(job.stop) })
}

func (job RunningJob) AwaitStop() {
	if job.closed == nil {
		return
	}
	<-job.closed
}

// Stop requests a stop and waits for it until ctx is done.
func (job RunningJob) Stop(ctx context.Context) error {
	job.RequestStop()
	if job.closed == nil {
		return nil
	}
	select {
	case <-job.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func SpawnJob(start func(), shutdown func()) RunningJob {
	stop := make(chan struct{})
	closed := make(chan struct{})
	go func() {
		<-stop
		shutdown()
		close(closed)
	}()
	go start()
	return RunningJob{stop: stop, closed: closed, once: new(sync.Once)}
}

// CombineJobs stops every job in order and waits for all of them.
func CombineJobs(jobs ...RunningJob) RunningJob {
	shutdown := func() {
		for _, job := range jobs {
			job.RequestStop()
		}
		for _, job := range jobs {
			job.AwaitStop()
		}
	}
	return SpawnJob(func() {}, shutdown)
}
