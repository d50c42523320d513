package server

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunningJob(t *testing.T) {
	var shutdowns int32
	started := make(chan struct{})
	job := SpawnJob(func() { close(started) }, func() { atomic.AddInt32(&shutdowns, 1) })
	<-started

	job.RequestStop()
	job.RequestStop()
	require.NoError(t, job.Stop(context.Background()))
	job.AwaitStop()
	assert.Equal(t, int32(1), atomic.LoadInt32(&shutdowns))
}

func TestRunningJobZeroValue(t *testing.T) {
	var job RunningJob
	job.RequestStop()
	job.AwaitStop()
	assert.NoError(t, job.Stop(context.Background()))
}

func TestRunningJobStopTimeout(t *testing.T) {
	release := make(chan struct{})
	job := SpawnJob(func() {}, func() { <-release })
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, job.Stop(ctx), context.DeadlineExceeded)
}

func TestCombineJobs(t *testing.T) {
	var order []string
	done := make(chan string, 2)
	first := SpawnJob(func() {}, func() { done <- "first" })
	second := SpawnJob(func() {}, func() { done <- "second" })

	combined := CombineJobs(first, second)
	require.NoError(t, combined.Stop(context.Background()))
	close(done)
	for label := range done {
		order = append(order, label)
	}
	assert.ElementsMatch(t, []string{"first", "second"}, order)
}
