package api

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"pinboard-api/domain"
)

// publishJob carries one user's change events to the background senders.
type publishJob struct {
	userID string
	events []domain.Event
}

var (
	senderOnce     sync.Once
	jobs           chan publishJob
	workerCount    int
	jobBuf         int
	publishTimeout time.Duration
	handoffTimeout time.Duration
	bg             = context.Background()
	globalStore    Storage
	globalRedis    *redis.Client
	globalChannel  string
	globalLog      *log.Logger
	workerWG       sync.WaitGroup
)

// shutdownEventSender stops worker goroutines and clears shared state. It is
// intended for tests.
func shutdownEventSender() {
	if jobs != nil {
		close(jobs)
		jobs = nil
	}

	workerWG.Wait()

	globalStore = nil
	globalRedis = nil
	globalChannel = ""
	globalLog = nil
	workerCount = 0
	jobBuf = 0
	publishTimeout = 0
	handoffTimeout = 0
	senderOnce = sync.Once{}
	workerWG = sync.WaitGroup{}
}

// initEventSender starts the background workers that push change events to
// the event queue and mirror them to the live-update Redis channel.
func initEventSender(store Storage, rc *redis.Client, logger *log.Logger) {
	senderOnce.Do(func() {
		globalStore = store
		globalRedis = rc
		globalChannel = envString("EVENTS_CHANNEL", "board-events")
		if logger == nil {
			panic("logger is not initialized")
		}
		globalLog = logger

		workerCount = envInt("EVENT_WORKERS", 16)
		jobBuf = envInt("EVENT_BUFFER", 4096)
		publishTimeout = envDur("EVENT_PUBLISH_TIMEOUT", 60*time.Second)
		handoffTimeout = envDur("EVENT_HANDOFF_TIMEOUT", 15*time.Millisecond)

		jobs = make(chan publishJob, jobBuf)
		for i := 0; i < workerCount; i++ {
			workerWG.Add(1)
			go worker(i, jobs)
		}
		globalLog.Infof("event sender started, workers: %d, buffer: %d, timeout: %v, handoff: %v", workerCount, jobBuf, publishTimeout, handoffTimeout)
	})
}

func worker(id int, jobCh <-chan publishJob) {
	defer workerWG.Done()
	for j := range jobCh {
		ctx, cancel := context.WithTimeout(bg, publishTimeout)
		err := globalStore.EnqueueEvents(ctx, j.userID, j.events)
		if err != nil {
			globalLog.Errorf("event enqueue failed, err: %v, user: %s, count: %d, worker: %d", err, j.userID, len(j.events), id)
			cancel()
			continue
		}
		mirrorEvents(ctx, j)
		cancel()
	}
}

// mirrorEvents publishes each event to the Redis channel live subscribers
// listen on. Mirror failures are logged and dropped; the queue already holds
// the authoritative copy.
func mirrorEvents(ctx context.Context, j publishJob) {
	if globalRedis == nil {
		return
	}
	for _, ev := range j.events {
		payload, err := sonic.Marshal(domain.EventEnvelope{UserID: j.userID, Event: ev})
		if err != nil {
			globalLog.Errorf("event mirror marshal failed, err: %v, user: %s", err, j.userID)
			continue
		}
		if err := globalRedis.Publish(ctx, globalChannel, payload).Err(); err != nil {
			globalLog.Errorf("event mirror publish failed, err: %v, channel: %s", err, globalChannel)
		}
	}
}

// publishEvents hands the job to the background pool, falling back to an
// inline enqueue when the buffer is saturated so no change event is dropped.
func publishEvents(c contextLogger, job publishJob) {
	if len(job.events) == 0 {
		return
	}
	if tryPublishJob(job) {
		return
	}

	if globalLog != nil {
		globalLog.Warn("event buffer saturated; publishing inline")
	}

	ctx, cancel := context.WithTimeout(bg, publishTimeout)
	defer cancel()
	if err := globalStore.EnqueueEvents(ctx, job.userID, job.events); err != nil {
		c.Errorf("inline event enqueue failed: %v", err)
		return
	}
	mirrorEvents(ctx, job)
}

// contextLogger is the slice of echo.Logger the publish path needs.
type contextLogger interface {
	Errorf(format string, args ...interface{})
}

func tryPublishJob(job publishJob) bool {
	if jobs == nil {
		return false
	}

	if ok, closed := trySendNonBlocking(jobs, job); closed {
		return false
	} else if ok {
		return true
	}

	if handoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(handoffTimeout)
	defer timer.Stop()

	ok, closed := sendWithTimer(jobs, job, timer.C)
	if closed {
		return false
	}
	return ok
}

func trySendNonBlocking(ch chan publishJob, job publishJob) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- job:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan publishJob, job publishJob, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- job:
		return true, false
	case <-timer:
		return false, false
	}
}
