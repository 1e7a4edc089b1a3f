package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ArchiveJob is one attachment waiting to be mirrored.
type ArchiveJob struct {
	UserID      string
	MessageID   string
	FileName    string
	ContentType string
	Data        []byte
}

// ArchiveQueue uploads attachments in the background so a send never waits
// on object storage.
type ArchiveQueue struct {
	archiver *AttachmentService
	logger   *slog.Logger
	jobs     chan ArchiveJob
	wg       sync.WaitGroup
	// onDone, when set, observes every finished job.
	onDone func(job ArchiveJob, url string, err error)
}

// NewArchiveQueue constructs the queue with a bounded job buffer (64).
func NewArchiveQueue(archiver *AttachmentService, logger *slog.Logger) *ArchiveQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArchiveQueue{archiver: archiver, logger: logger, jobs: make(chan ArchiveJob, 64)}
}

// Start runs numWorkers goroutines reading from the job queue until ctx is
// done.
func (q *ArchiveQueue) Start(ctx context.Context, numWorkers int) {
	for w := 1; w <= numWorkers; w++ {
		q.wg.Add(1)
		go func(w int) {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					q.logger.Debug("archive worker shutting down", "worker", w)
					return
				case job := <-q.jobs:
					q.logger.Debug("archiving attachment", "message_id", job.MessageID, "worker", w)
					url, err := q.processOne(job)
					if err != nil {
						q.logger.Warn("archive attachment failed", "message_id", job.MessageID, "error", err)
					} else {
						q.logger.Info("attachment archived", "message_id", job.MessageID, "url", url)
					}
					if q.onDone != nil {
						q.onDone(job, url, err)
					}
				}
			}
		}(w)
	}
}

// Wait blocks until every worker has exited.
func (q *ArchiveQueue) Wait() { q.wg.Wait() }

// Archive schedules one attachment. It blocks while the queue is full and
// gives up when ctx is done.
func (q *ArchiveQueue) Archive(ctx context.Context, userID, messageID, fileName, contentType string, data []byte) error {
	job := ArchiveJob{UserID: userID, MessageID: messageID, FileName: fileName, ContentType: contentType, Data: data}
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue archive of %s: %w", messageID, ctx.Err())
	}
}

// processOne gets its own timeout so a slow upload cannot hold a worker.
func (q *ArchiveQueue) processOne(job ArchiveJob) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	return q.archiver.Archive(ctx, job.UserID, job.MessageID, job.FileName, job.ContentType, job.Data)
}
