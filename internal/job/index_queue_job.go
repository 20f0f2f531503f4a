package job

import (
	"context"

	"github.com/xxxsen/certquery/internal/service"
)

// IndexQueueJob drains one batch of the background index queue per tick.
type IndexQueueJob struct {
	queue *service.QueueService
}

func NewIndexQueueJob(queue *service.QueueService) *IndexQueueJob {
	return &IndexQueueJob{queue: queue}
}

func (j *IndexQueueJob) Name() string {
	return "index_queue"
}

func (j *IndexQueueJob) Run(ctx context.Context) error {
	if j.queue == nil {
		return nil
	}
	return j.queue.Run(ctx)
}
