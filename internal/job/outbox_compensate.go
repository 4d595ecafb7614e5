package job

import (
	"context"
	"time"

	"exchange/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OutboxCompensateJob gives FAILED outbox messages another round once they
// have been parked for at least cooldown, e.g. after a broker outage.
type OutboxCompensateJob struct {
	outboxRepo *repository.OutboxRepository
	log        *zap.Logger
	stopCh     chan struct{}
	interval   time.Duration
	cooldown   time.Duration
	batchSize  int
	now        func() time.Time
}

func NewOutboxCompensateJob(db *gorm.DB, log *zap.Logger, interval time.Duration) *OutboxCompensateJob {
	if interval <= 0 {
		interval = time.Minute
	}
	return &OutboxCompensateJob{
		outboxRepo: repository.NewOutboxRepository(db),
		log:        log.Named("outbox_compensate"),
		stopCh:     make(chan struct{}),
		interval:   interval,
		cooldown:   interval,
		batchSize:  100,
		now:        time.Now,
	}
}

func (j *OutboxCompensateJob) Start(ctx context.Context) {
	j.log.Info("started", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("context done, exiting")
			return
		case <-j.stopCh:
			j.log.Info("stopped")
			return
		case <-ticker.C:
			j.Requeue(ctx)
		}
	}
}

func (j *OutboxCompensateJob) Stop() {
	close(j.stopCh)
}

func (j *OutboxCompensateJob) Requeue(ctx context.Context) int64 {
	moved, err := j.outboxRepo.RequeueFailed(ctx, j.now().Add(-j.cooldown), j.batchSize)
	if err != nil {
		j.log.Error("requeue failed messages", zap.Error(err))
		return 0
	}
	if moved > 0 {
		j.log.Info("requeued failed messages", zap.Int64("count", moved))
	}
	return moved
}
