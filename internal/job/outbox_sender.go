package job

import (
	"context"
	"time"

	"exchange/internal/infrastructure/mq"
	"exchange/internal/metrics"
	"exchange/internal/model"
	"exchange/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ============================================================================
// Transactional outbox
// ============================================================================
//
// Every ledger operation writes its rows and one outbox message per row in
// the same database transaction. Publishing to Kafka inside that transaction
// would leave two bad outcomes:
//   - publish succeeds, commit fails: consumers see money that never moved
//   - commit succeeds, publish fails: the movement is never announced
//
// Instead this job polls PENDING messages in id order and publishes them
// after the fact. Delivery is at least once: a crash between Publish and
// MarkAsSent republishes the message, so consumers de-duplicate on event_id.
//
// Message lifecycle:
//
//   PENDING --publish ok--> SENT
//      |
//      +--publish error--> retry_count+1, stays PENDING
//      |
//      +--retry budget spent--> FAILED --cooldown (OutboxCompensateJob)--> PENDING
//
// Messages are keyed by user id, so the hash partitioner keeps one user's
// events on one partition in commit order.
//
// ============================================================================

// OutboxSender relays PENDING outbox messages to the publisher. A message
// that keeps failing is parked as FAILED after maxRetryCount attempts.
type OutboxSender struct {
	outboxRepo    *repository.OutboxRepository
	publisher     mq.Publisher
	log           *zap.Logger
	stopCh        chan struct{}
	interval      time.Duration
	batchSize     int
	maxRetryCount int
}

type OutboxSenderOptions struct {
	Interval      time.Duration
	BatchSize     int
	MaxRetryCount int
}

func NewOutboxSender(db *gorm.DB, publisher mq.Publisher, log *zap.Logger, opts OutboxSenderOptions) *OutboxSender {
	if opts.Interval <= 0 {
		opts.Interval = 100 * time.Millisecond
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxRetryCount <= 0 {
		opts.MaxRetryCount = 5
	}
	return &OutboxSender{
		outboxRepo:    repository.NewOutboxRepository(db),
		publisher:     publisher,
		log:           log.Named("outbox_sender"),
		stopCh:        make(chan struct{}),
		interval:      opts.Interval,
		batchSize:     opts.BatchSize,
		maxRetryCount: opts.MaxRetryCount,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info("started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("context done, exiting")
			return
		case <-s.stopCh:
			s.log.Info("stopped")
			return
		case <-ticker.C:
			s.ProcessPending(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// ProcessPending sends one batch and returns how many messages were sent.
func (s *OutboxSender) ProcessPending(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.Error("load pending messages", zap.Error(err))
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.send(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) send(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.publisher.Publish(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		metrics.OutboxResult("sent")
		if err := s.outboxRepo.MarkAsSent(ctx, msg.ID); err != nil {
			s.log.Error("mark message sent", zap.Int64("id", msg.ID), zap.Error(err))
		}
		return true
	}

	metrics.OutboxResult("error")
	s.log.Warn("publish failed",
		zap.Int64("id", msg.ID),
		zap.String("topic", msg.Topic),
		zap.Int("retry_count", msg.RetryCount),
		zap.Error(err))

	if msg.RetryCount+1 >= s.maxRetryCount {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			s.log.Error("mark message failed", zap.Int64("id", msg.ID), zap.Error(err))
		} else {
			metrics.OutboxResult("failed")
			s.log.Error("message exceeded retry budget", zap.Int64("id", msg.ID))
		}
		return false
	}

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		s.log.Error("increment retry count", zap.Int64("id", msg.ID), zap.Error(err))
	}
	return false
}
