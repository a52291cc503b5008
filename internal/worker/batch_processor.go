// Package worker holds the recurring batch processor that drains the import
// queue through the link engine.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/identity-import/internal/cron"
	"github.com/spec-kit/identity-import/internal/domain"
	"github.com/spec-kit/identity-import/internal/observability"
	"github.com/spec-kit/identity-import/internal/repository"
	"github.com/spec-kit/identity-import/internal/service"
	apperrors "github.com/spec-kit/identity-import/pkg/util/errorutil"
)

// TaskKey is the resource key the processor registers under.
const TaskKey = "ProcessBulkImportUsers"

const firingLockKey = "bulk-import:firing-lock:"

// BatchProcessorConfig bounds one firing.
type BatchProcessorConfig struct {
	App       domain.AppIdentifier
	BatchSize int
	Workers   int
	LockTTL   time.Duration
}

// BatchProcessor claims a bounded batch of NEW records on each firing and
// drives each through the link engine on a bounded worker pool. Records
// succeed (deleted from the queue), are logically rejected (FAILED with the
// error stored), or are left in PROCESSING when the attempt could not
// complete; retrying FAILED records is an operator decision, not ours.
type BatchProcessor struct {
	queue   repository.ImportQueueRepository
	engine  *service.LinkEngine
	locker  *redis.Client
	metrics *observability.Metrics
	logger  *zap.Logger
	cfg     BatchProcessorConfig
}

// NewBatchProcessor builds the processor. locker may be nil; without it the
// cross-instance firing lock is skipped.
func NewBatchProcessor(
	queue repository.ImportQueueRepository,
	engine *service.LinkEngine,
	locker *redis.Client,
	metrics *observability.Metrics,
	logger *zap.Logger,
	cfg BatchProcessorConfig,
) *BatchProcessor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	return &BatchProcessor{queue: queue, engine: engine, locker: locker, metrics: metrics, logger: logger, cfg: cfg}
}

// Task wraps the processor as a schedulable cron unit.
func (p *BatchProcessor) Task(initialDelay, interval time.Duration) cron.Task {
	return cron.Task{
		Key:          TaskKey,
		InitialDelay: initialDelay,
		Interval:     interval,
		Run:          p.Run,
	}
}

// Run executes one firing.
func (p *BatchProcessor) Run(ctx context.Context) error {
	release, ok, err := p.acquireFiringLock(ctx)
	if err != nil {
		return err
	}
	if !ok {
		p.logger.Debug("another processor instance holds the firing lock")
		return nil
	}
	defer release()

	claimed, err := p.queue.ClaimBatch(ctx, p.cfg.App, p.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(claimed) == 0 {
		return nil
	}

	var (
		mu        sync.Mutex
		processed int
		failed    int
	)

	jobs := make(chan domain.ImportUser)
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for user := range jobs {
				ok := p.processOne(ctx, user)
				mu.Lock()
				processed++
				if !ok {
					failed++
				}
				mu.Unlock()
			}
		}()
	}
	for _, user := range claimed {
		jobs <- user
	}
	close(jobs)
	wg.Wait()

	p.metrics.RecordFiring(processed, failed)
	p.logger.Info("bulk import firing finished",
		zap.String("appId", p.cfg.App.AppID),
		zap.Int("claimed", len(claimed)),
		zap.Int("processed", processed),
		zap.Int("failed", failed),
	)
	return nil
}

// processOne imports a single record; a failure here never aborts siblings.
func (p *BatchProcessor) processOne(ctx context.Context, user domain.ImportUser) bool {
	if !user.RawDataEquals(user.RawPayload) {
		// Stored payload does not round-trip; treat as an incomplete attempt
		// and leave the record in PROCESSING for operator inspection.
		p.logger.Error("stored raw payload does not match parsed record",
			zap.String("importUserId", user.ID),
		)
		return false
	}

	primaryID, err := p.engine.ImportUser(ctx, p.cfg.App, user)
	if err == nil {
		if err := p.queue.Delete(ctx, p.cfg.App, user.ID); err != nil {
			p.logger.Error("failed to remove imported record from queue",
				zap.String("importUserId", user.ID),
				zap.Error(err),
			)
			return false
		}
		p.logger.Debug("imported queued user",
			zap.String("importUserId", user.ID),
			zap.String("primaryAccountId", primaryID),
		)
		return true
	}

	if apperrors.IsDomainError(err) {
		message := err.Error()
		if updateErr := p.queue.UpdateStatus(ctx, p.cfg.App, user.ID, domain.ImportStatusFailed, &message); updateErr != nil {
			p.logger.Error("failed to mark record as FAILED",
				zap.String("importUserId", user.ID),
				zap.Error(updateErr),
			)
		}
		return false
	}

	// Transient storage error: the record stays in PROCESSING and is
	// reclaimable after an operator reset.
	p.logger.Warn("import attempt could not complete",
		zap.String("importUserId", user.ID),
		zap.Error(err),
	)
	return false
}

func (p *BatchProcessor) acquireFiringLock(ctx context.Context) (func(), bool, error) {
	if p.locker == nil {
		return func() {}, true, nil
	}

	key := firingLockKey + p.cfg.App.AppID
	ok, err := p.locker.SetNX(ctx, key, time.Now().UnixMilli(), p.cfg.LockTTL).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		if err := p.locker.Del(context.WithoutCancel(ctx), key).Err(); err != nil {
			p.logger.Warn("failed to release firing lock", zap.Error(err))
		}
	}, true, nil
}
