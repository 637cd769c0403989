package counters

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// mutation edits the decoded document in place and reports whether anything
// changed. Returning false ends the cycle without a write.
type mutation[R record[R]] func(document *aggregate[R], now time.Time) bool

// transact runs the optimistic read-modify-write cycle against one aggregate
// document: read (version, payload), mutate the decoded records, and write the
// whole array back only if the version is still the one that was read. A lost
// race re-reads the fresh row and re-applies the mutation, so concurrent
// callers never overwrite each other and a key is created at most once.
func transact[R record[R]](ctx context.Context, service *Service, operation string, name DocumentName, mutate mutation[R]) error {
	if service.db == nil {
		service.logError(operation, reasonMissingDatabase, errMissingDatabase)
		return newServiceError(operation, reasonMissingDatabase, errMissingDatabase)
	}
	if err := service.ensureAggregate(ctx, name); err != nil {
		service.logError(operation, reasonEnsureFailed, err, zap.String("document", name.String()))
		return newServiceError(operation, reasonEnsureFailed, err)
	}

	for attempt := 1; attempt <= service.maxAttempts; attempt++ {
		var document AggregateDocument
		err := service.db.WithContext(ctx).Where(queryName, name.String()).Take(&document).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			service.ensured.Delete(name)
			if err := service.ensureAggregate(ctx, name); err != nil {
				service.logError(operation, reasonEnsureFailed, err, zap.String("document", name.String()))
				return newServiceError(operation, reasonEnsureFailed, err)
			}
			continue
		}
		if err != nil {
			service.logError(operation, reasonSelectFailed, err, zap.String("document", name.String()))
			return newServiceError(operation, reasonSelectFailed, err)
		}

		records, err := decodeAggregate[R](document.Payload)
		if err != nil {
			service.logError(operation, reasonDecodeFailed, err, zap.String("document", name.String()))
			return newServiceError(operation, reasonDecodeFailed, err)
		}

		now := service.clock().UTC()
		if !mutate(records, now) {
			return nil
		}

		payload, err := records.encode()
		if err != nil {
			service.logError(operation, reasonEncodeFailed, err, zap.String("document", name.String()))
			return newServiceError(operation, reasonEncodeFailed, err)
		}

		result := service.db.WithContext(ctx).
			Model(&AggregateDocument{}).
			Where(queryNameVersion, name.String(), document.Version).
			UpdateColumns(map[string]any{
				columnPayload:   datatypes.JSON(payload),
				columnVersion:   document.Version + 1,
				columnUpdatedAt: now.Unix(),
			})
		if result.Error != nil {
			service.logError(operation, reasonUpdateFailed, result.Error, zap.String("document", name.String()))
			return newServiceError(operation, reasonUpdateFailed, result.Error)
		}
		if result.RowsAffected == 1 {
			service.observer.TransactionCommitted(name, attempt)
			return nil
		}

		service.observer.TransactionConflict(name)
		service.loggerOrDefault().Debug("aggregate version conflict",
			zap.String("operation", operation),
			zap.String("document", name.String()),
			zap.Int64("version", document.Version),
			zap.Int("attempt", attempt))
		if err := service.pause(ctx, attempt); err != nil {
			service.logError(operation, reasonUpdateFailed, err, zap.String("document", name.String()))
			return newServiceError(operation, reasonUpdateFailed, err)
		}
	}

	service.logError(operation, reasonContentionExhausted, ErrContention,
		zap.String("document", name.String()),
		zap.Int("attempts", service.maxAttempts))
	return newServiceError(operation, reasonContentionExhausted, ErrContention)
}

func (service *Service) pause(ctx context.Context, attempt int) error {
	limit := int64(service.retryPause) * int64(attempt)
	if limit <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(time.Duration(rand.Int64N(limit)))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
