// Package counters owns the four analytics documents (views, pages, products,
// traffic) and every mutation applied to them.
package counters

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries a stable "<operation>.<reason>" code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the stable error code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew          = "counters.service.new"
	opTrackSiteView       = "counters.track_site_view"
	opAdjustRealtime      = "counters.adjust_realtime_users"
	opResetRealtime       = "counters.reset_realtime_users"
	opTrackPageView       = "counters.track_page_view"
	opTrackProductView    = "counters.track_product_view"
	opTrackProductEnquiry = "counters.track_product_enquiry"
	opTrackTraffic        = "counters.track_traffic"
	opSnapshot            = "counters.snapshot"

	reasonMissingDatabase     = "missing_database"
	reasonEnsureFailed        = "ensure_failed"
	reasonUpdateFailed        = "update_failed"
	reasonSelectFailed        = "select_failed"
	reasonDecodeFailed        = "decode_failed"
	reasonEncodeFailed        = "encode_failed"
	reasonInvalidSlug         = "invalid_slug"
	reasonInvalidDelta        = "invalid_delta"
	reasonContentionExhausted = "contention_exhausted"

	columnViews         = "views"
	columnUniqueViews   = "unique_views"
	columnRealtimeViews = "realtime_views"
	columnUpdatedAt     = "updated_at_s"
	columnPayload       = "payload"
	columnVersion       = "version"
	queryName           = "name = ?"
	queryNameVersion    = "name = ? AND version = ?"

	defaultMaxAttempts = 10
	defaultRetryPause  = 4 * time.Millisecond
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Observer receives counter store outcomes; the metrics package implements it.
type Observer interface {
	TransactionCommitted(document DocumentName, attempts int)
	TransactionConflict(document DocumentName)
	OperationFailed(operation string)
}

type noOpObserver struct{}

func (noOpObserver) TransactionCommitted(DocumentName, int) {}
func (noOpObserver) TransactionConflict(DocumentName)       {}
func (noOpObserver) OperationFailed(string)                 {}

// ServiceConfig describes the dependencies of the counter store.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
	Observer Observer
	// MaxAttempts bounds the optimistic read-modify-write cycle per call.
	MaxAttempts int
	// RetryPause is the upper bound of the jittered pause after the first
	// lost race; it grows linearly with the attempt number.
	RetryPause time.Duration
}

// Service is the counter store handle shared by every caller.
type Service struct {
	db          *gorm.DB
	clock       func() time.Time
	logger      *zap.Logger
	observer    Observer
	maxAttempts int
	retryPause  time.Duration
	ensured     sync.Map
}

// NewService validates the configuration and returns a counter store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	observer := cfg.Observer
	if observer == nil {
		observer = noOpObserver{}
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	retryPause := cfg.RetryPause
	if retryPause <= 0 {
		retryPause = defaultRetryPause
	}

	return &Service{
		db:          cfg.Database,
		clock:       clock,
		logger:      logger,
		observer:    observer,
		maxAttempts: maxAttempts,
		retryPause:  retryPause,
	}, nil
}

// TrackSiteView adds one to the total view count and, for a first-ever
// visit, one to the unique view count. Both columns move in one statement.
func (service *Service) TrackSiteView(ctx context.Context, isUnique bool) error {
	updates := map[string]any{
		columnViews: gorm.Expr(columnViews+" + ?", 1),
	}
	if isUnique {
		updates[columnUniqueViews] = gorm.Expr(columnUniqueViews+" + ?", 1)
	}
	return service.incrementViews(ctx, opTrackSiteView, updates)
}

// AdjustRealtimeUsers adds delta to the realtime gauge. The gauge may dip
// below zero transiently when a decrement overtakes its increment.
func (service *Service) AdjustRealtimeUsers(ctx context.Context, delta int64) error {
	if delta == 0 {
		service.logError(opAdjustRealtime, reasonInvalidDelta, ErrInvalidDelta)
		return newServiceError(opAdjustRealtime, reasonInvalidDelta, ErrInvalidDelta)
	}
	updates := map[string]any{
		columnRealtimeViews: gorm.Expr(columnRealtimeViews+" + ?", delta),
	}
	return service.incrementViews(ctx, opAdjustRealtime, updates)
}

// ResetRealtimeUsers zeroes the realtime gauge.
func (service *Service) ResetRealtimeUsers(ctx context.Context) error {
	return service.incrementViews(ctx, opResetRealtime, map[string]any{columnRealtimeViews: 0})
}

func (service *Service) incrementViews(ctx context.Context, operation string, updates map[string]any) error {
	if service.db == nil {
		service.logError(operation, reasonMissingDatabase, errMissingDatabase)
		return newServiceError(operation, reasonMissingDatabase, errMissingDatabase)
	}
	if err := service.ensureViews(ctx); err != nil {
		service.logError(operation, reasonEnsureFailed, err)
		return newServiceError(operation, reasonEnsureFailed, err)
	}

	updates[columnUpdatedAt] = service.clock().UTC().Unix()
	for attempt := 0; attempt < 2; attempt++ {
		result := service.db.WithContext(ctx).
			Model(&ViewsCounter{}).
			Where(queryName, DocumentViews.String()).
			UpdateColumns(updates)
		if result.Error != nil {
			service.logError(operation, reasonUpdateFailed, result.Error)
			return newServiceError(operation, reasonUpdateFailed, result.Error)
		}
		if result.RowsAffected > 0 {
			service.observer.TransactionCommitted(DocumentViews, attempt+1)
			return nil
		}
		// The row disappeared after it was ensured; create it again once.
		service.ensured.Delete(DocumentViews)
		if err := service.ensureViews(ctx); err != nil {
			service.logError(operation, reasonEnsureFailed, err)
			return newServiceError(operation, reasonEnsureFailed, err)
		}
	}
	service.logError(operation, reasonUpdateFailed, gorm.ErrRecordNotFound)
	return newServiceError(operation, reasonUpdateFailed, gorm.ErrRecordNotFound)
}

func (service *Service) ensureViews(ctx context.Context) error {
	if _, ok := service.ensured.Load(DocumentViews); ok {
		return nil
	}
	row := ViewsCounter{Name: DocumentViews.String()}
	if err := service.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return err
	}
	service.ensured.Store(DocumentViews, struct{}{})
	return nil
}

func (service *Service) ensureAggregate(ctx context.Context, name DocumentName) error {
	if _, ok := service.ensured.Load(name); ok {
		return nil
	}
	row := AggregateDocument{
		Name:    name.String(),
		Payload: datatypes.JSON("[]"),
	}
	if err := service.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return err
	}
	service.ensured.Store(name, struct{}{})
	return nil
}

// Snapshot reads all four documents. It is used by the admin dashboard only;
// tracking never reads counters back.
func (service *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	if service.db == nil {
		service.logError(opSnapshot, reasonMissingDatabase, errMissingDatabase)
		return Snapshot{}, newServiceError(opSnapshot, reasonMissingDatabase, errMissingDatabase)
	}

	var snapshot Snapshot
	err := service.db.WithContext(ctx).Where(queryName, DocumentViews.String()).Take(&snapshot.Views).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		service.logError(opSnapshot, reasonSelectFailed, err, zap.String("document", DocumentViews.String()))
		return Snapshot{}, newServiceError(opSnapshot, reasonSelectFailed, err)
	}

	if snapshot.Pages, err = loadAggregate[PageRecord](ctx, service, DocumentPages); err != nil {
		return Snapshot{}, err
	}
	if snapshot.Products, err = loadAggregate[ProductRecord](ctx, service, DocumentProducts); err != nil {
		return Snapshot{}, err
	}
	if snapshot.Traffic, err = loadAggregate[TrafficRecord](ctx, service, DocumentTraffic); err != nil {
		return Snapshot{}, err
	}
	return snapshot, nil
}

func loadAggregate[R record[R]](ctx context.Context, service *Service, name DocumentName) ([]R, error) {
	var document AggregateDocument
	err := service.db.WithContext(ctx).Where(queryName, name.String()).Take(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []R{}, nil
	}
	if err != nil {
		service.logError(opSnapshot, reasonSelectFailed, err, zap.String("document", name.String()))
		return nil, newServiceError(opSnapshot, reasonSelectFailed, err)
	}
	decoded, err := decodeAggregate[R](document.Payload)
	if err != nil {
		service.logError(opSnapshot, reasonDecodeFailed, err, zap.String("document", name.String()))
		return nil, newServiceError(opSnapshot, reasonDecodeFailed, err)
	}
	return decoded.snapshot(), nil
}

func (service *Service) loggerOrDefault() *zap.Logger {
	if service == nil {
		return noOpLogger
	}
	if service.logger == nil {
		return noOpLogger
	}
	return service.logger
}

func (service *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	if service != nil && service.observer != nil {
		service.observer.OperationFailed(operation)
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	service.loggerOrDefault().Error("counters service error", attrs...)
}
