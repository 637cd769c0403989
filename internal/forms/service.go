// Package forms stores contact and distributor submissions from the site.
package forms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a stable "<operation>.<reason>" code.
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

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew        = "forms.service.new"
	opSubmitContact     = "forms.submit_contact"
	opSubmitDistributor = "forms.submit_distributor"
	opListContacts      = "forms.list_contacts"
	opListDistributors  = "forms.list_distributors"

	reasonMissingDatabase   = "missing_database"
	reasonMissingIDProvider = "missing_id_provider"
	reasonInvalidInput      = "invalid_input"
	reasonIDFailed          = "id_failed"
	reasonInsertFailed      = "insert_failed"
	reasonSelectFailed      = "select_failed"

	defaultListLimit = 100
	maxListLimit     = 500
	orderNewestFirst = "created_at_s DESC, id DESC"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues submission identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the forms service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service persists form submissions.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, reasonMissingIDProvider, errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// SubmitContact validates and stores a contact form submission.
func (s *Service) SubmitContact(ctx context.Context, submission ContactSubmission) (ContactResponse, error) {
	response, err := submission.normalized()
	if err != nil {
		return ContactResponse{}, newServiceError(opSubmitContact, reasonInvalidInput, err)
	}
	if response.ID, err = s.idProvider.NewID(); err != nil {
		s.logError(opSubmitContact, reasonIDFailed, err)
		return ContactResponse{}, newServiceError(opSubmitContact, reasonIDFailed, err)
	}
	response.CreatedAtSeconds = s.clock().UTC().Unix()

	if err := s.db.WithContext(ctx).Create(&response).Error; err != nil {
		s.logError(opSubmitContact, reasonInsertFailed, err)
		return ContactResponse{}, newServiceError(opSubmitContact, reasonInsertFailed, err)
	}
	s.logger.Info("contact response stored", zap.String("id", response.ID))
	return response, nil
}

// SubmitDistributorApplication validates and stores a distributor application.
func (s *Service) SubmitDistributorApplication(ctx context.Context, submission DistributorSubmission) (DistributorApplication, error) {
	application, err := submission.normalized()
	if err != nil {
		return DistributorApplication{}, newServiceError(opSubmitDistributor, reasonInvalidInput, err)
	}
	if application.ID, err = s.idProvider.NewID(); err != nil {
		s.logError(opSubmitDistributor, reasonIDFailed, err)
		return DistributorApplication{}, newServiceError(opSubmitDistributor, reasonIDFailed, err)
	}
	application.CreatedAtSeconds = s.clock().UTC().Unix()

	if err := s.db.WithContext(ctx).Create(&application).Error; err != nil {
		s.logError(opSubmitDistributor, reasonInsertFailed, err)
		return DistributorApplication{}, newServiceError(opSubmitDistributor, reasonInsertFailed, err)
	}
	s.logger.Info("distributor application stored", zap.String("id", application.ID))
	return application, nil
}

// ListContactResponses returns submissions newest first. A non-positive limit
// uses the default page size.
func (s *Service) ListContactResponses(ctx context.Context, limit int) ([]ContactResponse, error) {
	var responses []ContactResponse
	if err := s.db.WithContext(ctx).Order(orderNewestFirst).Limit(clampLimit(limit)).Find(&responses).Error; err != nil {
		s.logError(opListContacts, reasonSelectFailed, err)
		return nil, newServiceError(opListContacts, reasonSelectFailed, err)
	}
	return responses, nil
}

// ListDistributorApplications returns applications newest first.
func (s *Service) ListDistributorApplications(ctx context.Context, limit int) ([]DistributorApplication, error) {
	var applications []DistributorApplication
	if err := s.db.WithContext(ctx).Order(orderNewestFirst).Limit(clampLimit(limit)).Find(&applications).Error; err != nil {
		s.logError(opListDistributors, reasonSelectFailed, err)
		return nil, newServiceError(opListDistributors, reasonSelectFailed, err)
	}
	return applications, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return min(limit, maxListLimit)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("forms service error", attrs...)
}
